package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squidrid-ng/internal/geo"
)

func mustParse(t *testing.T, line string) Frame {
	t.Helper()
	f, err := Parse(line)
	require.NoError(t, err)
	return f
}

func TestParse(t *testing.T) {
	f := mustParse(t, "$C|1.5|2.5\r\n")
	assert.Equal(t, "C", f.Command)
	assert.Equal(t, []string{"1.5", "2.5"}, f.Fields)

	f = mustParse(t, "  $%  ")
	assert.Equal(t, CmdAck, f.Command)
	assert.Empty(t, f.Fields)

	f = mustParse(t, "$SM|0|1")
	assert.Equal(t, CmdStoreMode, f.Command)

	for _, bad := range []string{"", "hello", "$", "$|1|2", "C|1"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrNotAFrame, "input %q", bad)
	}
}

func TestFrameString(t *testing.T) {
	assert.Equal(t, "$V", NewFrame(CmdVersion).String())
	assert.Equal(t, "$SM|0|1|2", NewFrame(CmdStoreMode, "0", "1", "2").String())

	f := NewFrame(CmdStoreMode, "0", "1", "2")
	assert.Equal(t, f, mustParse(t, f.String()))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion(mustParse(t, "$V|1008"))
	require.NoError(t, err)
	assert.Equal(t, 1008, v.Version)

	_, err = ParseVersion(mustParse(t, "$C|1"))
	assert.ErrorIs(t, err, ErrWrongCommand)
}

func TestParseCurrent_FirmwareLine(t *testing.T) {
	line := "$C|47.600000|-122.300000|47.601000|-122.301000|120.000000|100.000000|15|270|8|1|2\r\n"
	c, err := ParseCurrent(mustParse(t, line))
	require.NoError(t, err)

	assert.Equal(t, geo.Coordinate{Lat: 47.6, Lon: -122.3}, c.Position)
	assert.Equal(t, geo.Coordinate{Lat: 47.601, Lon: -122.301}, c.Operator)
	assert.Equal(t, 120, c.AltM)
	assert.Equal(t, 100, c.OperatorAltM)
	assert.Equal(t, 15, c.Speed)
	assert.Equal(t, 270, c.Heading)
	assert.Equal(t, 8, c.Satellites)
	assert.Equal(t, FlyModeFly, c.FlyMode)
	assert.Equal(t, PathModeFollow, c.PathMode)

	back, err := ParseCurrent(c.Frame())
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestParseCurrent_BadFields(t *testing.T) {
	_, err := ParseCurrent(mustParse(t, "$C|abc|1|0|0|0|0|0|0|0|0|0"))
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.Index)
	assert.Equal(t, "position_lat", fe.Name)

	_, err = ParseCurrent(mustParse(t, "$C|nan|1|0|0|0|0|0|0|0|0|0"))
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = ParseCurrent(mustParse(t, "$C|95|1|0|0|0|0|0|0|0|0|0"))
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = ParseCurrent(mustParse(t, "$C|1|1"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParseTarget(t *testing.T) {
	line := "$T|40.000000|-75.000000|85.000000|12|45|AA:BB:CC:DD:EE:FF|N123|BOB|SURVEY|2|1|1"
	tg, err := ParseTarget(mustParse(t, line))
	require.NoError(t, err)

	assert.Equal(t, geo.Coordinate{Lat: 40, Lon: -75}, tg.Position)
	assert.Equal(t, 85, tg.AltM)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", tg.MAC)
	assert.Equal(t, "N123", tg.RemoteID)
	assert.Equal(t, "BOB", tg.Operator)
	assert.Equal(t, "SURVEY", tg.Description)
	assert.Equal(t, UATypeHelicopterOrMultirotor, tg.UAType)
	assert.Equal(t, IDTypeSerialNumber, tg.IDType)
	assert.Equal(t, FlyModeFly, tg.FlyMode)

	_, err = ParseTarget(mustParse(t, "$T|40|-75|85|12|45||N123|BOB|SURVEY|2|1|1"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func sampleProfile() Profile {
	return Profile{
		RemoteID:     "SN-1",
		Operator:     "ALICE",
		Description:  "TEST",
		UAType:       UATypeAeroplane,
		IDType:       IDTypeSerialNumber,
		Origin:       geo.Coordinate{Lat: 47.6, Lon: -122.3},
		AltM:         120,
		OperatorPos:  geo.Coordinate{Lat: 47.601, Lon: -122.301},
		OperatorAltM: 100,
		Speed:        15,
		Satellites:   8,
		MAC:          "02:00:00:00:00:01",
		AppMode:      AppModeSim,
		PestOrigin:   geo.Coordinate{Lat: 47.5, Lon: -122.2},
		PestRadiusM:  1000,
		PestSpawnSec: 10,
	}
}

func TestParseData_Legacy(t *testing.T) {
	d := Data{Version: 1008, Profile: sampleProfile(), PathCount: 2, Path: []int{90, 100, 270, 100}}
	line := d.Frame().String() + "\r\n"
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "|270|100|"))

	got, err := ParseData(mustParse(t, line))
	require.NoError(t, err)
	assert.Equal(t, d, got)
	assert.Nil(t, got.Profile.External)
}

func TestParseData_Extended(t *testing.T) {
	p := sampleProfile()
	p.External = &External{Protocol: 1, Baud: 9600, RXPin: 16, TXPin: 17, ShiftMode: 2, ShiftRadius: 50, ShiftMin: 1, ShiftMax: 5}
	d := Data{Version: 1008, Profile: p, PathCount: 3, Path: []int{0, 10, 90, 10, 225, 14}}

	got, err := ParseData(mustParse(t, d.Frame().String()))
	require.NoError(t, err)
	assert.Equal(t, d, got)
	require.NotNil(t, got.Profile.External)
	assert.Equal(t, 9600, got.Profile.External.Baud)
}

func TestParseData_EmptyPath(t *testing.T) {
	d := Data{Version: 1008, Profile: sampleProfile(), PathCount: 0, Path: []int{}}
	got, err := ParseData(mustParse(t, d.Frame().String()))
	require.NoError(t, err)
	assert.Equal(t, 0, got.PathCount)
	assert.Empty(t, got.Path)
}

func TestParseData_FirmwareFloatPath(t *testing.T) {
	// Path values come from %g.
	d := Data{Version: 1008, Profile: sampleProfile(), PathCount: 1}
	f := d.Frame()
	f.Fields = f.Fields[:len(f.Fields)-2]
	f.Fields = append(f.Fields, "1", "45", "1e+06", "")

	got, err := ParseData(f)
	require.NoError(t, err)
	assert.Equal(t, []int{45, 1000000}, got.Path)
}

func TestParseData_TooShort(t *testing.T) {
	_, err := ParseData(mustParse(t, "$D|1008|A|B"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestStoreData_RoundTrip(t *testing.T) {
	p := sampleProfile()
	p.Operator = "alice"
	p.Description = ""

	f := p.StoreFrame()
	assert.Equal(t, CmdStoreData, f.Command)
	require.Len(t, f.Fields, 19)
	assert.Equal(t, "ALICE", f.Fields[1])
	assert.Equal(t, " ", f.Fields[2])

	got, err := ParseStoreData(mustParse(t, f.String()))
	require.NoError(t, err)
	p.Operator = "ALICE"
	assert.Equal(t, p, got)

	p.External = &External{Protocol: 2, Baud: 115200}
	f = p.StoreFrame()
	require.Len(t, f.Fields, 27)
	got, err = ParseStoreData(f)
	require.NoError(t, err)
	assert.Equal(t, p.External, got.External)

	_, err = ParseStoreData(NewFrame(CmdStoreData, "A", "B"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestStoreMode_FirmwareExample(t *testing.T) {
	f := mustParse(t, "$SM|0|0|2|0|0|6|179|213|91|320|10|250|342|231|271|386|161|270")
	m, err := ParseStoreMode(f, false)
	require.NoError(t, err)

	assert.Equal(t, AppModeSim, m.App)
	assert.Equal(t, FlyModePause, m.Fly)
	assert.Equal(t, PathModeFollow, m.Path)
	assert.Equal(t, 6, m.Waypoints)
	require.Len(t, m.Legs, 6)
	assert.Equal(t, geo.Leg{Heading: 179, Distance: 213}, m.Legs[0])
	assert.Equal(t, geo.Leg{Heading: 161, Distance: 270}, m.Legs[5])

	out, err := m.Frame()
	require.NoError(t, err)
	assert.Equal(t, f.String(), out.String())
}

func TestStoreMode_OddPath(t *testing.T) {
	f := mustParse(t, "$SM|0|1|2|10|100|2|90|100|180")

	_, err := ParseStoreMode(f, false)
	assert.ErrorIs(t, err, geo.ErrMalformedWireInput)

	m, err := ParseStoreMode(f, true)
	require.NoError(t, err)
	assert.Equal(t, []geo.Leg{{Heading: 90, Distance: 100}}, m.Legs)
}

func TestStoreMode_TooManyLegs(t *testing.T) {
	m := StoreMode{Legs: make([]geo.Leg, MaxPathLegs+1)}
	_, err := m.Frame()
	assert.ErrorIs(t, err, ErrTooManyLegs)

	m.Legs = m.Legs[:MaxPathLegs]
	_, err = m.Frame()
	assert.NoError(t, err)
}

func TestStoreMode_NoPath(t *testing.T) {
	m := StoreMode{Mode: Mode{App: AppModeSim, Fly: FlyModeFly, Path: PathModeHold, Speed: 50, AltM: 100}}
	f, err := m.Frame()
	require.NoError(t, err)
	assert.Equal(t, "$SM|0|1|0|50|100|0", f.String())

	back, err := ParseStoreMode(f, false)
	require.NoError(t, err)
	assert.Empty(t, back.Legs)
}

func TestFormatText(t *testing.T) {
	assert.Equal(t, " ", formatText(""))
	assert.Equal(t, " ", formatText("   "))
	assert.Equal(t, "AB C", formatText("ab|c"))
}

func TestRadiusForStep(t *testing.T) {
	assert.Equal(t, 500, RadiusForStep(1))
	assert.Equal(t, 10000, RadiusForStep(6))
	assert.Equal(t, MinRadiusM, RadiusForStep(0))
	assert.Equal(t, MinRadiusM, RadiusForStep(7))
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "pest", AppModePest.String())
	assert.Equal(t, "follow", PathModeFollow.String())
	assert.Equal(t, "GLIDER", UATypeGlider.String())
	assert.Equal(t, "IDTYPE(9)", IDType(9).String())

	opts := UATypeOptions()
	require.Len(t, opts, 16)
	assert.Equal(t, 0, opts[0].Value)
	assert.Equal(t, "OTHER", opts[15].Label)
}
