package protocol

import (
	"errors"
	"fmt"

	"squidrid-ng/internal/geo"
)

var (
	ErrWrongCommand = errors.New("wrong command")
	ErrTooManyLegs  = errors.New("too many path legs")
)

func expect(f Frame, cmd string) error {
	if f.Command != cmd {
		return fmt.Errorf("protocol: %w: got $%s want $%s", ErrWrongCommand, f.Command, cmd)
	}
	return nil
}

// Version is the `$V|<n>` reply.
type Version struct {
	Version int `json:"version"`
}

func ParseVersion(f Frame) (Version, error) {
	if err := expect(f, CmdVersion); err != nil {
		return Version{}, err
	}
	r := fieldReader{f: f}
	v := Version{Version: r.integer(0, "version")}
	return v, r.err
}

func (v Version) Frame() Frame {
	return NewFrame(CmdVersion, formatInt(v.Version))
}

// Current is the `$C` position report emitted in sim mode.
type Current struct {
	Position     geo.Coordinate `json:"position"`
	Operator     geo.Coordinate `json:"operator"`
	AltM         int            `json:"alt_m"`
	OperatorAltM int            `json:"op_alt_m"`
	Speed        int            `json:"spd"`
	Heading      int            `json:"hdg"`
	Satellites   int            `json:"sats"`
	FlyMode      FlyMode        `json:"fly_mode"`
	PathMode     PathMode       `json:"path_mode"`
}

func ParseCurrent(f Frame) (Current, error) {
	if err := expect(f, CmdCurrent); err != nil {
		return Current{}, err
	}
	r := fieldReader{f: f}
	c := Current{
		Position:     r.coord(0, "position"),
		Operator:     r.coord(2, "operator"),
		AltM:         r.integer(4, "alt"),
		OperatorAltM: r.integer(5, "op_alt"),
		Speed:        r.integer(6, "spd"),
		Heading:      r.integer(7, "hdg"),
		Satellites:   r.integer(8, "sats"),
		FlyMode:      FlyMode(r.integer(9, "fly_mode")),
		PathMode:     PathMode(r.integer(10, "path_mode")),
	}
	return c, r.err
}

func (c Current) Frame() Frame {
	return NewFrame(CmdCurrent,
		formatFloat(c.Position.Lat), formatFloat(c.Position.Lon),
		formatFloat(c.Operator.Lat), formatFloat(c.Operator.Lon),
		formatInt(c.AltM), formatInt(c.OperatorAltM),
		formatInt(c.Speed), formatInt(c.Heading), formatInt(c.Satellites),
		formatInt(int(c.FlyMode)), formatInt(int(c.PathMode)),
	)
}

// Target is the `$T` report of an intercepted Remote-ID broadcast.
type Target struct {
	Position    geo.Coordinate `json:"position"`
	AltM        int            `json:"alt_m"`
	Speed       int            `json:"spd"`
	Heading     int            `json:"hdg"`
	MAC         string         `json:"mac"`
	RemoteID    string         `json:"rid"`
	Operator    string         `json:"operator"`
	Description string         `json:"description"`
	UAType      UAType         `json:"uatype"`
	IDType      IDType         `json:"idtype"`
	FlyMode     FlyMode        `json:"fly_mode"`
}

func ParseTarget(f Frame) (Target, error) {
	if err := expect(f, CmdTarget); err != nil {
		return Target{}, err
	}
	r := fieldReader{f: f}
	t := Target{
		Position:    r.coord(0, "position"),
		AltM:        r.integer(2, "alt"),
		Speed:       r.integer(3, "spd"),
		Heading:     r.integer(4, "hdg"),
		MAC:         r.str(5, "mac"),
		RemoteID:    r.str(6, "rid"),
		Operator:    r.str(7, "operator"),
		Description: r.str(8, "description"),
		UAType:      UAType(r.integer(9, "uatype")),
		IDType:      IDType(r.integer(10, "idtype")),
		FlyMode:     FlyMode(r.integer(11, "fly_mode")),
	}
	if r.err == nil && t.MAC == "" {
		r.fail(5, "mac", ErrMissingField)
	}
	return t, r.err
}

func (t Target) Frame() Frame {
	return NewFrame(CmdTarget,
		formatFloat(t.Position.Lat), formatFloat(t.Position.Lon),
		formatInt(t.AltM), formatInt(t.Speed), formatInt(t.Heading),
		t.MAC, formatText(t.RemoteID), formatText(t.Operator), formatText(t.Description),
		formatInt(int(t.UAType)), formatInt(int(t.IDType)), formatInt(int(t.FlyMode)),
	)
}

// External holds the optional external-source settings carried by newer
// firmware in `$D` and `$SD`.
type External struct {
	Protocol    int `json:"protocol"`
	Baud        int `json:"baud"`
	RXPin       int `json:"rx_pin"`
	TXPin       int `json:"tx_pin"`
	ShiftMode   int `json:"shift_mode"`
	ShiftRadius int `json:"shift_radius"`
	ShiftMin    int `json:"shift_min"`
	ShiftMax    int `json:"shift_max"`
}

const (
	profileFieldCount  = 19
	externalFieldCount = 8
)

// Profile is the device's stored identity and simulation setup.
type Profile struct {
	RemoteID     string         `json:"rid"`
	Operator     string         `json:"operator"`
	Description  string         `json:"description"`
	UAType       UAType         `json:"uatype"`
	IDType       IDType         `json:"idtype"`
	Origin       geo.Coordinate `json:"origin"`
	AltM         int            `json:"alt_m"`
	OperatorPos  geo.Coordinate `json:"operator_pos"`
	OperatorAltM int            `json:"op_alt_m"`
	Speed        int            `json:"spd"`
	Satellites   int            `json:"sats"`
	MAC          string         `json:"mac"`
	AppMode      AppMode        `json:"app_mode"`
	PestOrigin   geo.Coordinate `json:"pest_origin"`
	PestRadiusM  int            `json:"pest_radius_m"`
	PestSpawnSec int            `json:"pest_spawn_sec"`
	External     *External      `json:"external,omitempty"`
}

func readProfile(r *fieldReader, off int, withExternal bool) Profile {
	p := Profile{
		RemoteID:     r.str(off+0, "rid"),
		Operator:     r.str(off+1, "operator"),
		Description:  r.str(off+2, "description"),
		UAType:       UAType(r.integer(off+3, "uatype")),
		IDType:       IDType(r.integer(off+4, "idtype")),
		Origin:       r.coord(off+5, "origin"),
		AltM:         r.integer(off+7, "alt"),
		OperatorPos:  r.coord(off+8, "operator"),
		OperatorAltM: r.integer(off+10, "op_alt"),
		Speed:        r.integer(off+11, "spd"),
		Satellites:   r.integer(off+12, "sats"),
		MAC:          r.str(off+13, "mac"),
		AppMode:      AppMode(r.integer(off+14, "app_mode")),
		PestOrigin:   r.coord(off+15, "pest"),
		PestRadiusM:  r.integer(off+17, "pe_radius"),
		PestSpawnSec: r.integer(off+18, "pe_spawn"),
	}
	if withExternal {
		x := off + profileFieldCount
		p.External = &External{
			Protocol:    r.integer(x+0, "ext_protocol"),
			Baud:        r.integer(x+1, "ext_baud"),
			RXPin:       r.integer(x+2, "ext_rx_pin"),
			TXPin:       r.integer(x+3, "ext_tx_pin"),
			ShiftMode:   r.integer(x+4, "ext_shift_mode"),
			ShiftRadius: r.integer(x+5, "ext_shift_radius"),
			ShiftMin:    r.integer(x+6, "ext_shift_min"),
			ShiftMax:    r.integer(x+7, "ext_shift_max"),
		}
	}
	return p
}

func (p Profile) fields() []string {
	out := []string{
		formatText(p.RemoteID), formatText(p.Operator), formatText(p.Description),
		formatInt(int(p.UAType)), formatInt(int(p.IDType)),
		formatFloat(p.Origin.Lat), formatFloat(p.Origin.Lon), formatInt(p.AltM),
		formatFloat(p.OperatorPos.Lat), formatFloat(p.OperatorPos.Lon), formatInt(p.OperatorAltM),
		formatInt(p.Speed), formatInt(p.Satellites), formatText(p.MAC), formatInt(int(p.AppMode)),
		formatFloat(p.PestOrigin.Lat), formatFloat(p.PestOrigin.Lon),
		formatInt(p.PestRadiusM), formatInt(p.PestSpawnSec),
	}
	if x := p.External; x != nil {
		out = append(out,
			formatInt(x.Protocol), formatInt(x.Baud), formatInt(x.RXPin), formatInt(x.TXPin),
			formatInt(x.ShiftMode), formatInt(x.ShiftRadius), formatInt(x.ShiftMin), formatInt(x.ShiftMax),
		)
	}
	return out
}

// StoreFrame builds the `$SD` frame that writes p to the device.
func (p Profile) StoreFrame() Frame {
	return NewFrame(CmdStoreData, p.fields()...)
}

// ParseStoreData reads a `$SD` frame. The firmware ignores frames with fewer
// than 19 fields and reads external settings only when exactly 27 are present.
func ParseStoreData(f Frame) (Profile, error) {
	if err := expect(f, CmdStoreData); err != nil {
		return Profile{}, err
	}
	if len(f.Fields) < profileFieldCount {
		return Profile{}, &FieldError{Command: f.Command, Index: len(f.Fields), Name: "pe_spawn", Err: ErrMissingField}
	}
	r := fieldReader{f: f}
	p := readProfile(&r, 0, len(f.Fields) == profileFieldCount+externalFieldCount)
	return p, r.err
}

// Data is the `$D` reply: firmware version, stored profile and stored path.
//
// Path is the flattened heading/distance list exactly as reported; PathCount
// is the leg count the firmware claims.
type Data struct {
	Version   int     `json:"version"`
	Profile   Profile `json:"profile"`
	PathCount int     `json:"path_count"`
	Path      []int   `json:"path"`
}

// ParseData reads a `$D` frame. Older firmware omits the eight external
// fields, so the layout is chosen by where the path count agrees with the
// number of trailing values; the extended layout wins ties.
func ParseData(f Frame) (Data, error) {
	if err := expect(f, CmdData); err != nil {
		return Data{}, err
	}
	f = trimTrailingEmpty(f)

	legacyCount := 1 + profileFieldCount
	extendedCount := legacyCount + externalFieldCount
	if len(f.Fields) < legacyCount+1 {
		return Data{}, &FieldError{Command: f.Command, Index: len(f.Fields), Name: "path_count", Err: ErrMissingField}
	}

	var extended bool
	switch {
	case countMatches(f, extendedCount):
		extended = true
	case countMatches(f, legacyCount):
	default:
		extended = len(f.Fields) > extendedCount
	}

	r := fieldReader{f: f}
	d := Data{Version: r.integer(0, "version")}
	d.Profile = readProfile(&r, 1, extended)
	countIdx := legacyCount
	if extended {
		countIdx = extendedCount
	}
	d.PathCount = r.integer(countIdx, "path_count")
	d.Path = r.ints(countIdx+1, "path")
	return d, r.err
}

func countMatches(f Frame, idx int) bool {
	if idx >= len(f.Fields) {
		return false
	}
	r := fieldReader{f: f}
	n := r.integer(idx, "path_count")
	return r.err == nil && n >= 0 && len(f.Fields)-(idx+1) == 2*n
}

// Frame renders d the way the firmware does, including the trailing empty
// field after the path list.
func (d Data) Frame() Frame {
	fields := []string{formatInt(d.Version)}
	fields = append(fields, d.Profile.fields()...)
	fields = append(fields, formatInt(d.PathCount))
	for _, v := range d.Path {
		fields = append(fields, formatInt(v))
	}
	fields = append(fields, "")
	return NewFrame(CmdData, fields...)
}

// Mode is the flight control state sent with `$SM`.
type Mode struct {
	App   AppMode  `json:"app_mode"`
	Fly   FlyMode  `json:"fly_mode"`
	Path  PathMode `json:"path_mode"`
	Speed int      `json:"spd"`
	AltM  int      `json:"alt"`
}

// StoreMode is the `$SM` frame: modes plus the flattened path to follow.
//
// Waypoints is the number of user waypoints; Legs is the full closed loop
// and therefore normally holds Waypoints+1 legs.
type StoreMode struct {
	Mode
	Waypoints int
	Legs      []geo.Leg
}

func (m StoreMode) Frame() (Frame, error) {
	if len(m.Legs) > MaxPathLegs {
		return Frame{}, fmt.Errorf("protocol: %w: %d > %d", ErrTooManyLegs, len(m.Legs), MaxPathLegs)
	}
	fields := []string{
		formatInt(int(m.App)), formatInt(int(m.Fly)), formatInt(int(m.Path)),
		formatInt(m.Speed), formatInt(m.AltM), formatInt(m.Waypoints),
	}
	for _, v := range geo.Flatten(m.Legs) {
		fields = append(fields, formatInt(v))
	}
	return NewFrame(CmdStoreMode, fields...), nil
}

// ParseStoreMode reads a `$SM` frame. With lenient set, a trailing unpaired
// path value is dropped instead of rejected.
func ParseStoreMode(f Frame, lenient bool) (StoreMode, error) {
	if err := expect(f, CmdStoreMode); err != nil {
		return StoreMode{}, err
	}
	r := fieldReader{f: f}
	m := StoreMode{
		Mode: Mode{
			App:   AppMode(r.integer(0, "app_mode")),
			Fly:   FlyMode(r.integer(1, "fly_mode")),
			Path:  PathMode(r.integer(2, "path_mode")),
			Speed: r.integer(3, "spd"),
			AltM:  r.integer(4, "alt"),
		},
		Waypoints: r.integer(5, "path_count"),
	}
	flat := r.ints(6, "path")
	if r.err != nil {
		return StoreMode{}, r.err
	}
	if lenient {
		m.Legs = geo.InflateLenient(flat)
	} else {
		legs, err := geo.Inflate(flat)
		if err != nil {
			return StoreMode{}, fmt.Errorf("protocol: $%s path: %w", f.Command, err)
		}
		m.Legs = legs
	}
	if len(m.Legs) > MaxPathLegs {
		return StoreMode{}, fmt.Errorf("protocol: %w: %d > %d", ErrTooManyLegs, len(m.Legs), MaxPathLegs)
	}
	return m, nil
}
