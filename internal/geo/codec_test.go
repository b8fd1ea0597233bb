package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driftBound is the worst-case positional error after walking legs that were
// truncated to whole degrees and whole meters. Each leg contributes at most
// one degree of cross-track error over its length plus one meter of
// along-track error, and errors carry into the next leg.
func driftBound(legs []Leg, upTo int) float64 {
	var bound float64
	for i := 0; i <= upTo; i++ {
		bound += float64(legs[i].Distance+1)*toRadians(1) + 1
	}
	return bound * 1.5
}

func TestEncode_EquatorOneDegreeEast(t *testing.T) {
	legs := Encode([]Coordinate{{0, 0}, {0, 1}})
	require.Len(t, legs, 1)

	assert.InDelta(t, 90, legs[0].Heading, 1)
	// R=6371km: one degree of arc is 111194.93m, truncated.
	assert.Equal(t, 111194, legs[0].Distance)
}

func TestEncode_CardinalHeadings(t *testing.T) {
	origin := Coordinate{Lat: 45, Lon: 7}
	cases := []struct {
		name string
		to   Coordinate
		want float64
	}{
		{"North", Coordinate{Lat: 45.01, Lon: 7}, 0},
		{"South", Coordinate{Lat: 44.99, Lon: 7}, 180},
		{"West", Coordinate{Lat: 45, Lon: 6.99}, 270},
		{"East", Coordinate{Lat: 45, Lon: 7.01}, 90},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			legs := Encode([]Coordinate{origin, tc.to})
			require.Len(t, legs, 1)
			assert.InDelta(t, tc.want, legs[0].Heading, 1)
			assert.GreaterOrEqual(t, legs[0].Heading, 0)
			assert.Less(t, legs[0].Heading, 360)
		})
	}
}

func TestEncode_HeadingAlwaysNormalized(t *testing.T) {
	path := []Coordinate{
		{-33.86, 151.21}, {-33.87, 151.20}, {-33.85, 151.19},
		{-33.84, 151.22}, {-33.86, 151.21}, {51.5, -0.12}, {40.7, -74.0},
	}
	for i, l := range Encode(path) {
		assert.GreaterOrEqual(t, l.Heading, 0, "leg %d", i)
		assert.Less(t, l.Heading, 360, "leg %d", i)
		assert.GreaterOrEqual(t, l.Distance, 0, "leg %d", i)
	}
}

func TestEncode_Truncates(t *testing.T) {
	a := Coordinate{Lat: 10, Lon: 10}
	b := Coordinate{Lat: 10.01, Lon: 10.01}

	legs := Encode([]Coordinate{a, b})
	require.Len(t, legs, 1)
	assert.Equal(t, int(math.Floor(InitialBearing(a, b))), legs[0].Heading)
	assert.Equal(t, int(math.Floor(Distance(a, b))), legs[0].Distance)
}

func TestEncode_Degenerate(t *testing.T) {
	assert.Empty(t, Encode(nil))
	assert.Empty(t, Encode([]Coordinate{}))
	assert.Empty(t, Encode([]Coordinate{{1, 2}}))
	assert.NotNil(t, Encode(nil))
}

func TestEncode_LegCount(t *testing.T) {
	path := []Coordinate{{0, 0}, {0, 0.001}, {0.001, 0.001}, {0.001, 0}, {0, 0}}
	assert.Len(t, Encode(path), len(path)-1)
}

func TestEncodeChecked_RejectsNonFinite(t *testing.T) {
	_, err := EncodeChecked([]Coordinate{{0, 0}, {math.NaN(), 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCoordinate))
	assert.Contains(t, err.Error(), "point 1")

	_, err = EncodeChecked([]Coordinate{{0, 0}, {0, math.Inf(1)}})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = EncodeChecked([]Coordinate{{91, 0}, {0, 0}})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestDecode_EquatorOneDegreeEast(t *testing.T) {
	out := Decode(Coordinate{0, 0}, []Leg{{Heading: 90, Distance: 111320}})
	require.Len(t, out, 1)
	assert.InDelta(t, 0, out[0].Lat, 1e-9)
	assert.InDelta(t, 1, out[0].Lon, 0.01)
}

func TestDecode_ExcludesStartAndIsSequential(t *testing.T) {
	start := Coordinate{Lat: 48.1, Lon: 11.5}
	legs := []Leg{{0, 1000}, {90, 1000}, {180, 1000}, {270, 1000}}

	out := Decode(start, legs)
	require.Len(t, out, len(legs))

	// Each step starts where the previous one ended.
	prev := start
	for i, l := range legs {
		want := Destination(prev, float64(l.Heading), float64(l.Distance))
		assert.Equal(t, want, out[i], "leg %d", i)
		prev = out[i]
	}
	// A square closes up to within a few meters.
	assert.Less(t, Distance(start, out[len(out)-1]), 5.0)
}

func TestDecode_Degenerate(t *testing.T) {
	out := Decode(Coordinate{1, 2}, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDecodeChecked_RejectsBadStart(t *testing.T) {
	_, err := DecodeChecked(Coordinate{Lat: math.NaN()}, []Leg{{0, 1}})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	out, err := DecodeChecked(Coordinate{Lat: 1, Lon: 1}, []Leg{{0, 1}, {359, 0}})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDecodeChecked_RejectsBadLegs(t *testing.T) {
	start := Coordinate{Lat: 1, Lon: 1}
	for _, l := range []Leg{{-1, 10}, {360, 10}, {90, -5}} {
		_, err := DecodeChecked(start, []Leg{{0, 10}, l})
		assert.ErrorIs(t, err, ErrMalformedWireInput, "leg %+v", l)
		assert.Contains(t, err.Error(), "leg 1")
	}
}

func TestRoundTrip_WithinTruncationDrift(t *testing.T) {
	path := []Coordinate{{10, 10}, {10.01, 10.01}, {10.02, 10.0}}

	legs := Encode(path)
	flat := Flatten(legs)
	back, err := Inflate(flat)
	require.NoError(t, err)

	out := Decode(path[0], back)
	require.Len(t, out, len(path)-1)
	for i := range out {
		d := Distance(out[i], path[i+1])
		assert.LessOrEqual(t, d, driftBound(legs, i), "point %d drift", i+1)
	}
}

func TestRoundTrip_ShortLegsStayWithinMeters(t *testing.T) {
	// Legs heading due north/south have no heading truncation error.
	path := []Coordinate{{45, 7}, {45.0005, 7}, {45.0010, 7}, {45.0002, 7}}

	out := Decode(path[0], Encode(path))
	require.Len(t, out, 3)
	for i := range out {
		assert.LessOrEqual(t, Distance(out[i], path[i+1]), 2*float64(i+1), "point %d", i+1)
	}
}

func TestRoundTrip_ClosedLoop(t *testing.T) {
	origin := Coordinate{Lat: 34.05, Lon: -118.25}
	waypoints := []Coordinate{{34.052, -118.248}, {34.055, -118.252}, {34.049, -118.255}}

	loop := ClosedLoop(origin, waypoints)
	legs := Encode(loop)
	out := Decode(origin, legs)
	require.Len(t, out, len(loop)-1)
	for i := range out {
		assert.LessOrEqual(t, Distance(out[i], loop[i+1]), driftBound(legs, i), "point %d", i+1)
	}
}

func TestOpenLoop_UndoesClosedLoop(t *testing.T) {
	origin := Coordinate{Lat: 34.05, Lon: -118.25}
	waypoints := []Coordinate{{34.052, -118.248}, {34.055, -118.252}}

	legs := Encode(ClosedLoop(origin, waypoints))
	out := OpenLoop(Decode(origin, legs))
	require.Len(t, out, len(waypoints))
	for i := range out {
		assert.LessOrEqual(t, Distance(out[i], waypoints[i]), driftBound(legs, i), "waypoint %d", i)
	}

	assert.Empty(t, OpenLoop(nil))
	assert.Empty(t, OpenLoop([]Coordinate{origin}))
	assert.NotNil(t, OpenLoop(nil))
}

func TestFlattenInflate_Identity(t *testing.T) {
	legs := []Leg{{90, 100}, {180, 200}}

	flat := Flatten(legs)
	assert.Equal(t, []int{90, 100, 180, 200}, flat)

	back, err := Inflate(flat)
	require.NoError(t, err)
	assert.Equal(t, legs, back)
}

func TestFlatten_Length(t *testing.T) {
	for n := 0; n < 5; n++ {
		legs := make([]Leg, n)
		assert.Len(t, Flatten(legs), 2*n)
	}
}

func TestInflate_OddLength(t *testing.T) {
	_, err := Inflate([]int{90, 100, 180})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedWireInput)
	assert.Contains(t, err.Error(), "odd length 3")

	assert.Equal(t, []Leg{{90, 100}}, InflateLenient([]int{90, 100, 180}))
}

func TestInflateLenient_Length(t *testing.T) {
	for n := 0; n < 7; n++ {
		assert.Len(t, InflateLenient(make([]int, n)), n/2)
	}
}

func TestCombine(t *testing.T) {
	path := []Coordinate{{0, 0}, {0, 1}, {1, 1}}

	items := Combine(path)
	require.Len(t, items, 2)
	legs := Encode(path)
	for i, it := range items {
		assert.Equal(t, path[i], it.Coordinate)
		assert.Equal(t, legs[i], it.Leg)
	}

	assert.Empty(t, Combine(nil))
	assert.Empty(t, Combine(path[:1]))
}

func TestCombine_DoesNotMutateInput(t *testing.T) {
	path := []Coordinate{{1, 1}, {2, 2}, {3, 3}}
	cp := append([]Coordinate(nil), path...)
	_ = Combine(path)
	assert.Equal(t, cp, path)
}

func TestClosedLoop(t *testing.T) {
	o := Coordinate{1, 1}
	assert.Empty(t, ClosedLoop(o, nil))

	loop := ClosedLoop(o, []Coordinate{{2, 2}, {3, 3}})
	assert.Equal(t, []Coordinate{{1, 1}, {2, 2}, {3, 3}, {1, 1}}, loop)
}
