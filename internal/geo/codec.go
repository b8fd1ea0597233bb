package geo

import "fmt"

// Encode converts a path into one leg per consecutive pair of points.
//
// Heading and distance are truncated toward zero, not rounded: the device
// firmware decodes the same integers and the two ends must agree. Fewer than
// two points yield an empty slice.
func Encode(path []Coordinate) []Leg {
	if len(path) < 2 {
		return []Leg{}
	}
	legs := make([]Leg, 0, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		legs = append(legs, Leg{
			Heading:  int(InitialBearing(a, b)),
			Distance: int(Distance(a, b)),
		})
	}
	return legs
}

// EncodeChecked is Encode with every point validated first.
func EncodeChecked(path []Coordinate) ([]Leg, error) {
	for i, c := range path {
		if err := Validate(c); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	return Encode(path), nil
}

// Decode walks legs from start and returns every position reached, in order.
// start itself is not part of the result. Legs are not range-checked: a
// negative distance walks backwards along the heading and headings outside
// [0,360) wrap.
func Decode(start Coordinate, legs []Leg) []Coordinate {
	out := make([]Coordinate, 0, len(legs))
	cur := start
	for _, l := range legs {
		cur = Destination(cur, float64(l.Heading), float64(l.Distance))
		out = append(out, cur)
	}
	return out
}

// DecodeChecked is Decode with start and every leg validated first. Headings
// must lie in [0,360) and distances must not be negative.
func DecodeChecked(start Coordinate, legs []Leg) ([]Coordinate, error) {
	if err := Validate(start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	for i, l := range legs {
		if l.Heading < 0 || l.Heading >= 360 || l.Distance < 0 {
			return nil, fmt.Errorf("geo: %w: leg %d heading=%d distance=%d", ErrMalformedWireInput, i, l.Heading, l.Distance)
		}
	}
	return Decode(start, legs), nil
}

// Flatten interleaves legs as [h0, d0, h1, d1, ...].
func Flatten(legs []Leg) []int {
	out := make([]int, 0, 2*len(legs))
	for _, l := range legs {
		out = append(out, l.Heading, l.Distance)
	}
	return out
}

// Inflate splits a flattened path back into legs. An odd-length input is
// rejected with ErrMalformedWireInput.
func Inflate(flat []int) ([]Leg, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("geo: %w: odd length %d", ErrMalformedWireInput, len(flat))
	}
	return InflateLenient(flat), nil
}

// InflateLenient splits a flattened path into legs and drops a trailing
// unpaired value.
func InflateLenient(flat []int) []Leg {
	out := make([]Leg, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, Leg{Heading: flat[i], Distance: flat[i+1]})
	}
	return out
}

// Combine pairs every point except the last with its outgoing leg.
func Combine(path []Coordinate) []CombinedPathItem {
	legs := Encode(path)
	out := make([]CombinedPathItem, 0, len(legs))
	for i, l := range legs {
		out = append(out, CombinedPathItem{Coordinate: path[i], Leg: l})
	}
	return out
}

// OpenLoop reverses ClosedLoop on a decoded path: it drops the final point,
// which is the walk back to the origin. Paths of fewer than two points have
// no closing leg and come back empty.
func OpenLoop(decoded []Coordinate) []Coordinate {
	if len(decoded) < 2 {
		return []Coordinate{}
	}
	return append([]Coordinate{}, decoded[:len(decoded)-1]...)
}

// ClosedLoop returns [origin, waypoints..., origin], or an empty path when
// there are no waypoints.
func ClosedLoop(origin Coordinate, waypoints []Coordinate) []Coordinate {
	if len(waypoints) == 0 {
		return []Coordinate{}
	}
	out := make([]Coordinate, 0, len(waypoints)+2)
	out = append(out, origin)
	out = append(out, waypoints...)
	out = append(out, origin)
	return out
}
