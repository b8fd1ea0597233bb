// Package geo implements the spherical-earth geodesy used to move a flight
// path between the console and the device.
//
// A path is clicked as a list of coordinates, reduced to heading/distance legs
// (integers, truncated) for the narrow serial channel, and rebuilt on the other
// side by walking the legs from a known start.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusM is the mean earth radius used by both ends of the link.
const EarthRadiusM = 6371e3

var (
	// ErrMalformedWireInput is returned when a flattened path cannot be split
	// into heading/distance pairs or a leg is out of range.
	ErrMalformedWireInput = errors.New("malformed wire input")

	// ErrInvalidCoordinate is returned for NaN/Inf or out-of-range lat/lon.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// Leg is one step of a path: initial bearing in whole degrees [0,360) and
// great-circle distance in whole meters.
type Leg struct {
	Heading  int `json:"hdg"`
	Distance int `json:"dst"`
}

// CombinedPathItem joins a path point with the leg that departs from it.
// Used only for review lists.
type CombinedPathItem struct {
	Coordinate
	Leg Leg `json:"leg"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Validate reports whether c holds finite values within lat [-90,90] and
// lon [-180,180].
func Validate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return fmt.Errorf("geo: %w: non-finite value (%v, %v)", ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("geo: %w: latitude %v out of range", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("geo: %w: longitude %v out of range", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

func toRadians(deg float64) float64 { return deg * (math.Pi / 180) }
func toDegrees(rad float64) float64 { return rad * (180 / math.Pi) }

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b Coordinate) float64 {
	φ1 := toRadians(a.Lat)
	φ2 := toRadians(b.Lat)
	Δφ := toRadians(b.Lat - a.Lat)
	Δλ := toRadians(b.Lon - a.Lon)

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// InitialBearing returns the forward azimuth from a to b in degrees [0,360).
func InitialBearing(a, b Coordinate) float64 {
	φ1 := toRadians(a.Lat)
	φ2 := toRadians(b.Lat)
	Δλ := toRadians(b.Lon - a.Lon)

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	brg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	if brg >= 360 {
		brg = 0
	}
	return brg
}

// Destination returns the point reached by travelling distanceM meters from
// from on the initial bearing headingDeg.
//
// Longitude is not wrapped; callers that cross the antimeridian get values
// outside [-180,180].
func Destination(from Coordinate, headingDeg, distanceM float64) Coordinate {
	δ := distanceM / EarthRadiusM
	φ1 := toRadians(from.Lat)
	λ1 := toRadians(from.Lon)
	θ := toRadians(headingDeg)

	lat2 := toDegrees(math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ)))
	lon2 := toDegrees(λ1 + math.Atan2(
		math.Sin(θ)*math.Sin(δ)*math.Cos(φ1),
		math.Cos(δ)-math.Sin(φ1)*math.Sin(toRadians(lat2)),
	))
	return Coordinate{Lat: lat2, Lon: lon2}
}
