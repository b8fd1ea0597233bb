package geo

import (
	"fmt"
	"io"

	kml "github.com/twpayne/go-kml"
	"github.com/twpayne/go-polyline"
)

// EncodePolyline renders path in Google's encoded polyline format.
func EncodePolyline(path []Coordinate) string {
	if len(path) == 0 {
		return ""
	}
	coords := make([][]float64, 0, len(path))
	for _, c := range path {
		coords = append(coords, []float64{c.Lat, c.Lon})
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline parses an encoded polyline. Precision is 1e-5 degrees.
func DecodePolyline(s string) ([]Coordinate, error) {
	if s == "" {
		return []Coordinate{}, nil
	}
	coords, rest, err := polyline.DecodeCoords([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("geo: decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("geo: decode polyline: %d trailing bytes", len(rest))
	}
	out := make([]Coordinate, 0, len(coords))
	for _, c := range coords {
		out = append(out, Coordinate{Lat: c[0], Lon: c[1]})
	}
	return out, nil
}

// WriteKML writes path as a single LineString placemark, plus one point
// placemark per waypoint carrying its outgoing leg.
func WriteKML(w io.Writer, name string, path []Coordinate) error {
	coords := make([]kml.Coordinate, 0, len(path))
	for _, c := range path {
		coords = append(coords, kml.Coordinate{Lon: c.Lon, Lat: c.Lat})
	}

	children := []kml.Element{
		kml.Name(name),
		kml.Placemark(
			kml.Name(name),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coords...),
			),
		),
	}
	for i, item := range Combine(path) {
		children = append(children, kml.Placemark(
			kml.Name(fmt.Sprintf("%d", i+1)),
			kml.Description(fmt.Sprintf("HDG %03d DST %dm", item.Leg.Heading, item.Leg.Distance)),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: item.Lon, Lat: item.Lat})),
		))
	}

	doc := kml.KML(kml.Document(children...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("geo: write kml: %w", err)
	}
	return nil
}
