package protocol

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"squidrid-ng/internal/geo"
)

// fieldReader pulls typed values out of a frame and keeps the first error.
type fieldReader struct {
	f   Frame
	err error
}

func (r *fieldReader) fail(i int, name string, err error) {
	if r.err == nil {
		r.err = &FieldError{Command: r.f.Command, Index: i, Name: name, Err: err}
	}
}

func (r *fieldReader) raw(i int, name string) (string, bool) {
	if i < 0 || i >= len(r.f.Fields) {
		r.fail(i, name, ErrMissingField)
		return "", false
	}
	return strings.TrimSpace(r.f.Fields[i]), true
}

func (r *fieldReader) str(i int, name string) string {
	s, _ := r.raw(i, name)
	return s
}

// decimal parses a decimal field. Empty fields read as zero, like the firmware.
func (r *fieldReader) decimal(i int, name string) float64 {
	s, ok := r.raw(i, name)
	if !ok || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(i, name, err)
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		r.fail(i, name, geo.ErrInvalidCoordinate)
		return 0
	}
	return v
}

// integer parses an integer field. The firmware prints some integer quantities
// with %f or %g, so fractional input is accepted and truncated.
func (r *fieldReader) integer(i int, name string) int {
	s, ok := r.raw(i, name)
	if !ok || s == "" {
		return 0
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		if err == nil {
			err = strconv.ErrRange
		}
		r.fail(i, name, err)
		return 0
	}
	return int(v)
}

func (r *fieldReader) coord(latIdx int, name string) geo.Coordinate {
	c := geo.Coordinate{
		Lat: r.decimal(latIdx, name+"_lat"),
		Lon: r.decimal(latIdx+1, name+"_lng"),
	}
	if r.err != nil {
		return c
	}
	if err := geo.Validate(c); err != nil {
		r.fail(latIdx, name, err)
	}
	return c
}

func (r *fieldReader) ints(from int, name string) []int {
	if from >= len(r.f.Fields) {
		return []int{}
	}
	out := make([]int, 0, len(r.f.Fields)-from)
	for i := from; i < len(r.f.Fields); i++ {
		out = append(out, r.integer(i, name))
	}
	return out
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func formatInt(v int) string       { return strconv.Itoa(v) }

// formatText upper-cases a profile string. The firmware tokenizer cannot
// carry empty fields, so empty values are sent as a single space.
func formatText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return " "
	}
	return cases.Upper(language.Und).String(strings.ReplaceAll(s, Delimiter, " "))
}

// trimTrailingEmpty drops the empty field produced by a `|`-terminated list.
func trimTrailingEmpty(f Frame) Frame {
	if n := len(f.Fields); n > 0 && strings.TrimSpace(f.Fields[n-1]) == "" {
		f.Fields = f.Fields[:n-1]
	}
	return f
}
