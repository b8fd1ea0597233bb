// Package protocol implements the line-oriented command set spoken by the
// Remote-ID test firmware over its serial port.
//
// Every line is `$CMD` optionally followed by `|`-separated fields, e.g.
// `$SM|0|1|2|100|120|3|42|118|...`. Raw frames are parsed once at the
// transport boundary and turned into typed messages before any other code
// looks at them.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Commands sent to the device.
const (
	CmdVersion   = "V"
	CmdData      = "D"
	CmdReboot    = "R"
	CmdCurrent   = "C"
	CmdStoreData = "SD"
	CmdStoreMode = "SM"
)

// Commands only sent by the device.
const (
	CmdTarget  = "T"
	CmdAck     = "%"
	CmdUnknown = "-"
)

const (
	Prefix    = "$"
	Delimiter = "|"

	// MaxPathLegs is the size of the firmware's path table.
	MaxPathLegs = 32
)

var ErrNotAFrame = errors.New("not a frame")

// Frame is one command line split into its command and ordered fields.
type Frame struct {
	Command string
	Fields  []string
}

func NewFrame(cmd string, fields ...string) Frame {
	return Frame{Command: cmd, Fields: fields}
}

// String renders the frame as sent on the wire, without line terminator.
func (f Frame) String() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(f.Command)
	for _, v := range f.Fields {
		b.WriteString(Delimiter)
		b.WriteString(v)
	}
	return b.String()
}

// Parse splits a received line into a Frame. Surrounding whitespace
// (including the firmware's CRLF) is ignored.
func Parse(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return Frame{}, fmt.Errorf("protocol: %w: missing %q", ErrNotAFrame, Prefix)
	}
	parts := strings.Split(line[len(Prefix):], Delimiter)
	cmd := strings.TrimSpace(parts[0])
	if cmd == "" {
		return Frame{}, fmt.Errorf("protocol: %w: empty command", ErrNotAFrame)
	}
	return Frame{Command: cmd, Fields: parts[1:]}, nil
}

// FieldError reports a field that is missing or does not parse.
type FieldError struct {
	Command string
	Index   int
	Name    string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("protocol: $%s field %d (%s): %v", e.Command, e.Index, e.Name, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var ErrMissingField = errors.New("missing field")
