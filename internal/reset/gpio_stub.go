//go:build !linux || (!arm && !arm64)

package reset

import "fmt"

func openLine(pin int) (outputLine, error) {
	return nil, fmt.Errorf("reset: gpio unsupported on this platform")
}

var openLineFn = openLine
