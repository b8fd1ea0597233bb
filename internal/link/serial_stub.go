//go:build !linux

package link

import (
	"fmt"
	"os"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial link not supported on this platform (use tcp://host:port)")
}
