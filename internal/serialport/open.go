package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial device at path. The returned serial.Port satisfies
// Port.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// List returns the serial device paths present on the host.
func List() ([]string, error) {
	return serial.GetPortsList()
}
