// Package serialport opens and configures the serial links used by
// rangefinder drivers. It wraps go.bug.st/serial behind a small interface so
// drivers can be tested without hardware.
package serialport

import (
	"errors"
	"io"
	"time"
)

// ErrReadTimeout is returned by TimeoutReader when the port's read timeout
// elapses without data.
var ErrReadTimeout = errors.New("serial read timed out")

// Port is the subset of go.bug.st/serial.Port that rangefinder drivers use.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long Read blocks before returning 0 bytes.
	SetReadTimeout(timeout time.Duration) error
	// SetDTR drives the DTR line; bridge boards gate the motor with it.
	SetDTR(dtr bool) error
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Opener opens a port at path with the given options.
type Opener func(path string, opts PortOptions) (Port, error)

// TimeoutReader adapts a Port whose Read returns (0, nil) on timeout into an
// io.Reader that reports ErrReadTimeout instead.
type TimeoutReader struct {
	R io.Reader
}

func (t TimeoutReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := t.R.Read(p)
	if n == 0 && err == nil {
		return 0, ErrReadTimeout
	}
	return n, err
}
