package rangefinder

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device closed")
	// ErrDesync reports a malformed or out-of-sequence message in the sample
	// stream.
	ErrDesync = errors.New("sample stream out of sync")
	// ErrNotStarted is returned by NextScan before Start.
	ErrNotStarted = errors.New("scan not started")
)

// Kind classifies driver errors by how the caller should recover.
type Kind int

const (
	// KindCritical faults need a full reconnect after a long backoff.
	// Untagged errors are critical.
	KindCritical Kind = iota
	// KindTransient faults are protocol hiccups cleared by a quick resync.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	default:
		return "critical"
	}
}

// DriverError tags a device failure with its Kind.
type DriverError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// Transient wraps err as a transient fault of op.
func Transient(op string, err error) error {
	return &DriverError{Kind: KindTransient, Op: op, Err: err}
}

// Critical wraps err as a critical fault of op.
func Critical(op string, err error) error {
	return &DriverError{Kind: KindCritical, Op: op, Err: err}
}

// KindOf returns the Kind of the first DriverError in err's chain, or
// KindCritical if there is none.
func KindOf(err error) Kind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindCritical
}
