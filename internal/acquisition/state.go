package acquisition

import (
	"fmt"

	"github.com/banshee-data/rangesweep/internal/rangefinder"
)

// State is the session lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Streaming
	Faulted
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Faulted:
		return "faulted"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FaultClass selects the recovery path after a failure.
type FaultClass int

const (
	// FaultTransient is a protocol desync: short backoff, then resync.
	FaultTransient FaultClass = iota
	// FaultCritical is anything else: long backoff, then full reconnect.
	FaultCritical
)

func (c FaultClass) String() string {
	if c == FaultTransient {
		return "transient"
	}
	return "critical"
}

// MarshalText renders the class name in JSON status output.
func (c FaultClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classify maps a device error to its recovery class using the tag supplied
// by the driver. Untagged errors are critical.
func Classify(err error) FaultClass {
	if rangefinder.KindOf(err) == rangefinder.KindTransient {
		return FaultTransient
	}
	return FaultCritical
}
