package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestPort implements Port with scripted reads for driver tests. Reads on an
// empty buffer behave like a hardware read timeout and return (0, nil) unless
// BlockReads is set.
type TestPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call once the buffer is drained
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the last value passed to SetReadTimeout
	ReadTimeout time.Duration

	// DTR is the last value passed to SetDTR
	DTR bool

	// DTRHistory records every SetDTR call
	DTRHistory []bool

	// InputResets counts ResetInputBuffer calls
	InputResets int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestPort creates a TestPort with the given pending input.
func NewTestPort(input string) *TestPort {
	tp := &TestPort{
		ReadBuffer:  bytes.NewBufferString(input),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tp.readCond = sync.NewCond(&tp.mu)
	return tp
}

// Read returns buffered input, then ReadError, then (0, nil).
func (t *TestPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ReadBuffer.Len() > 0 {
		return t.ReadBuffer.Read(p)
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	return 0, nil
}

// Write appends p to WriteBuffer.
func (t *TestPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// SetReadTimeout records the timeout.
func (t *TestPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// SetDTR records the DTR level.
func (t *TestPort) SetDTR(dtr bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return ErrPortClosed
	}
	t.DTR = dtr
	t.DTRHistory = append(t.DTRHistory, dtr)
	return nil
}

// ResetInputBuffer discards pending input.
func (t *TestPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return ErrPortClosed
	}
	t.InputResets++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData queues more input and wakes a blocked reader.
func (t *TestPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.WriteString(data)
	t.readCond.Signal()
}

// Written returns everything written to the port so far.
func (t *TestPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}

// IsClosed reports whether Close was called.
func (t *TestPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}
