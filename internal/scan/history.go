package scan

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of frames kept when no capacity is given.
const DefaultHistorySize = 30

// Frame is one revolution (or partial revolution) of decoded points in
// acquisition order. A frame must not be modified after it is appended to a
// History.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Points     []Point
}

// History is a fixed-capacity FIFO of frames. Writers call Append; readers
// take a Snapshot. Both are safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	frames   []*Frame
	capacity int
	head     int // next write position
	size     int
	version  uint64
}

// NewHistory creates a history holding at most capacity frames.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
}

// Append stores f as the newest frame, evicting the oldest when full.
func (h *History) Append(f *Frame) {
	if f == nil {
		return
	}
	h.mu.Lock()
	h.frames[h.head] = f
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
	h.version++
	h.mu.Unlock()
}

// Snapshot is a point-in-time copy of a History.
type Snapshot struct {
	// Frames are ordered oldest to newest.
	Frames   []*Frame
	Capacity int
	// Version counts every frame ever appended to the history.
	Version uint64
}

// Len returns the number of frames in the snapshot.
func (s Snapshot) Len() int { return len(s.Frames) }

// Newest returns the frame age steps back from the most recent. Newest(0) is
// the latest frame. It returns nil if no such frame exists.
func (s Snapshot) Newest(age int) *Frame {
	if age < 0 || age >= len(s.Frames) {
		return nil
	}
	return s.Frames[len(s.Frames)-1-age]
}

// Snapshot copies the current contents, oldest to newest.
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := Snapshot{Capacity: h.capacity, Version: h.version}
	if h.size == 0 {
		return snap
	}
	snap.Frames = make([]*Frame, h.size)
	for i := 0; i < h.size; i++ {
		idx := (h.head - h.size + i + h.capacity) % h.capacity
		snap.Frames[i] = h.frames[idx]
	}
	return snap
}

// Len returns the current number of frames.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the fixed maximum number of frames.
func (h *History) Capacity() int {
	return h.capacity
}

// Version returns the number of frames appended since construction.
func (h *History) Version() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}
