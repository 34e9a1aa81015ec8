package scan

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameN(seq uint64, n int) *Frame {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{X: float64(i), Y: float64(seq), DistanceMM: float64(i + 1)}
	}
	return &Frame{Seq: seq, Points: pts}
}

func seqs(s Snapshot) []uint64 {
	out := make([]uint64, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Seq
	}
	return out
}

func TestNewHistory_DefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistorySize, h.Capacity())
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Snapshot().Frames)
}

func TestHistory_EvictsOldestFirst(t *testing.T) {
	const n = 5
	h := NewHistory(n)
	for i := uint64(1); i <= n+1; i++ {
		h.Append(frameN(i, 3))
	}

	snap := h.Snapshot()
	require.Equal(t, n, snap.Len())
	if diff := cmp.Diff([]uint64{2, 3, 4, 5, 6}, seqs(snap)); diff != "" {
		t.Errorf("snapshot order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(n+1), snap.Version)
	assert.Equal(t, n, snap.Capacity)
}

func TestHistory_PartialFill(t *testing.T) {
	h := NewHistory(10)
	for i := uint64(1); i <= 3; i++ {
		h.Append(frameN(i, 1))
	}
	snap := h.Snapshot()
	assert.Equal(t, []uint64{1, 2, 3}, seqs(snap))
	assert.Equal(t, uint64(3), snap.Newest(0).Seq)
	assert.Equal(t, uint64(1), snap.Newest(2).Seq)
	assert.Nil(t, snap.Newest(3))
	assert.Nil(t, snap.Newest(-1))
}

func TestHistory_WrapsManyTimes(t *testing.T) {
	h := NewHistory(3)
	for i := uint64(1); i <= 100; i++ {
		h.Append(frameN(i, 1))
		assert.LessOrEqual(t, h.Len(), 3)
	}
	assert.Equal(t, []uint64{98, 99, 100}, seqs(h.Snapshot()))
	assert.Equal(t, uint64(100), h.Version())
}

func TestHistory_AppendNilIgnored(t *testing.T) {
	h := NewHistory(2)
	h.Append(nil)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, uint64(0), h.Version())
}

func TestHistory_SnapshotIndependent(t *testing.T) {
	h := NewHistory(2)
	h.Append(frameN(1, 1))
	snap := h.Snapshot()
	h.Append(frameN(2, 1))
	h.Append(frameN(3, 1))
	assert.Equal(t, []uint64{1}, seqs(snap))
	assert.Equal(t, []uint64{2, 3}, seqs(h.Snapshot()))
}

func TestHistory_ConcurrentSnapshotsSeeWholeFrames(t *testing.T) {
	const (
		capacity = 8
		frames   = 2000
		perFrame = 64
	)
	h := NewHistory(capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= frames; i++ {
			h.Append(frameN(i, perFrame))
		}
	}()

	done := make(chan struct{})
	var readErr error
	go func() {
		defer close(done)
		var last uint64
		for {
			snap := h.Snapshot()
			if snap.Len() > capacity {
				readErr = errLen(snap.Len())
				return
			}
			var prev uint64
			for _, f := range snap.Frames {
				if len(f.Points) != perFrame {
					readErr = errTorn(f.Seq)
					return
				}
				if prev != 0 && f.Seq != prev+1 {
					readErr = errOrder(prev, f.Seq)
					return
				}
				prev = f.Seq
			}
			if snap.Version < last {
				readErr = errOrder(last, snap.Version)
				return
			}
			last = snap.Version
			if snap.Version == frames {
				return
			}
		}
	}()

	wg.Wait()
	<-done
	require.NoError(t, readErr)
}
