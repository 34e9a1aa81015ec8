package acquisition

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/rangesweep/internal/rangefinder"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/testutil"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port.Port = "/dev/ttyTEST"
	cfg.ResyncSettle = 0
	return cfg
}

type harness struct {
	drv     *fakeDriver
	history *scan.History
	sd      *shutdown.Coordinator
	clock   *hookClock
	logs    *observer.ObservedLogs
	session *Session
}

func newHarness(cfg Config, drv *fakeDriver, capacity int) *harness {
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		drv:     drv,
		history: scan.NewHistory(capacity),
		sd:      shutdown.New(),
		clock:   &hookClock{MockClock: timeutil.NewMockClock(time.Unix(1700000000, 0))},
		logs:    logs,
	}
	h.session = NewSession(cfg, drv, h.history, h.sd,
		WithClock(h.clock),
		WithLogger(zap.New(core).Sugar()))
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.session.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func frameSeqs(s scan.Snapshot) []uint64 {
	out := make([]uint64, 0, len(s.Frames))
	for _, f := range s.Frames {
		out = append(out, f.Seq)
	}
	return out
}

func TestSession_CriticalConnectFaultsRetryWithBackoff(t *testing.T) {
	critical := rangefinder.Critical("open", errUnplugged)
	drv := &fakeDriver{openErrs: []error{critical, critical, critical}}
	h := newHarness(testConfig(), drv, 30)

	// frames from before the outage stay put
	h.history.Append(&scan.Frame{Seq: 100, Points: []scan.Point{{X: 1, DistanceMM: 1}}})
	h.history.Append(&scan.Frame{Seq: 101, Points: []scan.Point{{X: 2, DistanceMM: 2}}})

	h.clock.onWait = func(d time.Duration, n int) {
		assert.Equal(t, 2, h.history.Len(), "no frames may be appended while faulted")
		if n == 3 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	assert.Equal(t, 3, drv.count("open"))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, h.clock.Waits())
	assert.Equal(t, 2, h.history.Len())
	assert.Equal(t, uint64(2), h.history.Version())

	st := h.session.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, 3, st.CriticalFaults)
	assert.Equal(t, 3, st.ConsecutiveCritical)
	assert.Equal(t, 0, st.TransientFaults)
	assert.Equal(t, 3, st.ConnectAttempts)
	assert.Equal(t, uint64(0), st.FramesPublished)
}

func TestSession_CriticalFaultsEscalateLogSeverity(t *testing.T) {
	critical := errors.New("unclassified driver failure")
	drv := &fakeDriver{openErrs: []error{critical, critical, critical, critical}}
	h := newHarness(testConfig(), drv, 30)
	h.clock.onWait = func(d time.Duration, n int) {
		if n == 4 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	faults := h.logs.FilterMessage("rangefinder fault, reconnecting").All()
	require.Len(t, faults, 4)
	assert.Equal(t, zapcore.WarnLevel, faults[0].Level)
	assert.Equal(t, zapcore.WarnLevel, faults[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, faults[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, faults[3].Level)
}

func TestSession_ShutdownMidStream(t *testing.T) {
	drv := &fakeDriver{scripts: [][]scanResult{goodScans(50, 8)}}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 6 {
			// the sixth scan is in flight when shutdown arrives
			h.sd.Request("window closed")
		}
	}
	h.run(t)

	snap := h.history.Snapshot()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, frameSeqs(snap))
	assert.Equal(t, 6, drv.count("next"))
	assert.Equal(t, 1, drv.count("stop"))
	assert.Equal(t, 1, drv.count("close"))

	st := h.session.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, uint64(5), st.FramesPublished)
	assert.Equal(t, uint64(40), st.PointsPublished)
	assert.Equal(t, 0, st.CriticalFaults+st.TransientFaults)

	select {
	case <-h.session.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}

	// nothing is appended after the session stopped
	before := h.history.Version()
	h.session.Run()
	assert.Equal(t, before, h.history.Version())
}

func TestSession_ReadTimeoutDuringShutdownIsNotAFault(t *testing.T) {
	drv := &fakeDriver{scripts: [][]scanResult{goodScans(2, 4)}}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 3 {
			h.sd.Request("interrupt")
		}
	}
	h.run(t)

	st := h.session.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, 0, st.TransientFaults)
	assert.Equal(t, uint64(2), st.FramesPublished)
	assert.Empty(t, h.clock.Waits())
}

func TestSession_TransientFaultKeepsHistory(t *testing.T) {
	first := append(goodScans(10, 5), scanResult{err: rangefinder.Transient("next scan", rangefinder.ErrDesync)})
	drv := &fakeDriver{scripts: [][]scanResult{first, goodScans(3, 5)}}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 15 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	snap := h.history.Snapshot()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, frameSeqs(snap))
	assert.Equal(t, []time.Duration{time.Second}, h.clock.Waits())
	assert.Equal(t, 2, drv.count("open"))
	assert.Equal(t, 2, drv.count("resync"), "every connect resyncs")
	assert.Equal(t, 2, drv.count("stop"))

	st := h.session.Status()
	assert.Equal(t, 1, st.TransientFaults)
	assert.Equal(t, 0, st.CriticalFaults)

	desync := h.logs.FilterMessage("rangefinder desync, resyncing").All()
	require.Len(t, desync, 1)
	assert.Equal(t, zapcore.InfoLevel, desync[0].Level)
}

func TestSession_TransientFaultWithEviction(t *testing.T) {
	first := append(goodScans(10, 5), scanResult{err: rangefinder.Transient("next scan", rangefinder.ErrDesync)})
	drv := &fakeDriver{scripts: [][]scanResult{first, goodScans(4, 5)}}
	h := newHarness(testConfig(), drv, 12)
	drv.onScan = func(n int) {
		if n == 16 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	assert.Equal(t, []uint64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, frameSeqs(h.history.Snapshot()))
}

func TestSession_EmptyScansNotPublished(t *testing.T) {
	empty := scanResult{samples: []scan.RawSample{{AngleDeg: 1}, {AngleDeg: 2, DistanceMM: 0}}}
	drv := &fakeDriver{scripts: [][]scanResult{{empty, goodScan(3), empty}}}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 4 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	snap := h.history.Snapshot()
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(1), snap.Frames[0].Seq)
	assert.Len(t, snap.Frames[0].Points, 3)
	assert.Equal(t, h.clock.Now(), snap.Frames[0].CapturedAt)
}

func TestSession_TeardownFailuresSwallowed(t *testing.T) {
	drv := &fakeDriver{
		scripts:  [][]scanResult{{goodScan(2), {err: errUnplugged}}, goodScans(1, 2)},
		stopErr:  errors.New("stop failed"),
		closeErr: errors.New("close failed"),
	}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 4 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	assert.Equal(t, 2, drv.count("close"))
	st := h.session.Status()
	assert.Equal(t, 1, st.CriticalFaults)
	assert.Equal(t, uint64(2), st.FramesPublished)
	assert.Empty(t, st.Fault, "fault is cleared once streaming resumes")
	assert.NotEmpty(t, h.logs.FilterMessage("rangefinder teardown failed").All())
}

func TestSession_TeardownPanicSwallowed(t *testing.T) {
	drv := &fakeDriver{
		scripts:   [][]scanResult{{{err: errUnplugged}}},
		panicStop: true,
	}
	h := newHarness(testConfig(), drv, 30)
	h.clock.onWait = func(d time.Duration, n int) { h.sd.Request("test done") }
	h.run(t)

	assert.Equal(t, Stopped, h.session.Status().State)
	assert.NotEmpty(t, h.logs.FilterMessage("rangefinder teardown panicked").All())
}

func TestSession_HealthFaultAndWarning(t *testing.T) {
	drv := &fakeDriver{healthErr: rangefinder.Transient("health", errors.New("no reply"))}
	h := newHarness(testConfig(), drv, 30)
	h.clock.onWait = func(d time.Duration, n int) {
		if n == 2 {
			h.sd.Request("test done")
		}
	}
	h.run(t)
	assert.Equal(t, 0, drv.count("start"))
	assert.Equal(t, 2, h.session.Status().TransientFaults)

	drv = &fakeDriver{health: rangefinder.Health{Status: rangefinder.HealthWarning, Code: 7}}
	h = newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) { h.sd.Request("test done") }
	h.run(t)
	entries := h.logs.FilterMessage("rangefinder health").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "warning (code 7)", h.session.Status().Health)
}

func TestSession_ResyncSettleWaitsBeforeHealth(t *testing.T) {
	cfg := testConfig()
	cfg.ResyncSettle = 500 * time.Millisecond
	drv := &fakeDriver{scripts: [][]scanResult{goodScans(1, 1)}}
	h := newHarness(cfg, drv, 30)
	drv.onScan = func(n int) {
		if n == 2 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.clock.Waits())
	assert.Equal(t, []string{"open", "resync", "health", "start", "next", "next", "stop", "close"}, drv.Calls())
}

func TestSession_ShutdownBeforeRun(t *testing.T) {
	drv := &fakeDriver{}
	h := newHarness(testConfig(), drv, 30)
	h.sd.Request("early")
	h.run(t)

	assert.Empty(t, drv.Calls())
	assert.Equal(t, Stopped, h.session.Status().State)
}

func TestSession_BackoffInterruptedByShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.CriticalBackoff = time.Hour
	drv := &fakeDriver{openErrs: []error{errUnplugged}}
	sd := shutdown.New()
	s := NewSession(cfg, drv, scan.NewHistory(4), sd, WithLogger(zap.NewNop().Sugar()))

	go s.Run()
	require.Eventually(t, func() bool { return s.Status().State == Faulted }, time.Second, time.Millisecond)

	start := time.Now()
	sd.Request("test done")
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("backoff was not interrupted by shutdown")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Stopped, s.Status().State)
}

func TestSession_StatusRoute(t *testing.T) {
	drv := &fakeDriver{scripts: [][]scanResult{goodScans(2, 3)}}
	h := newHarness(testConfig(), drv, 30)
	drv.onScan = func(n int) {
		if n == 3 {
			h.sd.Request("test done")
		}
	}
	h.run(t)

	mux := http.NewServeMux()
	h.session.AttachAdminRoutes(mux)

	rec := testutil.ServeDebug(mux, http.MethodGet, "/debug/session")
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "stopped", got["state"])
	assert.Equal(t, float64(2), got["frames_published"])
	assert.NotEmpty(t, got["run_id"])

	rec = testutil.ServeDebug(mux, http.MethodPost, "/debug/session")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FaultTransient, Classify(rangefinder.Transient("x", rangefinder.ErrDesync)))
	assert.Equal(t, FaultCritical, Classify(rangefinder.Critical("x", errUnplugged)))
	assert.Equal(t, FaultCritical, Classify(errUnplugged))
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "critical", FaultCritical.String())
}
