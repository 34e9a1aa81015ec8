package acquisition

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/rangesweep/internal/rangefinder"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

var errUnplugged = errors.New("serial: device unplugged")

// scanResult is one scripted NextScan outcome.
type scanResult struct {
	samples []scan.RawSample
	err     error
}

// fakeDriver scripts device behaviour per Open call.
type fakeDriver struct {
	mu sync.Mutex

	// openErrs[i] is returned by the i-th Open; missing entries succeed.
	openErrs []error
	// scripts[i] lists NextScan results for the i-th successful device.
	// Once a script is exhausted NextScan returns a transient timeout.
	scripts [][]scanResult

	health    rangefinder.Health
	healthErr error
	stopErr   error
	closeErr  error
	panicStop bool

	// onScan is called before every NextScan with the total number of
	// NextScan calls so far (1-based).
	onScan func(n int)

	opens   int
	devices int
	scans   int
	calls   []string
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) count(call string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (d *fakeDriver) Open(cfg rangefinder.PortConfig) (rangefinder.Device, error) {
	d.record("open")
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.opens
	d.opens++
	if i < len(d.openErrs) && d.openErrs[i] != nil {
		return nil, d.openErrs[i]
	}
	var script []scanResult
	if d.devices < len(d.scripts) {
		script = d.scripts[d.devices]
	}
	d.devices++
	return &fakeDevice{drv: d, script: script}, nil
}

type fakeDevice struct {
	drv    *fakeDriver
	script []scanResult
	next   int
}

func (f *fakeDevice) Resync() error { f.drv.record("resync"); return nil }

func (f *fakeDevice) Health() (rangefinder.Health, error) {
	f.drv.record("health")
	return f.drv.health, f.drv.healthErr
}

func (f *fakeDevice) Start() error { f.drv.record("start"); return nil }

func (f *fakeDevice) NextScan() ([]scan.RawSample, error) {
	f.drv.record("next")
	f.drv.mu.Lock()
	f.drv.scans++
	n := f.drv.scans
	hook := f.drv.onScan
	f.drv.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if f.next >= len(f.script) {
		return nil, rangefinder.Transient("next scan", errors.New("read timed out"))
	}
	r := f.script[f.next]
	f.next++
	return r.samples, r.err
}

func (f *fakeDevice) Stop() error {
	f.drv.record("stop")
	if f.drv.panicStop {
		panic("stop exploded")
	}
	return f.drv.stopErr
}

func (f *fakeDevice) Close() error {
	f.drv.record("close")
	return f.drv.closeErr
}

// goodScan returns a scan with n valid samples.
func goodScan(n int) scanResult {
	samples := make([]scan.RawSample, n)
	for i := range samples {
		samples[i] = scan.RawSample{Quality: 47, AngleDeg: float64(i), DistanceMM: float64(1000 + i), StartFlag: i == 0}
	}
	return scanResult{samples: samples}
}

func goodScans(count, n int) []scanResult {
	out := make([]scanResult, count)
	for i := range out {
		out[i] = goodScan(n)
	}
	return out
}

// hookClock runs onWait after recording every wait on the mock clock.
type hookClock struct {
	*timeutil.MockClock
	onWait func(d time.Duration, n int)
}

func (c *hookClock) After(d time.Duration) <-chan time.Time {
	ch := c.MockClock.After(d)
	if c.onWait != nil {
		c.onWait(d, len(c.Waits()))
	}
	return ch
}
