// Package shutdown provides the process-wide termination flag observed by the
// acquisition and render loops.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Coordinator is a one-way false to true flag. The zero value is not usable;
// create one with New and pass it to every loop that must observe it.
type Coordinator struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
	reason    atomic.Value // string
}

// New returns a Coordinator in the running state.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Request sets the flag. It reports whether this call was the one that set it;
// later calls are no-ops and keep the first reason.
func (c *Coordinator) Request(reason string) bool {
	first := false
	c.once.Do(func() {
		c.reason.Store(reason)
		c.requested.Store(true)
		close(c.done)
		first = true
	})
	return first
}

// Requested reports whether shutdown has been requested.
func (c *Coordinator) Requested() bool {
	return c.requested.Load()
}

// Reason returns the reason passed to the first Request call.
func (c *Coordinator) Reason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}

// Done returns a channel closed when shutdown is requested, for use in
// select statements around interruptible waits.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// NotifyOnSignal requests shutdown when any of sigs is received. The returned
// function stops signal delivery.
func (c *Coordinator) NotifyOnSignal(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			c.Request("signal: " + sig.String())
		case <-quit:
		case <-c.done:
		}
	}()
	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
