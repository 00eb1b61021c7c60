package datasvc

import (
	"context"
	"sync"
	"time"
)

// debounceCall is one pending trailing execution shared by every caller
// that scheduled or superseded it. gen identifies the currently armed
// timer; a fire carrying an older generation lost a supersede race and
// must not execute.
type debounceCall struct {
	timer  *time.Timer
	gen    int
	action func() (any, error)
	done   chan struct{}
	result any
	err    error
}

// Debouncer collapses bursts of identical calls into one trailing
// execution per key. A new call for a key with a pending timer cancels
// that timer and schedules a fresh one with the new call's action, so the
// last call's parameters win. Every waiter receives the result of the
// single execution.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*debounceCall
	closed  bool
}

// NewDebouncer creates an empty debounce coordinator.
func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*debounceCall)}
}

// Call schedules action to run after delay, superseding any pending timer
// for the same key, and blocks until the trailing execution completes. The
// execution itself is owned by the timer: a caller whose context expires
// stops waiting but does not cancel the pending run. After Close every
// call fails immediately with a Shutdown error.
func (d *Debouncer) Call(ctx context.Context, key string, delay time.Duration, action func() (any, error)) (any, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, closedError(key)
	}
	call, exists := d.pending[key]
	if exists {
		// Supersede: keep the shared completion channel, replace the
		// action and restart the clock. Bumping the generation
		// invalidates a timer that already fired but has not run yet.
		call.timer.Stop()
		call.action = action
		call.gen++
		gen := call.gen
		call.timer = time.AfterFunc(delay, func() { d.fire(key, gen) })
	} else {
		call = &debounceCall{
			action: action,
			done:   make(chan struct{}),
		}
		call.timer = time.AfterFunc(delay, func() { d.fire(key, 0) })
		d.pending[key] = call
	}
	d.mu.Unlock()

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Superseded reports whether a pending timer exists for key. Used by the
// facade for metrics only.
func (d *Debouncer) Superseded(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.pending[key]
	return exists
}

func (d *Debouncer) fire(key string, gen int) {
	d.mu.Lock()
	call, exists := d.pending[key]
	if !exists || call.gen != gen {
		// Either Close drained the entry or a superseding call re-armed
		// the timer after this one fired; the newer timer owns the run.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	action := call.action
	d.mu.Unlock()

	call.result, call.err = action()
	close(call.done)
}

// Close cancels all pending timers and fails their waiters with a
// Shutdown error. No action runs after Close, and later calls fail
// immediately.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	drained := d.pending
	d.pending = make(map[string]*debounceCall)
	d.mu.Unlock()

	for key, call := range drained {
		call.timer.Stop()
		call.err = closedError(key)
		close(call.done)
	}
}

// PendingLen returns the number of keys with a pending timer.
func (d *Debouncer) PendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func closedError(key string) error {
	return &Error{
		Type:      ErrorTypeShutdown,
		Feature:   key,
		Message:   "service closed while a debounced call was pending",
		Timestamp: time.Now(),
	}
}
