// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	"go.uber.org/atomic"
)

// State of a Transport's lifecycle. A State never moves backwards.
type State uint32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Guard serializes a Transport's sends against its teardown.
//
// Sends are executed by Do while holding a read lock, so concurrent sends are possible.
// Close acquires the write lock and therefore waits for all in-flight sends. After Close,
// Do refuses to run its function.
type Guard struct {
	mu    sync.RWMutex
	state State

	failed   atomic.Bool
	errMu    sync.Mutex
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

// NewGuard in the created state.
func NewGuard() *Guard {
	return &Guard{
		state: StateCreated,
		done:  make(chan struct{}),
	}
}

// Activate switches into the running state. The commit function is executed under the
// write lock and should publish the established connection. If Close was already called,
// commit is skipped and ErrNotRunning is returned.
func (g *Guard) Activate(commit func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateCreated {
		return ErrNotRunning
	}
	if commit != nil {
		commit()
	}
	g.state = StateRunning
	return nil
}

// Do executes f if the Guard is running and the connection was not marked as failed.
func (g *Guard) Do(f func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state != StateRunning {
		return ErrNotRunning
	}
	if g.failed.Load() {
		return g.Err()
	}
	return f()
}

// Fail marks the connection as dead. The first cause is kept and Done gets closed.
// Fail may be called from within Do.
func (g *Guard) Fail(cause error) {
	if g.failed.CompareAndSwap(false, true) {
		g.errMu.Lock()
		g.err = cause
		g.errMu.Unlock()
	}
	g.finish()
}

// Close switches into the stopped state after all in-flight sends have returned. Only
// the first call returns true and should release the Transport's resources.
func (g *Guard) Close() bool {
	g.mu.Lock()
	first := g.state != StateStopped
	g.state = StateStopped
	g.mu.Unlock()

	g.finish()
	return first
}

func (g *Guard) finish() {
	g.doneOnce.Do(func() { close(g.done) })
}

// State returns the current State.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.state
}

// Done is closed after Close or Fail.
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

// Err is the cause passed to Fail, or nil.
func (g *Guard) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()

	return g.err
}
