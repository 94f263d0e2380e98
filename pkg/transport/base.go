// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	"go.uber.org/atomic"
)

// Base bundles the bookkeeping every backend needs. Backends embed a *Base and get the
// lifecycle, receive callback and log location parts of the Transport interface.
type Base struct {
	*Guard

	conf Config

	recvMu sync.RWMutex
	recv   ReceiveFunc

	qlogName atomic.String
}

// NewBase for a Config.
func NewBase(conf Config) *Base {
	return &Base{
		Guard: NewGuard(),
		conf:  conf,
	}
}

// Config this Transport was built from.
func (b *Base) Config() Config {
	return b.conf
}

// OnReceived registers the callback for incoming payloads.
func (b *Base) OnReceived(fn ReceiveFunc) {
	b.recvMu.Lock()
	b.recv = fn
	b.recvMu.Unlock()
}

// Deliver passes a received payload to the registered callback. Payloads received
// without a registered callback are dropped.
func (b *Base) Deliver(payload []byte) {
	b.recvMu.RLock()
	fn := b.recv
	b.recvMu.RUnlock()

	if fn != nil {
		fn(payload)
	}
}

// QlogPath is the configured diagnostic log directory.
func (b *Base) QlogPath() string {
	return b.conf.QlogDir
}

// QlogFilename is the diagnostic log's file name, set by SetQlogFilename.
func (b *Base) QlogFilename() string {
	return b.qlogName.Load()
}

// SetQlogFilename records the diagnostic log's file name inside QlogPath.
func (b *Base) SetQlogFilename(name string) {
	b.qlogName.Store(name)
}
