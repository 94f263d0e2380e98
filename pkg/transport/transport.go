// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "context"

// ReceiveFunc is called by a Transport for each complete payload received from the peer.
//
// The function is invoked from the Transport's own goroutine. The payload is owned by
// the callee and will not be reused by the Transport.
type ReceiveFunc func(payload []byte)

// Transport is the uniform interface of every tunnel backend.
//
// SendStream and SendDatagram must only be called after Start has returned without an
// error. Calls after Stop return ErrNotRunning instead of touching torn down resources.
type Transport interface {
	// Start establishes the connection. An in Transport dials its destination, an out
	// Transport binds the destination port and waits for the first peer. Start blocks
	// until the handshake completes, fails or the context is done.
	Start(ctx context.Context) error

	// Stop closes the connection and releases all resources. Stop is idempotent.
	Stop() error

	// SendStream sends the payload reliably and preserves its boundary.
	SendStream(payload []byte) error

	// SendDatagram sends the payload unreliably as one message.
	SendDatagram(payload []byte) error

	// SetCongestionControl requests the named congestion control algorithm. It returns
	// false if the name is not part of the Capabilities or could not be applied.
	SetCongestionControl(name string) bool

	// QlogPath is the directory of this Transport's diagnostic log, or an empty string.
	QlogPath() string

	// QlogFilename is the file name of this Transport's diagnostic log inside QlogPath.
	// It might be empty until the connection is established.
	QlogFilename() string

	// OnReceived registers the callback for incoming payloads.
	OnReceived(fn ReceiveFunc)

	// Capabilities of this Transport's backend.
	Capabilities() Capabilities

	// Done is closed after Stop or when the connection died.
	Done() <-chan struct{}

	// Err returns the reason of a dead connection. It is nil for a regular Stop.
	Err() error
}
