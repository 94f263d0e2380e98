// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import "github.com/quic-go/quic-go"

const (
	// NoError is sent when a tunnel is stopped regularly.
	NoError quic.ApplicationErrorCode = 0

	// LocalError designates errors that happen on this machine.
	LocalError quic.ApplicationErrorCode = 2

	// PeerError is sent when the peer misbehaved, e.g., opened an unexpected stream.
	PeerError quic.ApplicationErrorCode = 4

	// StreamTransmissionError cancels a stream which could not be written completely.
	StreamTransmissionError quic.StreamErrorCode = 2
)
