// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session couples a Transport with a local UDP socket into a tunnel Session.
//
// Sessions are created by a Registry, which bounds the number of concurrent Sessions
// and identifies each by a small integer. A running Session forwards every datagram of
// its local socket into the Transport, either as a datagram or as a stream message, and
// writes everything received from the Transport back to the local peer.
package session
