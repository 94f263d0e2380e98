// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"strings"
)

// Backend is one of the supported wire-level transports.
type Backend uint

const (
	// QuicGo is raw QUIC, provided by quic-go.
	QuicGo Backend = iota

	// WebTransport is QUIC through an HTTP/3 WebTransport session.
	WebTransport

	// KCP is the KCP ARQ protocol over UDP with smux stream multiplexing.
	KCP

	// TCP is the length-prefixed TCP fallback.
	TCP

	// UDP is the raw UDP passthrough.
	UDP
)

// Backends lists all Backends in their canonical order.
var Backends = []Backend{QuicGo, WebTransport, KCP, TCP, UDP}

var backendNames = map[Backend]string{
	QuicGo:       "quic-go",
	WebTransport: "webtransport",
	KCP:          "kcp",
	TCP:          "tcp",
	UDP:          "udp",
}

// ParseBackend looks up a Backend by its name, case-insensitive.
func ParseBackend(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for b, n := range backendNames {
		if n == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// CheckValid returns an error for unknown Backend values.
func (b Backend) CheckValid() error {
	if _, ok := backendNames[b]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBackend, uint(b))
	}
	return nil
}

func (b Backend) String() string {
	if n, ok := backendNames[b]; ok {
		return n
	}
	return fmt.Sprintf("unknown backend %d", uint(b))
}

// Role tells which side of the tunnel a Transport belongs to.
type Role uint

const (
	// RoleIn is the tunnel endpoint next to the sender. It dials the out endpoint.
	RoleIn Role = iota

	// RoleOut is the tunnel endpoint next to the relay. It accepts one in endpoint.
	RoleOut
)

// ParseRole parses "in" or "out".
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "in", "client":
		return RoleIn, nil
	case "out", "server":
		return RoleOut, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

func (r Role) String() string {
	switch r {
	case RoleIn:
		return "in"
	case RoleOut:
		return "out"
	default:
		return fmt.Sprintf("unknown role %d", uint(r))
	}
}
