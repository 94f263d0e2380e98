// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"net"
	"strconv"
	"time"

	"github.com/dtn7/quictun/pkg/bulk"
	"github.com/dtn7/quictun/pkg/transport"
)

// Options of a Session.
type Options struct {
	// Transport to be built for this Session.
	Transport transport.Config

	// UseDatagrams prefers datagrams over streams, if the backend supports them.
	UseDatagrams bool

	// CongestionControl is requested from the Transport, if not empty.
	CongestionControl string

	// ExternalFileTransfer starts a bulk transfer next to the tunnel.
	ExternalFileTransfer bool
	Bulk                 bulk.Config

	// LocalHost and LocalPort of the local UDP socket. A zero LocalPort picks a free port
	// on creation.
	LocalHost string
	LocalPort int

	// RelayAddr is the relay's address, "host:port". Only used by out Sessions.
	RelayAddr string

	// StartTimeout bounds the Transport's Start. Zero waits until Stop.
	StartTimeout time.Duration

	// ReadTimeout bounds a single blocking read of the local socket.
	ReadTimeout time.Duration
}

func (o Options) localAddress(port int) string {
	return net.JoinHostPort(o.LocalHost, strconv.Itoa(port))
}
