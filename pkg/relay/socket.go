// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package relay provides the local UDP socket of a tunnel session.
//
// On the in side, the socket plays the relay for the local sender: it answers to the
// address of the latest received datagram. On the out side, it talks to the real relay
// at a fixed address.
package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"
)

const (
	// DefaultReadTimeout bounds each blocking read, so Close is noticed in time.
	DefaultReadTimeout = 5 * time.Second

	maxDatagramSize = 65535
)

var (
	// ErrClosed is returned by Recv after Close.
	ErrClosed = errors.New("relay socket closed")

	// ErrNoPeer is returned by SendBack before any datagram was received.
	ErrNoPeer = errors.New("no local peer known yet")
)

// Socket is a local UDP socket remembering its peer.
//
// Recv must be called from a single goroutine. SendBack, LastSender and Close are safe
// for concurrent use.
type Socket struct {
	conn        *net.UDPConn
	peer        *atomic.Pointer[net.UDPAddr]
	fixedPeer   bool
	readTimeout atomic.Duration
	closed      atomic.Bool
	buf         []byte
}

// Listen binds a Socket to the local address, e.g., ":3479". If peer is not nil, the
// Socket always sends to it. Otherwise it answers to the latest sender.
func Listen(local string, peer *net.UDPAddr) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:      conn,
		peer:      atomic.NewPointer(peer),
		fixedPeer: peer != nil,
		buf:       make([]byte, maxDatagramSize),
	}
	s.readTimeout.Store(DefaultReadTimeout)
	return s, nil
}

// SetReadTimeout changes the bound of a single blocking read.
func (s *Socket) SetReadTimeout(d time.Duration) {
	s.readTimeout.Store(d)
}

// LocalAddr of the bound socket.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Port of the bound socket.
func (s *Socket) Port() int {
	return s.LocalAddr().Port
}

// LastSender is the current peer, or nil.
func (s *Socket) LastSender() *net.UDPAddr {
	return s.peer.Load()
}

// Recv blocks until the next datagram arrives or the Socket gets closed. Read timeouts
// are handled internally.
func (s *Socket) Recv() ([]byte, error) {
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout.Load())); err != nil {
			return nil, s.closedOr(err)
		}

		n, addr, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, s.closedOr(err)
		}

		if !s.fixedPeer {
			s.peer.Store(addr)
		}

		payload := make([]byte, n)
		copy(payload, s.buf[:n])
		return payload, nil
	}
}

func (s *Socket) closedOr(err error) error {
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// SendBack writes the payload to the peer.
func (s *Socket) SendBack(payload []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	peer := s.peer.Load()
	if peer == nil {
		return ErrNoPeer
	}

	if _, err := s.conn.WriteToUDP(payload, peer); err != nil {
		return s.closedOr(fmt.Errorf("sending to %v failed: %w", peer, err))
	}
	return nil
}

// Close the Socket. A blocked Recv returns ErrClosed.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// FreePort returns a currently unused local UDP port.
func FreePort() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}
