// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements the raw UDP passthrough Transport.
//
// Each payload is sent as one UDP datagram, without congestion control or reliability.
// The out endpoint answers to the address of the in endpoint's latest datagram.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/internal"
)

const (
	maxDatagramSize = 65535
	readTimeout     = 5 * time.Second
)

// ErrNoPeer is returned by an out Transport which has not yet received anything.
var ErrNoPeer = errors.New("no peer address known yet")

// Capabilities of the UDP backend.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Backend:   transport.UDP.String(),
		Datagrams: true,
		Streams:   false,
	}
}

// Transport over plain UDP.
type Transport struct {
	*transport.Base

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	conn  *net.UDPConn
	peer  *atomic.Pointer[net.UDPAddr]
	trace *internal.Trace

	sent     atomic.Uint64
	received atomic.Uint64
}

// New UDP Transport. The Config is expected to be valid.
func New(conf transport.Config) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		Base:   transport.NewBase(conf),
		ctx:    ctx,
		cancel: cancel,
		peer:   atomic.NewPointer[net.UDPAddr](nil),
	}
}

func (t *Transport) log() *log.Entry {
	return log.WithFields(log.Fields{
		"backend": transport.UDP,
		"role":    t.Config().Role,
		"address": t.Config().Address(),
	})
}

// Start binds the socket. An in Transport is connected to its destination.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	addr, err := net.ResolveUDPAddr("udp", t.Config().Address())
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	var conn *net.UDPConn
	if t.Config().Role == transport.RoleIn {
		var laddr *net.UDPAddr
		if t.Config().LocalPort != 0 {
			laddr = &net.UDPAddr{Port: t.Config().LocalPort}
		}
		conn, err = net.DialUDP("udp", laddr, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	trace, err := internal.OpenTrace(t.QlogPath(), "udp")
	if err != nil {
		_ = conn.Close()
		return transport.NewHandshakeError(t.Config(), err)
	}

	if err := t.Activate(func() {
		t.conn = conn
		t.trace = trace
	}); err != nil {
		_ = conn.Close()
		_ = trace.Close()
		return transport.NewHandshakeError(t.Config(), err)
	}
	t.SetQlogFilename(trace.Name)

	trace.WithFields(log.Fields{
		"local": conn.LocalAddr().String(),
		"role":  t.Config().Role.String(),
	}).Info("socket_bound")
	t.log().WithField("local", conn.LocalAddr()).Info("UDP socket bound")

	t.wg.Add(1)
	go t.read()

	return nil
}

func (t *Transport) read() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			} else if errors.Is(err, syscall.ECONNREFUSED) {
				// An ICMP port unreachable for an earlier datagram.
				continue
			} else if errors.Is(err, net.ErrClosed) {
				return
			}

			t.log().WithError(err).Warn("Reading UDP socket failed")
			continue
		}

		if t.Config().Role == transport.RoleOut {
			t.peer.Store(addr)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		t.received.Inc()
		t.Deliver(payload)
	}
}

// SendStream is not supported by UDP.
func (t *Transport) SendStream([]byte) error {
	return transport.ErrNotSupported
}

// SendDatagram sends the payload as a single UDP datagram.
func (t *Transport) SendDatagram(payload []byte) error {
	return t.Do(func() error {
		var err error
		if t.Config().Role == transport.RoleIn {
			_, err = t.conn.Write(payload)
		} else if peer := t.peer.Load(); peer != nil {
			_, err = t.conn.WriteToUDP(payload, peer)
		} else {
			err = ErrNoPeer
		}

		if err == nil {
			t.sent.Inc()
		}
		return err
	})
}

// SetCongestionControl always fails, UDP has no congestion control.
func (t *Transport) SetCongestionControl(string) bool {
	return false
}

// Capabilities of the UDP backend.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Stop closes the socket.
func (t *Transport) Stop() error {
	t.cancel()
	if !t.Close() {
		return nil
	}
	if t.conn == nil {
		return nil
	}

	t.trace.WithFields(log.Fields{
		"datagrams_sent":     t.sent.Load(),
		"datagrams_received": t.received.Load(),
	}).Info("socket_closed")

	err := t.conn.Close()
	t.wg.Wait()
	if traceErr := t.trace.Close(); err == nil {
		err = traceErr
	}

	t.log().Info("Stopped UDP transport")
	return err
}
