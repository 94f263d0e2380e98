// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcp implements the TCP fallback Transport.
//
// TCP offers no message boundaries. Each payload is therefore framed with the framing
// package's four digit length prefix. Datagrams are not supported. The congestion
// control algorithm is selected per socket on Linux.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/framing"
	"github.com/dtn7/quictun/pkg/transport/internal"
)

const (
	readBufferSize = 4096

	// writeTimeout bounds a single framed write to a peer which stopped reading.
	writeTimeout = 10 * time.Second
)

// Capabilities of the TCP backend. The algorithms depend on the operating system.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Backend:           transport.TCP.String(),
		Datagrams:         false,
		Streams:           true,
		CongestionControl: append([]string(nil), congestionControls...),
	}
}

// Transport over a single framed TCP connection.
type Transport struct {
	*transport.Base

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ccMu   sync.Mutex
	cc     string
	ccConn *net.TCPConn

	conn    *net.TCPConn
	writeMu sync.Mutex
	trace   *internal.Trace

	sent     atomic.Uint64
	received atomic.Uint64
}

// New TCP Transport. The Config is expected to be valid.
func New(conf transport.Config) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		Base:   transport.NewBase(conf),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Transport) log() *log.Entry {
	return log.WithFields(log.Fields{
		"backend": transport.TCP,
		"role":    t.Config().Role,
		"address": t.Config().Address(),
	})
}

// Start connects to the out endpoint or accepts exactly one in endpoint.
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	trace, err := internal.OpenTrace(t.QlogPath(), "tcp")
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	var conn *net.TCPConn
	if t.Config().Role == transport.RoleIn {
		conn, err = t.dial(ctx)
	} else {
		conn, err = t.accept(ctx)
	}
	if err != nil {
		_ = trace.Close()
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

	// Stop interrupts a blocked write before waiting for in-flight sends.
	context.AfterFunc(t.ctx, func() { _ = conn.SetWriteDeadline(time.Now()) })

	t.ccMu.Lock()
	if t.cc != "" {
		if err := setCongestionControl(conn, t.cc); err != nil {
			t.log().WithError(err).WithField("cc", t.cc).Warn("Failed to apply congestion control")
			t.cc = ""
		}
	}
	t.ccConn = conn
	t.ccMu.Unlock()

	cc, _ := congestionControl(conn)
	trace.WithFields(log.Fields{
		"local":  conn.LocalAddr().String(),
		"remote": conn.RemoteAddr().String(),
		"role":   t.Config().Role.String(),
		"cc":     cc,
	}).Info("connection_started")
	t.log().WithField("remote", conn.RemoteAddr()).Info("TCP connection established")

	t.wg.Add(1)
	go t.read()

	return nil
}

func (t *Transport) dial(ctx context.Context) (*net.TCPConn, error) {
	dialer := newDialer()
	if t.Config().LocalPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: t.Config().LocalPort}
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.Config().Address())
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func (t *Transport) accept(ctx context.Context) (*net.TCPConn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.Config().Address())
	if err != nil {
		return nil, err
	}
	defer func() { _ = ln.Close() }()

	t.log().Debug("Waiting for an incoming TCP connection")

	stopClose := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopClose()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	tcpConn := conn.(*net.TCPConn)
	if err := tuneAccepted(tcpConn); err != nil {
		t.log().WithError(err).Warn("Failed to set keepalive options")
	}
	return tcpConn, nil
}

func (t *Transport) read() {
	defer t.wg.Done()

	dec := framing.NewDecoder()
	deliver := func(payload []byte) {
		t.received.Inc()
		t.Deliver(payload)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			if feedErr := dec.Feed(buf[:n], deliver); feedErr != nil {
				t.log().WithError(feedErr).Warn("Dropping TCP connection with malformed framing")
				_ = t.conn.Close()
				t.Fail(transport.ConnectionLost(feedErr))
				return
			}
		}

		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.log().WithError(err).Info("TCP connection closed")
				t.Fail(transport.ConnectionLost(err))
			}
			return
		}
	}
}

// SendStream writes the framed payload. A failed or timed out write breaks the
// connection, unless it was interrupted by Stop.
func (t *Transport) SendStream(payload []byte) error {
	return t.Do(func() error {
		frame, err := framing.Encode(payload)
		if err != nil {
			return err
		}

		t.writeMu.Lock()
		defer t.writeMu.Unlock()

		if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return transport.ConnectionLost(err)
		}
		if t.ctx.Err() != nil {
			return transport.ErrNotRunning
		}

		if _, err := t.conn.Write(frame); err != nil {
			if t.ctx.Err() != nil {
				return transport.ErrNotRunning
			}
			err = transport.ConnectionLost(err)
			t.Fail(err)
			return err
		}
		t.sent.Inc()
		return nil
	})
}

// SendDatagram is not supported by TCP.
func (t *Transport) SendDatagram([]byte) error {
	return transport.ErrNotSupported
}

// SetCongestionControl selects the socket's congestion control. Before Start, the name
// is only checked against the Capabilities and applied later on.
func (t *Transport) SetCongestionControl(name string) bool {
	if !Capabilities().SupportsCongestionControl(name) {
		return false
	}

	t.ccMu.Lock()
	defer t.ccMu.Unlock()

	if t.ccConn != nil {
		if err := setCongestionControl(t.ccConn, name); err != nil {
			t.log().WithError(err).WithField("cc", name).Warn("Failed to apply congestion control")
			return false
		}
	}
	t.cc = name
	return true
}

// Capabilities of the TCP backend.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Stop closes the TCP connection.
func (t *Transport) Stop() error {
	t.cancel()
	if !t.Close() {
		return nil
	}
	if t.conn == nil {
		return nil
	}

	t.trace.WithFields(log.Fields{
		"messages_sent":     t.sent.Load(),
		"messages_received": t.received.Load(),
	}).Info("connection_closed")

	var errs error
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierror.Append(errs, fmt.Errorf("closing connection failed: %w", err))
	}
	t.wg.Wait()

	if err := t.trace.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	t.log().Info("Stopped TCP transport")
	return errs
}
