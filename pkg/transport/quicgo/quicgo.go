// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicgo implements a Transport over raw QUIC using quic-go.
//
// Datagrams are sent as QUIC DATAGRAM frames. Each stream message is sent on its own
// unidirectional stream, which preserves the message boundary without extra framing.
package quicgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/internal"
)

const (
	alpn = "quictun"

	// maxDatagramSize is the largest payload sent as a datagram. Larger payloads are
	// sent on a stream instead.
	maxDatagramSize = 1200

	// maxMessageSize limits the bytes read from one incoming stream.
	maxMessageSize = 1 << 16
)

// Capabilities of the quic-go backend. quic-go implements a single congestion controller.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Backend:           transport.QuicGo.String(),
		Datagrams:         true,
		Streams:           true,
		CongestionControl: []string{"cubic"},
	}
}

// Transport over quic-go.
type Transport struct {
	*transport.Base

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	conn     quic.Connection
	listener *quic.Listener
	pconn    net.PacketConn
}

// New quic-go Transport. The Config is expected to be valid.
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
		"backend": transport.QuicGo,
		"role":    t.Config().Role,
		"address": t.Config().Address(),
	})
}

func (t *Transport) quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:      time.Second,
		MaxIdleTimeout:       10 * time.Second,
		HandshakeIdleTimeout: 5 * time.Second,
		EnableDatagrams:      true,
		Tracer:               internal.QlogTracer(t.QlogPath(), t.SetQlogFilename),
	}
}

// Start dials or accepts the QUIC connection, depending on the Role.
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	var (
		conn     quic.Connection
		listener *quic.Listener
		pconn    net.PacketConn
		err      error
	)
	if t.Config().Role == transport.RoleIn {
		conn, pconn, err = t.dial(ctx)
	} else {
		listener, conn, err = t.listen(ctx)
	}
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	if err := t.Activate(func() {
		t.conn = conn
		t.listener = listener
		t.pconn = pconn
	}); err != nil {
		_ = conn.CloseWithError(internal.LocalError, "transport stopped during handshake")
		if listener != nil {
			_ = listener.Close()
		}
		if pconn != nil {
			_ = pconn.Close()
		}
		return transport.NewHandshakeError(t.Config(), err)
	}

	t.log().WithFields(log.Fields{
		"local":  conn.LocalAddr(),
		"remote": conn.RemoteAddr(),
	}).Info("QUIC connection established")

	t.wg.Add(3)
	go t.receiveDatagrams()
	go t.acceptStreams()
	go t.watchConnection()

	return nil
}

func (t *Transport) dial(ctx context.Context) (quic.Connection, net.PacketConn, error) {
	tlsConf := internal.GenerateDialerTLSConfig(alpn)

	if t.Config().LocalPort == 0 {
		conn, err := quic.DialAddr(ctx, t.Config().Address(), tlsConf, t.quicConfig())
		return conn, nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", t.Config().Address())
	if err != nil {
		return nil, nil, err
	}
	pconn, err := net.ListenPacket("udp", t.Config().LocalAddress())
	if err != nil {
		return nil, nil, err
	}

	conn, err := quic.Dial(ctx, pconn, raddr, tlsConf, t.quicConfig())
	if err != nil {
		_ = pconn.Close()
		return nil, nil, err
	}
	return conn, pconn, nil
}

func (t *Transport) listen(ctx context.Context) (*quic.Listener, quic.Connection, error) {
	tlsConf, err := internal.GenerateListenerTLSConfig(alpn)
	if err != nil {
		return nil, nil, err
	}

	listener, err := quic.ListenAddr(t.Config().Address(), tlsConf, t.quicConfig())
	if err != nil {
		return nil, nil, err
	}

	t.log().Debug("Waiting for an incoming QUIC connection")

	// The listener owns the UDP socket and stays open for the connection's lifetime.
	conn, err := listener.Accept(ctx)
	if err != nil {
		_ = listener.Close()
		return nil, nil, err
	}
	return listener, conn, nil
}

func (t *Transport) receiveDatagrams() {
	defer t.wg.Done()

	for {
		payload, err := t.conn.ReceiveDatagram(t.ctx)
		if err != nil {
			t.log().WithError(err).Debug("Datagram receiver stopped")
			return
		}

		t.Deliver(payload)
	}
}

func (t *Transport) acceptStreams() {
	defer t.wg.Done()

	for {
		stream, err := t.conn.AcceptUniStream(t.ctx)
		if err != nil {
			t.log().WithError(err).Debug("Stream acceptor stopped")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(stream, maxMessageSize))
		if err != nil {
			t.log().WithError(err).WithField("stream", stream.StreamID()).Warn("Reading stream failed")
			continue
		}

		t.Deliver(payload)
	}
}

func (t *Transport) watchConnection() {
	defer t.wg.Done()

	select {
	case <-t.ctx.Done():
	case <-t.conn.Context().Done():
		cause := context.Cause(t.conn.Context())
		t.log().WithError(cause).Info("QUIC connection closed")
		t.Fail(transport.ConnectionLost(cause))
	}
}

func (t *Transport) sendStream(payload []byte) error {
	stream, err := t.conn.OpenUniStreamSync(t.ctx)
	if err != nil {
		if t.ctx.Err() != nil {
			return transport.ErrNotRunning
		}
		return fmt.Errorf("opening stream failed: %w", err)
	}

	// Stop interrupts a write blocked by flow control.
	stopInterrupt := context.AfterFunc(t.ctx, func() { _ = stream.SetWriteDeadline(time.Now()) })
	defer stopInterrupt()

	if _, err := stream.Write(payload); err != nil {
		stream.CancelWrite(internal.StreamTransmissionError)
		if t.ctx.Err() != nil {
			return transport.ErrNotRunning
		}
		return fmt.Errorf("writing stream failed: %w", err)
	}
	return stream.Close()
}

// SendStream sends the payload on a new unidirectional stream.
func (t *Transport) SendStream(payload []byte) error {
	return t.Do(func() error {
		return t.sendStream(payload)
	})
}

// SendDatagram sends the payload as a DATAGRAM frame. Payloads exceeding the datagram
// size are sent on a stream.
func (t *Transport) SendDatagram(payload []byte) error {
	return t.Do(func() error {
		if len(payload) > maxDatagramSize {
			return t.sendStream(payload)
		}

		err := t.conn.SendDatagram(payload)
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return t.sendStream(payload)
		}
		return err
	})
}

// SetCongestionControl accepts only the algorithm built into quic-go.
func (t *Transport) SetCongestionControl(name string) bool {
	return Capabilities().SupportsCongestionControl(name)
}

// Capabilities of the quic-go backend.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Stop closes the QUIC connection.
func (t *Transport) Stop() error {
	t.cancel()
	if !t.Close() {
		return nil
	}

	var errs error
	if t.conn != nil {
		if err := t.conn.CloseWithError(internal.NoError, "tunnel stopped"); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if t.pconn != nil {
		if err := t.pconn.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	t.wg.Wait()
	t.log().Info("Stopped QUIC transport")
	return errs
}
