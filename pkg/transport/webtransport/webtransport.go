// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package webtransport implements a Transport over an HTTP/3 WebTransport session.
//
// The out endpoint runs an HTTP/3 server which upgrades the first request for the
// tunnel path. Messages are exchanged like in the quicgo package: datagrams as HTTP/3
// datagrams and every stream message on its own unidirectional stream.
package webtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/internal"
)

const (
	tunnelPath = "/quictun"

	// maxDatagramSize leaves room for the HTTP/3 datagram's quarter stream ID.
	maxDatagramSize = 1150

	maxMessageSize = 1 << 16

	sessionClosed webtransport.SessionErrorCode = 0
	sessionBusy   webtransport.SessionErrorCode = 1
)

// Capabilities of the WebTransport backend.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Backend:           transport.WebTransport.String(),
		Datagrams:         true,
		Streams:           true,
		CongestionControl: []string{"cubic"},
	}
}

// Transport over a WebTransport session.
type Transport struct {
	*transport.Base

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	session *webtransport.Session
	server  *webtransport.Server
	pconn   net.PacketConn
}

// New WebTransport Transport. The Config is expected to be valid.
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
		"backend": transport.WebTransport,
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

// Start dials the WebTransport session or waits for the first incoming one.
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	var (
		session *webtransport.Session
		server  *webtransport.Server
		pconn   net.PacketConn
		err     error
	)
	if t.Config().Role == transport.RoleIn {
		session, err = t.dial(ctx)
	} else {
		server, pconn, session, err = t.listen(ctx)
	}
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}

	if err := t.Activate(func() {
		t.session = session
		t.server = server
		t.pconn = pconn
	}); err != nil {
		_ = session.CloseWithError(sessionClosed, "transport stopped during handshake")
		if server != nil {
			_ = server.Close()
			_ = pconn.Close()
		}
		return transport.NewHandshakeError(t.Config(), err)
	}

	t.log().WithFields(log.Fields{
		"local":  session.LocalAddr(),
		"remote": session.RemoteAddr(),
	}).Info("WebTransport session established")

	t.wg.Add(3)
	go t.receiveDatagrams()
	go t.acceptStreams()
	go t.watchSession()

	return nil
}

func (t *Transport) dial(ctx context.Context) (*webtransport.Session, error) {
	dialer := webtransport.Dialer{
		TLSClientConfig: internal.GenerateDialerTLSConfig(http3.NextProtoH3),
		QUICConfig:      t.quicConfig(),
	}

	u := url.URL{Scheme: "https", Host: t.Config().Address(), Path: tunnelPath}
	rsp, session, err := dialer.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		_ = session.CloseWithError(sessionClosed, "")
		return nil, fmt.Errorf("upgrade was answered with %s", rsp.Status)
	}
	return session, nil
}

func (t *Transport) listen(ctx context.Context) (*webtransport.Server, net.PacketConn, *webtransport.Session, error) {
	tlsConf, err := internal.GenerateListenerTLSConfig(http3.NextProtoH3)
	if err != nil {
		return nil, nil, nil, err
	}

	pconn, err := net.ListenPacket("udp", t.Config().Address())
	if err != nil {
		return nil, nil, nil, err
	}

	sessions := make(chan *webtransport.Session, 1)
	server := &webtransport.Server{
		H3: http3.Server{
			TLSConfig:  tlsConf,
			QUICConfig: t.quicConfig(),
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tunnelPath, func(w http.ResponseWriter, r *http.Request) {
		session, err := server.Upgrade(w, r)
		if err != nil {
			t.log().WithError(err).Warn("Upgrading WebTransport request failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case sessions <- session:
			<-session.Context().Done()
		default:
			// A tunnel carries exactly one session.
			_ = session.CloseWithError(sessionBusy, "tunnel is busy")
		}
	})
	server.H3.Handler = mux

	go func() {
		if err := server.Serve(pconn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log().WithError(err).Debug("HTTP/3 server stopped")
		}
	}()

	t.log().Debug("Waiting for an incoming WebTransport session")

	select {
	case session := <-sessions:
		return server, pconn, session, nil

	case <-ctx.Done():
		_ = server.Close()
		_ = pconn.Close()
		return nil, nil, nil, ctx.Err()
	}
}

func (t *Transport) receiveDatagrams() {
	defer t.wg.Done()

	for {
		payload, err := t.session.ReceiveDatagram(t.ctx)
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
		stream, err := t.session.AcceptUniStream(t.ctx)
		if err != nil {
			t.log().WithError(err).Debug("Stream acceptor stopped")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(stream, maxMessageSize))
		if err != nil {
			t.log().WithError(err).Warn("Reading stream failed")
			continue
		}

		t.Deliver(payload)
	}
}

func (t *Transport) watchSession() {
	defer t.wg.Done()

	select {
	case <-t.ctx.Done():
	case <-t.session.Context().Done():
		cause := context.Cause(t.session.Context())
		t.log().WithError(cause).Info("WebTransport session closed")
		t.Fail(transport.ConnectionLost(cause))
	}
}

func (t *Transport) sendStream(payload []byte) error {
	stream, err := t.session.OpenUniStreamSync(t.ctx)
	if err != nil {
		if t.ctx.Err() != nil {
			return transport.ErrNotRunning
		}
		return fmt.Errorf("opening stream failed: %w", err)
	}

	stopInterrupt := context.AfterFunc(t.ctx, func() { _ = stream.SetWriteDeadline(time.Now()) })
	defer stopInterrupt()

	if _, err := stream.Write(payload); err != nil {
		stream.CancelWrite(0)
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

// SendDatagram sends the payload as an HTTP/3 datagram. Payloads exceeding the
// datagram size are sent on a stream.
func (t *Transport) SendDatagram(payload []byte) error {
	return t.Do(func() error {
		if len(payload) > maxDatagramSize {
			return t.sendStream(payload)
		}
		return t.session.SendDatagram(payload)
	})
}

// SetCongestionControl accepts only quic-go's built-in algorithm.
func (t *Transport) SetCongestionControl(name string) bool {
	return Capabilities().SupportsCongestionControl(name)
}

// Capabilities of the WebTransport backend.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Stop closes the session and, for an out Transport, the HTTP/3 server.
func (t *Transport) Stop() error {
	t.cancel()
	if !t.Close() {
		return nil
	}

	var errs error
	if t.session != nil {
		if err := t.session.CloseWithError(sessionClosed, "tunnel stopped"); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if t.server != nil {
		if err := t.server.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := t.pconn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}

	t.wg.Wait()
	t.log().Info("Stopped WebTransport transport")
	return errs
}
