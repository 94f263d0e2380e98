// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package kcp implements a Transport over the KCP ARQ protocol.
//
// KCP provides a reliable and ordered byte stream over UDP. An smux session on top of
// it carries each message on its own stream, so message boundaries are kept without a
// length prefix. Unreliable datagrams are not available.
package kcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	kcpgo "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/internal"
)

const (
	// hello is exchanged on the first stream to confirm the peer.
	hello = "quictun/kcp/1"

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	maxMessageSize   = 1 << 16

	defaultProfile = "kcp-fast"
)

// profile is a set of KCP nodelay parameters. nc disables KCP's congestion window.
type profile struct {
	nodelay, interval, resend, nc int
}

var profiles = map[string]profile{
	"kcp-normal": {0, 40, 0, 0},
	"kcp-fast":   {1, 10, 2, 0},
	"none":       {1, 10, 2, 1},
}

// Capabilities of the KCP backend. The congestion control names are KCP nodelay profiles.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Backend:           transport.KCP.String(),
		Datagrams:         false,
		Streams:           true,
		CongestionControl: []string{"kcp-normal", "kcp-fast", "none"},
	}
}

// Transport over KCP and smux.
type Transport struct {
	*transport.Base

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ccMu    sync.Mutex
	cc      string
	kcpSess *kcpgo.UDPSession

	mux      *smux.Session
	listener *kcpgo.Listener
	pconn    net.PacketConn
	trace    *internal.Trace

	// snmpStart is kcp-go's process-wide counter set when Start began.
	snmpStart *kcpgo.Snmp
}

// New KCP Transport. The Config is expected to be valid.
func New(conf transport.Config) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		Base:   transport.NewBase(conf),
		ctx:    ctx,
		cancel: cancel,
		cc:     defaultProfile,
	}
}

func (t *Transport) log() *log.Entry {
	return log.WithFields(log.Fields{
		"backend": transport.KCP,
		"role":    t.Config().Role,
		"address": t.Config().Address(),
	})
}

func smuxConfig() *smux.Config {
	conf := smux.DefaultConfig()
	conf.KeepAliveInterval = time.Second
	conf.KeepAliveTimeout = 10 * time.Second
	return conf
}

// tune applies window sizes and the selected profile and publishes the KCP session
// for later profile changes.
func (t *Transport) tune(sess *kcpgo.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWindowSize(1024, 1024)

	t.ccMu.Lock()
	defer t.ccMu.Unlock()

	p := profiles[t.cc]
	sess.SetNoDelay(p.nodelay, p.interval, p.resend, p.nc)
	t.kcpSess = sess
}

// Start dials or accepts the KCP session and exchanges the hello on the first stream.
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	trace, err := internal.OpenTrace(t.QlogPath(), "kcp")
	if err != nil {
		return transport.NewHandshakeError(t.Config(), err)
	}
	snmpStart := kcpgo.DefaultSnmp.Copy()

	var (
		mux      *smux.Session
		listener *kcpgo.Listener
		pconn    net.PacketConn
	)
	if t.Config().Role == transport.RoleIn {
		mux, pconn, err = t.dial(ctx)
	} else {
		mux, listener, err = t.listen(ctx)
	}
	if err != nil {
		_ = trace.Close()
		return transport.NewHandshakeError(t.Config(), err)
	}

	if err := t.Activate(func() {
		t.mux = mux
		t.listener = listener
		t.pconn = pconn
		t.trace = trace
		t.snmpStart = snmpStart
	}); err != nil {
		t.closeAll(mux, listener, pconn)
		_ = trace.Close()
		return transport.NewHandshakeError(t.Config(), err)
	}
	t.SetQlogFilename(trace.Name)

	trace.WithFields(log.Fields{
		"local":  mux.LocalAddr().String(),
		"remote": mux.RemoteAddr().String(),
		"role":   t.Config().Role.String(),
	}).Info("connection_started")
	t.log().WithField("remote", mux.RemoteAddr()).Info("KCP session established")

	t.wg.Add(2)
	go t.acceptStreams()
	go t.watchSession()

	return nil
}

func (t *Transport) dial(ctx context.Context) (*smux.Session, net.PacketConn, error) {
	var (
		sess  *kcpgo.UDPSession
		pconn net.PacketConn
		err   error
	)
	if t.Config().LocalPort == 0 {
		sess, err = kcpgo.DialWithOptions(t.Config().Address(), nil, 0, 0)
	} else {
		var raddr *net.UDPAddr
		if raddr, err = net.ResolveUDPAddr("udp", t.Config().Address()); err != nil {
			return nil, nil, err
		}
		if pconn, err = net.ListenPacket("udp", t.Config().LocalAddress()); err != nil {
			return nil, nil, err
		}
		sess, err = kcpgo.NewConn2(raddr, nil, 0, 0, pconn)
	}
	if err != nil {
		t.closeAll(nil, nil, pconn)
		return nil, nil, err
	}
	t.tune(sess)

	mux, err := smux.Client(sess, smuxConfig())
	if err != nil {
		_ = sess.Close()
		t.closeAll(nil, nil, pconn)
		return nil, nil, err
	}

	if err := t.exchangeHello(ctx, mux, true); err != nil {
		t.closeAll(mux, nil, pconn)
		return nil, nil, err
	}
	return mux, pconn, nil
}

func (t *Transport) listen(ctx context.Context) (*smux.Session, *kcpgo.Listener, error) {
	listener, err := kcpgo.ListenWithOptions(t.Config().Address(), nil, 0, 0)
	if err != nil {
		return nil, nil, err
	}

	t.log().Debug("Waiting for an incoming KCP session")

	stopClose := context.AfterFunc(ctx, func() { _ = listener.Close() })
	sess, err := listener.AcceptKCP()
	if !stopClose() {
		if sess != nil {
			_ = sess.Close()
		}
		return nil, nil, ctx.Err()
	} else if err != nil {
		_ = listener.Close()
		return nil, nil, err
	}
	t.tune(sess)

	mux, err := smux.Server(sess, smuxConfig())
	if err != nil {
		_ = sess.Close()
		_ = listener.Close()
		return nil, nil, err
	}

	if err := t.exchangeHello(ctx, mux, false); err != nil {
		t.closeAll(mux, listener, nil)
		return nil, nil, err
	}
	return mux, listener, nil
}

// exchangeHello sends the hello and awaits its echo as the dialer, or the other way round.
func (t *Transport) exchangeHello(ctx context.Context, mux *smux.Session, dialer bool) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stopClose := context.AfterFunc(ctx, func() { _ = mux.Close() })
	defer stopClose()

	var (
		stream *smux.Stream
		err    error
	)
	if dialer {
		stream, err = mux.OpenStream()
	} else {
		if err = mux.SetDeadline(deadline); err == nil {
			stream, err = mux.AcceptStream()
			_ = mux.SetDeadline(time.Time{})
		}
	}
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if err := stream.SetDeadline(deadline); err != nil {
		return err
	}

	buf := make([]byte, len(hello))
	if dialer {
		if _, err := stream.Write([]byte(hello)); err != nil {
			return err
		}
		if _, err := io.ReadFull(stream, buf); err != nil {
			return err
		}
	} else {
		if _, err := io.ReadFull(stream, buf); err != nil {
			return err
		}
		if _, err := stream.Write([]byte(hello)); err != nil {
			return err
		}
	}

	if string(buf) != hello {
		return fmt.Errorf("unexpected hello %q", buf)
	}
	return nil
}

func (t *Transport) closeAll(mux *smux.Session, listener *kcpgo.Listener, pconn net.PacketConn) {
	var errs *multierror.Error
	if mux != nil {
		errs = multierror.Append(errs, mux.Close())
	}
	if listener != nil {
		errs = multierror.Append(errs, listener.Close())
	}
	if pconn != nil {
		errs = multierror.Append(errs, pconn.Close())
	}
	if err := errs.ErrorOrNil(); err != nil {
		t.log().WithError(err).Debug("Closing KCP resources reported errors")
	}
}

func (t *Transport) acceptStreams() {
	defer t.wg.Done()

	for {
		stream, err := t.mux.AcceptStream()
		if err != nil {
			t.log().WithError(err).Debug("Stream acceptor stopped")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(stream, maxMessageSize))
		_ = stream.Close()
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
	case <-t.mux.CloseChan():
		t.log().Info("KCP session closed")
		t.Fail(transport.ConnectionLost(errors.New("smux session closed")))
	}
}

// SendStream sends the payload on a new smux stream.
func (t *Transport) SendStream(payload []byte) error {
	return t.Do(func() error {
		stream, err := t.mux.OpenStream()
		if err != nil {
			if t.mux.IsClosed() {
				return transport.ConnectionLost(err)
			}
			return fmt.Errorf("opening stream failed: %w", err)
		}
		defer func() { _ = stream.Close() }()

		if err := stream.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		stopInterrupt := context.AfterFunc(t.ctx, func() { _ = stream.SetWriteDeadline(time.Now()) })
		defer stopInterrupt()

		if _, err := stream.Write(payload); err != nil {
			if t.ctx.Err() != nil {
				return transport.ErrNotRunning
			}
			return fmt.Errorf("writing stream failed: %w", err)
		}
		return nil
	})
}

// SendDatagram is not supported by KCP.
func (t *Transport) SendDatagram([]byte) error {
	return transport.ErrNotSupported
}

// SetCongestionControl selects one of the KCP nodelay profiles. It might be called
// before Start.
func (t *Transport) SetCongestionControl(name string) bool {
	p, ok := profiles[name]
	if !ok {
		return false
	}

	t.ccMu.Lock()
	defer t.ccMu.Unlock()

	t.cc = name
	if t.kcpSess != nil {
		t.kcpSess.SetNoDelay(p.nodelay, p.interval, p.resend, p.nc)
	}
	return true
}

// Capabilities of the KCP backend.
func (t *Transport) Capabilities() transport.Capabilities {
	return Capabilities()
}

// Stop closes the smux and KCP sessions.
func (t *Transport) Stop() error {
	t.cancel()
	if !t.Close() {
		return nil
	}
	if t.mux == nil {
		return nil
	}

	fields := snmpDelta(t.snmpStart, kcpgo.DefaultSnmp.Copy())
	t.ccMu.Lock()
	if t.kcpSess != nil {
		fields["srtt_ms"] = t.kcpSess.GetSRTT()
		fields["rto_ms"] = t.kcpSess.GetRTO()
	}
	t.ccMu.Unlock()
	t.trace.WithFields(fields).Info("connection_closed")

	var errs error
	if err := t.mux.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		errs = multierror.Append(errs, err)
	}
	t.ccMu.Lock()
	if t.kcpSess != nil {
		if err := t.kcpSess.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			errs = multierror.Append(errs, err)
		}
	}
	t.ccMu.Unlock()
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
	if err := t.trace.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	t.wg.Wait()
	t.log().Info("Stopped KCP transport")
	return errs
}

// snmpDelta lists kcp-go's counters accumulated between both snapshots. The counters are
// shared by all KCP sessions of the process, hence the "process_" prefix.
func snmpDelta(start, end *kcpgo.Snmp) log.Fields {
	return log.Fields{
		"process_bytes_sent":         end.BytesSent - start.BytesSent,
		"process_bytes_received":     end.BytesReceived - start.BytesReceived,
		"process_in_pkts":            end.InPkts - start.InPkts,
		"process_out_pkts":           end.OutPkts - start.OutPkts,
		"process_in_segs":            end.InSegs - start.InSegs,
		"process_out_segs":           end.OutSegs - start.OutSegs,
		"process_retrans_segs":       end.RetransSegs - start.RetransSegs,
		"process_fast_retrans_segs":  end.FastRetransSegs - start.FastRetransSegs,
		"process_early_retrans_segs": end.EarlyRetransSegs - start.EarlyRetransSegs,
		"process_lost_segs":          end.LostSegs - start.LostSegs,
		"process_repeat_segs":        end.RepeatSegs - start.RepeatSegs,
	}
}
