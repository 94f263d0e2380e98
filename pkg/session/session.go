// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/bulk"
	"github.com/dtn7/quictun/pkg/relay"
	"github.com/dtn7/quictun/pkg/transport"
)

// Session is one tunnel instance: a Transport, a local UDP socket and the forwarding
// between both.
//
// A Session starts in the created state. Run opens the socket, starts the Transport and
// forwards until Stop is called or the Transport dies. Afterwards the Session is stopped
// for good. Stop is safe for concurrent use.
type Session struct {
	id        int
	opts      Options
	localPort int
	transport transport.Transport
	mux       *Multiplexer
	onStopped func(*Session)

	mu      sync.Mutex
	state   transport.State
	cancel  context.CancelFunc
	socket  *relay.Socket
	bulk    io.Closer
	err     error
	started time.Time
	stopped time.Time

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func newSession(id int, t transport.Transport, opts Options, onStopped func(*Session)) (*Session, error) {
	localPort := opts.LocalPort
	if localPort == 0 {
		var err error
		if localPort, err = relay.FreePort(); err != nil {
			return nil, fmt.Errorf("allocating local port failed: %w", err)
		}
	}

	return &Session{
		id:        id,
		opts:      opts,
		localPort: localPort,
		transport: t,
		mux:       NewMultiplexer(t, opts.UseDatagrams),
		onStopped: onStopped,
		state:     transport.StateCreated,
		done:      make(chan struct{}),
	}, nil
}

func (s *Session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"session": s.id,
		"backend": s.opts.Transport.Backend,
		"role":    s.opts.Transport.Role,
	})
}

// ID of this Session, unique among the live Sessions of its Registry.
func (s *Session) ID() int {
	return s.id
}

// LocalPort of the local UDP socket.
func (s *Session) LocalPort() int {
	return s.localPort
}

// Options this Session was created with.
func (s *Session) Options() Options {
	return s.opts
}

// Mode used to forward payloads.
func (s *Session) Mode() Mode {
	return s.mux.Mode()
}

// Capabilities of the Session's Transport.
func (s *Session) Capabilities() transport.Capabilities {
	return s.transport.Capabilities()
}

// State of this Session.
func (s *Session) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Started and Stopped return the lifecycle's timestamps, zero if not yet reached.
func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

func (s *Session) Stopped() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}

// Done is closed after the Session stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is the reason the Session ended, nil for a regular Stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// LogFile is the path of the Transport's diagnostic log, or an empty string.
func (s *Session) LogFile() string {
	dir, name := s.transport.QlogPath(), s.transport.QlogFilename()
	if dir == "" || name == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

// Start runs the Session in the background.
func (s *Session) Start(ctx context.Context) {
	go func() {
		if err := s.Run(ctx); err != nil {
			s.log().WithError(err).Warn("Session ended with an error")
		}
	}()
}

// Run the Session until it is stopped. A failed Transport start results in a
// transport.HandshakeError; the Session is stopped in every case when Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != transport.StateCreated {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = transport.StateRunning
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.openSocket(); err != nil {
		s.teardown(err)
		return err
	}

	s.transport.OnReceived(s.deliver)
	if cc := s.opts.CongestionControl; cc != "" && !s.transport.SetCongestionControl(cc) {
		s.log().WithFields(log.Fields{
			"cc":        cc,
			"supported": s.transport.Capabilities().CongestionControl,
		}).Warn("Congestion control is not available, keeping the default")
	}

	startCtx := ctx
	if s.opts.StartTimeout > 0 {
		var startCancel context.CancelFunc
		startCtx, startCancel = context.WithTimeout(ctx, s.opts.StartTimeout)
		defer startCancel()
	}
	if err := s.transport.Start(startCtx); err != nil {
		var hsErr *transport.HandshakeError
		if !errors.As(err, &hsErr) {
			err = transport.NewHandshakeError(s.opts.Transport, err)
		}
		s.teardown(err)
		return err
	}

	s.log().WithFields(log.Fields{
		"mode":       s.mux.Mode(),
		"local-port": s.localPort,
	}).Info("Session is running")

	if s.opts.ExternalFileTransfer {
		if err := s.startBulk(); err != nil {
			s.log().WithError(err).Warn("Failed to start the bulk transfer")
		}
	}

	go s.watchTransport(ctx)

	s.teardown(s.forward())
	return s.Err()
}

func (s *Session) openSocket() error {
	var peer *net.UDPAddr
	if s.opts.Transport.Role == transport.RoleOut {
		var err error
		if peer, err = net.ResolveUDPAddr("udp", s.opts.RelayAddr); err != nil {
			return fmt.Errorf("resolving relay address failed: %w", err)
		}
	}

	socket, err := relay.Listen(s.opts.localAddress(s.localPort), peer)
	if err != nil {
		return fmt.Errorf("opening local socket failed: %w", err)
	}
	if s.opts.ReadTimeout > 0 {
		socket.SetReadTimeout(s.opts.ReadTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != transport.StateRunning {
		_ = socket.Close()
		return ErrAlreadyStarted
	}
	s.socket = socket
	return nil
}

func (s *Session) startBulk() error {
	conf := s.opts.Bulk
	port := conf.PortFor(s.opts.Transport.Port)

	var closer io.Closer
	if s.opts.Transport.Role == transport.RoleIn {
		sender := bulk.NewSender(conf, net.JoinHostPort(s.opts.Transport.Host, strconv.Itoa(port)))
		sender.Start()
		closer = sender
	} else {
		receiver, err := bulk.Listen(conf, net.JoinHostPort(s.opts.Transport.Host, strconv.Itoa(port)))
		if err != nil {
			return err
		}
		closer = receiver
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != transport.StateRunning {
		return closer.Close()
	}
	s.bulk = closer
	return nil
}

// deliver is the Transport's ReceiveFunc.
func (s *Session) deliver(payload []byte) {
	if err := s.socket.SendBack(payload); err != nil && !errors.Is(err, relay.ErrClosed) {
		s.log().WithError(err).WithField("size", len(payload)).Debug("Dropping received payload")
	}
}

// forward local datagrams until the socket is closed or the Transport is lost.
func (s *Session) forward() error {
	for {
		payload, err := s.socket.Recv()
		if errors.Is(err, relay.ErrClosed) {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading local socket failed: %w", err)
		}

		if err := s.mux.Forward(payload); err != nil {
			if errors.Is(err, transport.ErrNotRunning) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) watchTransport(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.transport.Done():
		if err := s.transport.Err(); err != nil {
			s.log().WithError(err).Info("Transport connection lost")
			s.teardown(err)
		}
	}
}

// teardown stops the Session once. The first cause is kept.
func (s *Session) teardown(cause error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = transport.StateStopped
		s.err = cause
		s.stopped = time.Now()
		cancel, socket, bulkCloser := s.cancel, s.socket, s.bulk
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		var errs *multierror.Error
		if socket != nil {
			errs = multierror.Append(errs, socket.Close())
		}
		errs = multierror.Append(errs, s.transport.Stop())
		if bulkCloser != nil {
			errs = multierror.Append(errs, bulkCloser.Close())
		}
		s.stopErr = errs.ErrorOrNil()

		entry := s.log()
		if cause != nil {
			entry = entry.WithError(cause)
		}
		if s.stopErr != nil {
			entry = entry.WithField("teardown-errors", s.stopErr)
		}
		entry.Info("Session stopped")

		if s.onStopped != nil {
			s.onStopped(s)
		}
		close(s.done)
	})
}

// Stop the Session. It returns after the Transport and the local socket are closed.
func (s *Session) Stop() error {
	s.teardown(nil)
	return s.stopErr
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%d,%v)", s.id, s.opts.Transport)
}
