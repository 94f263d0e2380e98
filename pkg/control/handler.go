// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/backend"
	"github.com/dtn7/quictun/pkg/discovery"
	"github.com/dtn7/quictun/pkg/history"
	"github.com/dtn7/quictun/pkg/logfile"
	"github.com/dtn7/quictun/pkg/session"
	"github.com/dtn7/quictun/pkg/transport"
)

// PeerSource lists discovered peers, e.g., a discovery.Manager.
type PeerSource interface {
	Peers() []discovery.Peer
}

// Handler executes the controller's commands on two Registries, one per role.
type Handler struct {
	ctx context.Context

	in  *session.Registry
	out *session.Registry

	// Defaults are merged into each StartRequest's session Options.
	defaults session.Options

	locator      logfile.Locator
	compressLogs bool

	history *history.Store
	peers   PeerSource

	// finished maps each live *session.Session to its *finishedLog.
	finished sync.Map
}

// finishedLog is the log file of a stopped session, after archiving and recording.
type finishedLog struct {
	done chan struct{}
	path string
}

// HandlerOption configures optional parts of a Handler.
type HandlerOption func(*Handler)

// WithDefaults sets the Options each new session starts from, e.g., its qlog directory.
func WithDefaults(opts session.Options) HandlerOption {
	return func(h *Handler) { h.defaults = opts }
}

// WithLocator sets the Locator for the stop responses' log URLs.
func WithLocator(locator logfile.Locator) HandlerOption {
	return func(h *Handler) { h.locator = locator }
}

// WithCompressedLogs archives the logs of stopped sessions with xz.
func WithCompressedLogs() HandlerOption {
	return func(h *Handler) { h.compressLogs = true }
}

// WithHistory records each stopped session.
func WithHistory(store *history.Store) HandlerOption {
	return func(h *Handler) { h.history = store }
}

// WithPeers adds discovered peers to the capabilities.
func WithPeers(peers PeerSource) HandlerOption {
	return func(h *Handler) { h.peers = peers }
}

// NewHandler for two Registries. Sessions are bound to the Context.
func NewHandler(ctx context.Context, in, out *session.Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		ctx: ctx,
		in:  in,
		out: out,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle a Request. Each Request results in exactly one Response.
func (h *Handler) Handle(req Request) Response {
	logger := log.WithFields(log.Fields{
		"cmd":      req.Cmd,
		"trans-id": req.TransID,
	})

	data, err := h.dispatch(req)
	if err != nil {
		logger.WithError(err).Info("Control request failed")
		return Response{Type: TypeError, TransID: req.TransID, Data: ErrorResponse{Message: err.Error()}}
	}

	logger.WithField("response", data).Debug("Control request succeeded")
	return Response{Type: TypeResponse, TransID: req.TransID, Data: data}
}

func (h *Handler) dispatch(req Request) (interface{}, error) {
	switch req.Cmd {
	case CmdStartClient:
		return h.start(transport.RoleIn, req.Data)
	case CmdStartServer:
		return h.start(transport.RoleOut, req.Data)
	case CmdStopClient:
		return h.stop(h.in, req.Data)
	case CmdStopServer:
		return h.stop(h.out, req.Data)
	case CmdCapabilities:
		return h.Capabilities(), nil
	default:
		return nil, fmt.Errorf("unknown command %q", req.Cmd)
	}
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed data: %w", err)
	}
	return nil
}

func (h *Handler) registry(role transport.Role) *session.Registry {
	if role == transport.RoleIn {
		return h.in
	}
	return h.out
}

// Options for a StartRequest, based on the Handler's defaults.
func (h *Handler) Options(role transport.Role, req StartRequest) (session.Options, error) {
	b, err := transport.ParseBackend(req.Backend)
	if err != nil {
		return session.Options{}, &transport.ConfigurationError{Cause: err}
	}

	opts := h.defaults
	opts.Transport.Backend = b
	opts.Transport.Role = role
	opts.Transport.Host = req.DestinationHost
	opts.Transport.Port = req.DestinationPort
	opts.UseDatagrams = req.UseDatagrams
	opts.CongestionControl = req.CongestionControl
	opts.ExternalFileTransfer = req.ExternalFileTransfer
	opts.LocalPort = req.LocalPort

	if role == transport.RoleOut {
		if req.RelayHost == "" || req.RelayPort <= 0 || req.RelayPort > 65535 {
			return session.Options{}, &transport.ConfigurationError{
				Cause: fmt.Errorf("invalid relay address %q:%d", req.RelayHost, req.RelayPort),
			}
		}
		opts.RelayAddr = net.JoinHostPort(req.RelayHost, strconv.Itoa(req.RelayPort))
	}

	return opts, nil
}

func (h *Handler) start(role transport.Role, raw json.RawMessage) (interface{}, error) {
	var req StartRequest
	if err := decodeData(raw, &req); err != nil {
		return nil, err
	}

	opts, err := h.Options(role, req)
	if err != nil {
		return nil, err
	}

	s, err := h.registry(role).Create(opts)
	if err != nil {
		return nil, err
	}

	f := &finishedLog{done: make(chan struct{})}
	h.finished.Store(s, f)
	go h.watch(s, f)
	s.Start(h.ctx)

	return StartResponse{SessionID: s.ID(), LocalPort: s.LocalPort()}, nil
}

// watch archives a session's log and records it after it stopped.
func (h *Handler) watch(s *session.Session, f *finishedLog) {
	<-s.Done()

	f.path = h.archive(s)
	close(f.done)
	h.finished.Delete(s)
}

// archive compresses and records the log of a stopped session and returns its final path.
func (h *Handler) archive(s *session.Session) (logFile string) {
	logFile = s.LogFile()
	if h.compressLogs && logFile != "" {
		if compressed, err := logfile.Compress(logFile); err != nil {
			log.WithError(err).WithField("file", logFile).Warn("Failed to compress session log")
		} else {
			logFile = compressed
		}
	}

	if h.history == nil {
		return
	}

	opts := s.Options()
	record := history.Record{
		SessionID:   s.ID(),
		Role:        opts.Transport.Role.String(),
		Backend:     opts.Transport.Backend.String(),
		Destination: opts.Transport.Address(),
		Started:     s.Started(),
		Stopped:     s.Stopped(),
		LogFile:     logFile,
	}
	if err := s.Err(); err != nil {
		record.Error = err.Error()
	}

	if _, err := h.history.Add(record); err != nil {
		log.WithError(err).WithField("session", s.ID()).Warn("Failed to record session history")
	}
	return
}

func (h *Handler) stop(registry *session.Registry, raw json.RawMessage) (interface{}, error) {
	var req StopRequest
	if err := decodeData(raw, &req); err != nil {
		return nil, err
	}

	notFound := fmt.Errorf("session %d does not exist", req.SessionID)

	s, err := registry.Get(req.SessionID)
	if err != nil {
		return nil, notFound
	}
	// The entry is gone once the session ended on its own.
	v, ok := h.finished.Load(s)
	if !ok {
		return nil, notFound
	}
	f := v.(*finishedLog)

	if err := s.Stop(); err != nil {
		log.WithError(err).WithField("session", req.SessionID).Warn("Session stopped with errors")
	}

	// The response points to the archived log.
	<-f.done
	return StopResponse{LogFileURL: h.locator.URL(f.path)}, nil
}

// Capabilities of all backends together with discovered peers.
func (h *Handler) Capabilities() CapabilitiesResponse {
	resp := CapabilitiesResponse{Backends: backend.Describe()}
	if h.peers != nil {
		resp.Peers = h.peers.Peers()
	}
	return resp
}

// Sessions lists the live sessions of both roles.
func (h *Handler) Sessions() []SessionInfo {
	var infos []SessionInfo
	for _, registry := range []*session.Registry{h.in, h.out} {
		for _, s := range registry.List() {
			opts := s.Options()
			infos = append(infos, SessionInfo{
				ID:          s.ID(),
				Role:        opts.Transport.Role.String(),
				Backend:     opts.Transport.Backend.String(),
				Destination: opts.Transport.Address(),
				LocalPort:   s.LocalPort(),
				Mode:        s.Mode().String(),
				State:       s.State().String(),
				Started:     s.Started(),
			})
		}
	}
	return infos
}

// History of stopped sessions, or nil if no store is configured.
func (h *Handler) History() ([]history.Record, error) {
	if h.history == nil {
		return nil, nil
	}
	return h.history.All()
}

// Close stops all sessions.
func (h *Handler) Close() error {
	var errs *multierror.Error
	for _, registry := range []*session.Registry{h.in, h.out} {
		if err := registry.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
