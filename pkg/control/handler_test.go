// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dtn7/quictun/pkg/backend"
	"github.com/dtn7/quictun/pkg/discovery"
	"github.com/dtn7/quictun/pkg/history"
	"github.com/dtn7/quictun/pkg/logfile"
	"github.com/dtn7/quictun/pkg/session"
	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/transporttest"
)

type staticPeers []discovery.Peer

func (p staticPeers) Peers() []discovery.Peer { return p }

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout while waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestHandler(t *testing.T, opts ...HandlerOption) *Handler {
	t.Helper()

	h := NewHandler(context.Background(),
		session.NewRegistry(session.DefaultMaxSessions, backend.New),
		session.NewRegistry(session.DefaultMaxSessions, backend.New),
		opts...)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func request(t *testing.T, cmd string, transID int, data interface{}) Request {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return Request{Cmd: cmd, TransID: transID, Data: raw}
}

func expectError(t *testing.T, resp Response, contains string) {
	t.Helper()

	if resp.Type != TypeError {
		t.Fatalf("expected error response, got %v", resp)
	}
	if msg := resp.Data.(ErrorResponse).Message; !strings.Contains(msg, contains) {
		t.Fatalf("error message %q does not contain %q", msg, contains)
	}
}

func TestHandlerStartStopClient(t *testing.T) {
	qlogDir := t.TempDir()
	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	h := newTestHandler(t,
		WithDefaults(session.Options{
			Transport: transport.Config{QlogDir: qlogDir},
			LocalHost: "127.0.0.1",
		}),
		WithLocator(logfile.Locator{BaseURL: "https://qvis.example.org/"}),
		WithCompressedLogs(),
		WithHistory(store))

	resp := h.Handle(request(t, CmdStartClient, 23, StartRequest{
		Backend:         "udp",
		DestinationHost: "127.0.0.1",
		DestinationPort: transporttest.RandomPort(t, "udp"),
		UseDatagrams:    true,
	}))
	if resp.Type != TypeResponse || resp.TransID != 23 {
		t.Fatalf("unexpected response %v", resp)
	}
	start := resp.Data.(StartResponse)
	if start.LocalPort == 0 {
		t.Fatal("no local port was reported")
	}

	s, err := h.in.Get(start.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "session log file", func() bool { return s.LogFile() != "" })
	logFile := s.LogFile()

	if infos := h.Sessions(); len(infos) != 1 || infos[0].ID != start.SessionID || infos[0].Role != "in" {
		t.Fatalf("unexpected sessions %v", infos)
	}

	resp = h.Handle(request(t, CmdStopClient, 24, StopRequest{SessionID: start.SessionID}))
	if resp.Type != TypeResponse || resp.TransID != 24 {
		t.Fatalf("unexpected response %v", resp)
	}
	stop := resp.Data.(StopResponse)
	expectedURL := "https://qvis.example.org/?file=" + url.QueryEscape(logFile+logfile.Extension)
	if stop.LogFileURL != expectedURL {
		t.Fatalf("expected log URL %q, got %q", expectedURL, stop.LogFileURL)
	}

	if h.in.Len() != 0 {
		t.Fatal("stopped session is still registered")
	}

	var records []history.Record
	waitFor(t, 2*time.Second, "history record", func() bool {
		records, err = h.History()
		return err == nil && len(records) == 1
	})
	if records[0].SessionID != start.SessionID || records[0].Backend != "udp" {
		t.Fatalf("unexpected record %v", records[0])
	}
	if filepath.Ext(records[0].LogFile) != logfile.Extension {
		t.Fatalf("record does not point to the archive: %q", records[0].LogFile)
	}

	resp = h.Handle(request(t, CmdStopClient, 25, StopRequest{SessionID: start.SessionID}))
	expectError(t, resp, "does not exist")
}

func TestHandlerStopAnswersWithArchive(t *testing.T) {
	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	h := newTestHandler(t,
		WithDefaults(session.Options{
			Transport: transport.Config{QlogDir: t.TempDir()},
			LocalHost: "127.0.0.1",
		}),
		WithCompressedLogs(),
		WithHistory(store))

	resp := h.Handle(request(t, CmdStartClient, 1, StartRequest{
		Backend:         "udp",
		DestinationHost: "127.0.0.1",
		DestinationPort: transporttest.RandomPort(t, "udp"),
		UseDatagrams:    true,
	}))
	if resp.Type != TypeResponse {
		t.Fatalf("unexpected response %v", resp)
	}
	start := resp.Data.(StartResponse)

	s, err := h.in.Get(start.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "session log file", func() bool { return s.LogFile() != "" })
	logFile := s.LogFile()

	resp = h.Handle(request(t, CmdStopClient, 2, StopRequest{SessionID: start.SessionID}))
	if resp.Type != TypeResponse {
		t.Fatalf("unexpected response %v", resp)
	}

	// Everything is in place as soon as the response is there.
	archive := strings.TrimPrefix(resp.Data.(StopResponse).LogFileURL, "file://")
	if archive != logFile+logfile.Extension {
		t.Fatalf("response points to %q", archive)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive is missing: %v", err)
	}
	if _, err := os.Stat(logFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("uncompressed log still exists: %v", err)
	}
	if records, err := h.History(); err != nil || len(records) != 1 {
		t.Fatalf("history has %v, %v", records, err)
	}
}

func TestHandlerStartServerRequiresRelay(t *testing.T) {
	h := newTestHandler(t)

	resp := h.Handle(request(t, CmdStartServer, 1, StartRequest{
		Backend:         "tcp",
		DestinationPort: transporttest.RandomPort(t, "tcp"),
	}))
	expectError(t, resp, "relay")

	if h.out.Len() != 0 {
		t.Fatal("invalid session was registered")
	}
}

func TestHandlerStartServer(t *testing.T) {
	h := newTestHandler(t, WithDefaults(session.Options{LocalHost: "127.0.0.1"}))

	resp := h.Handle(request(t, CmdStartServer, 2, StartRequest{
		Backend:         "udp",
		DestinationHost: "127.0.0.1",
		DestinationPort: transporttest.RandomPort(t, "udp"),
		RelayHost:       "127.0.0.1",
		RelayPort:       3478,
	}))
	if resp.Type != TypeResponse {
		t.Fatalf("unexpected response %v", resp)
	}

	start := resp.Data.(StartResponse)
	s, err := h.out.Get(start.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if relay := s.Options().RelayAddr; relay != "127.0.0.1:3478" {
		t.Fatalf("unexpected relay address %q", relay)
	}

	resp = h.Handle(request(t, CmdStopClient, 3, StopRequest{SessionID: start.SessionID}))
	expectError(t, resp, "does not exist")

	resp = h.Handle(request(t, CmdStopServer, 4, StopRequest{SessionID: start.SessionID}))
	if resp.Type != TypeResponse {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestHandlerInvalidRequests(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		req      Request
		contains string
	}{
		{Request{Cmd: "link", TransID: 1}, "unknown command"},
		{Request{Cmd: CmdStartClient, TransID: 2, Data: json.RawMessage(`{"backend": 5}`)}, "malformed"},
		{request(t, CmdStartClient, 3, StartRequest{Backend: "quiche", DestinationHost: "127.0.0.1", DestinationPort: 4242}), "unknown backend"},
		{request(t, CmdStartClient, 4, StartRequest{Backend: "tcp", DestinationPort: 4242}), "host"},
		{request(t, CmdStopServer, 5, StopRequest{SessionID: 4}), "does not exist"},
	}

	for _, test := range tests {
		resp := h.Handle(test.req)
		if resp.TransID != test.req.TransID {
			t.Fatalf("transaction id %d became %d", test.req.TransID, resp.TransID)
		}
		expectError(t, resp, test.contains)
	}
}

func TestHandlerSessionLimit(t *testing.T) {
	h := newTestHandler(t, WithDefaults(session.Options{LocalHost: "127.0.0.1"}))
	port := transporttest.RandomPort(t, "udp")

	for i := 0; i < session.DefaultMaxSessions; i++ {
		resp := h.Handle(request(t, CmdStartClient, i, StartRequest{Backend: "udp", DestinationHost: "127.0.0.1", DestinationPort: port}))
		if resp.Type != TypeResponse {
			t.Fatalf("start %d failed: %v", i, resp)
		}
	}

	resp := h.Handle(request(t, CmdStartClient, 99, StartRequest{Backend: "udp", DestinationHost: "127.0.0.1", DestinationPort: port}))
	expectError(t, resp, session.ErrSessionLimitReached.Error())
}

func TestHandlerCapabilities(t *testing.T) {
	peers := staticPeers{{Address: "10.0.0.2", Announcement: discovery.Announcement{ControlPort: 8080, QuicPort: 4242}}}
	h := newTestHandler(t, WithPeers(peers))

	resp := h.Handle(Request{Cmd: CmdCapabilities, TransID: 7})
	if resp.Type != TypeResponse {
		t.Fatalf("unexpected response %v", resp)
	}

	caps := resp.Data.(CapabilitiesResponse)
	if len(caps.Backends) != len(transport.Backends) {
		t.Fatalf("expected %d backends, got %d", len(transport.Backends), len(caps.Backends))
	}
	if len(caps.Peers) != 1 || caps.Peers[0].Address != "10.0.0.2" {
		t.Fatalf("unexpected peers %v", caps.Peers)
	}
}

func TestHandlerOptions(t *testing.T) {
	h := newTestHandler(t, WithDefaults(session.Options{StartTimeout: time.Second}))

	opts, err := h.Options(transport.RoleIn, StartRequest{
		Backend:           "KCP",
		DestinationHost:   "example.org",
		DestinationPort:   4242,
		CongestionControl: "kcp-normal",
		LocalPort:         3479,
	})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Transport.Backend != transport.KCP || opts.Transport.Address() != "example.org:4242" {
		t.Fatalf("unexpected transport %v", opts.Transport)
	}
	if opts.StartTimeout != time.Second || opts.LocalPort != 3479 || opts.CongestionControl != "kcp-normal" {
		t.Fatalf("unexpected options %v", opts)
	}

	_, err = h.Options(transport.RoleIn, StartRequest{Backend: "nope"})
	if !errors.Is(err, transport.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}
