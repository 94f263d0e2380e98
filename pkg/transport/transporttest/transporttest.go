// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transporttest provides helpers to test Transport implementations over loopback.
package transporttest

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/dtn7/quictun/pkg/transport"
)

// RandomPort returns a currently unused port for the network, "tcp" or "udp".
func RandomPort(t testing.TB, network string) int {
	t.Helper()

	if network == "tcp" {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l.Close() }()
		return l.Addr().(*net.TCPAddr).Port
	}

	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	return c.LocalAddr().(*net.UDPAddr).Port
}

// Pair starts an out Transport and an in Transport connected to it. Both are stopped
// when the test finishes.
func Pair(t testing.TB, backend transport.Backend, build func(transport.Config) transport.Transport, qlogDir string) (in, out transport.Transport) {
	t.Helper()

	network := "udp"
	if backend == transport.TCP {
		network = "tcp"
	}
	port := RandomPort(t, network)

	out = build(transport.Config{Backend: backend, Role: transport.RoleOut, Host: "127.0.0.1", Port: port, QlogDir: qlogDir})
	in = build(transport.Config{Backend: backend, Role: transport.RoleIn, Host: "127.0.0.1", Port: port, QlogDir: qlogDir})
	t.Cleanup(func() {
		_ = in.Stop()
		_ = out.Stop()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outErr := make(chan error, 1)
	go func() { outErr <- out.Start(ctx) }()

	// Give the out Transport some time to bind its port.
	time.Sleep(100 * time.Millisecond)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("starting in transport failed: %v", err)
	}

	if err := <-outErr; err != nil {
		t.Fatalf("starting out transport failed: %v", err)
	}
	return
}

// Recorder collects received payloads.
type Recorder struct {
	payloads chan []byte
}

// NewRecorder with room for a few hundred pending payloads.
func NewRecorder() *Recorder {
	return &Recorder{payloads: make(chan []byte, 512)}
}

// Receive is a transport.ReceiveFunc.
func (r *Recorder) Receive(payload []byte) {
	r.payloads <- payload
}

// Expect waits for the payloads, in order.
func (r *Recorder) Expect(t testing.TB, timeout time.Duration, want ...[]byte) {
	t.Helper()

	deadline := time.After(timeout)
	for i, w := range want {
		select {
		case got := <-r.payloads:
			if !bytes.Equal(got, w) {
				t.Fatalf("payload %d differs: got %d bytes, expected %d bytes", i, len(got), len(w))
			}

		case <-deadline:
			t.Fatalf("timeout while waiting for payload %d of %d", i, len(want))
		}
	}
}

// ExpectSet waits for the payloads in any order.
func (r *Recorder) ExpectSet(t testing.TB, timeout time.Duration, want ...[]byte) {
	t.Helper()

	pending := make(map[string]int)
	for _, w := range want {
		pending[string(w)]++
	}

	deadline := time.After(timeout)
	for received := 0; received < len(want); received++ {
		select {
		case got := <-r.payloads:
			if pending[string(got)] == 0 {
				t.Fatalf("received unexpected payload of %d bytes", len(got))
			}
			pending[string(got)]--

		case <-deadline:
			t.Fatalf("timeout after %d of %d payloads", received, len(want))
		}
	}
}

// ExpectNothing fails if any payload arrives within the duration.
func (r *Recorder) ExpectNothing(t testing.TB, d time.Duration) {
	t.Helper()

	select {
	case got := <-r.payloads:
		t.Fatalf("received unexpected payload of %d bytes", len(got))
	case <-time.After(d):
	}
}
