// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package webtransport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/transporttest"
)

func build(conf transport.Config) transport.Transport {
	return New(conf)
}

func TestWebTransportExchange(t *testing.T) {
	qlogDir := t.TempDir()
	in, out := transporttest.Pair(t, transport.WebTransport, build, qlogDir)

	inRec, outRec := transporttest.NewRecorder(), transporttest.NewRecorder()
	in.OnReceived(inRec.Receive)
	out.OnReceived(outRec.Receive)

	small := bytes.Repeat([]byte{0x23}, 100)
	large := bytes.Repeat([]byte{0x42}, 4000)

	for _, payload := range [][]byte{small, {}, large} {
		if err := in.SendStream(payload); err != nil {
			t.Fatal(err)
		}
	}
	outRec.Expect(t, 5*time.Second, small, []byte{}, large)

	// The large datagram exceeds the datagram size and is sent on a stream.
	for _, payload := range [][]byte{small, large} {
		if err := out.SendDatagram(payload); err != nil {
			t.Fatal(err)
		}
	}
	inRec.ExpectSet(t, 5*time.Second, small, large)

	for _, tr := range []transport.Transport{in, out} {
		if tr.QlogFilename() == "" {
			t.Fatalf("no qlog file name is known")
		}
		if _, err := os.Stat(filepath.Join(tr.QlogPath(), tr.QlogFilename())); err != nil {
			t.Fatalf("qlog file is missing: %v", err)
		}
	}
}

func TestWebTransportStop(t *testing.T) {
	in, out := transporttest.Pair(t, transport.WebTransport, build, "")

	if err := in.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := in.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if err := in.SendDatagram([]byte("late")); !errors.Is(err, transport.ErrNotRunning) {
		t.Fatalf("send after Stop returned %v", err)
	}
	if in.Err() != nil {
		t.Fatalf("regular Stop reported %v", in.Err())
	}

	// The peer notices the closed connection.
	select {
	case <-out.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("out transport did not notice the closed connection")
	}
	if !errors.Is(out.Err(), transport.ErrConnectionLost) {
		t.Fatalf("out transport reported %v", out.Err())
	}
}

func TestWebTransportHandshakeError(t *testing.T) {
	port := transporttest.RandomPort(t, "udp")
	tr := New(transport.Config{Backend: transport.WebTransport, Role: transport.RoleIn, Host: "127.0.0.1", Port: port})
	defer func() { _ = tr.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := tr.Start(ctx)
	var hsErr *transport.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
}

func TestWebTransportCongestionControl(t *testing.T) {
	tr := New(transport.Config{Backend: transport.WebTransport, Role: transport.RoleIn, Host: "127.0.0.1", Port: 8888})

	for _, name := range tr.Capabilities().CongestionControl {
		if !tr.SetCongestionControl(name) {
			t.Errorf("listed algorithm %q was rejected", name)
		}
	}
	for _, name := range []string{"newreno", "bbr", "copa", ""} {
		if tr.SetCongestionControl(name) {
			t.Errorf("unlisted algorithm %q was accepted", name)
		}
	}
}
