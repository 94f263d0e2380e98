// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/dtn7/quictun/pkg/backend"
	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/transporttest"
)

// tunnel connects a local client through an in and an out Session to a relay.
type tunnel struct {
	client *net.UDPConn
	relay  *net.UDPConn
	in     *Session
	out    *Session
}

func newTunnel(t *testing.T, b transport.Backend, useDatagrams bool) *tunnel {
	t.Helper()

	network := "udp"
	if b == transport.TCP {
		network = "tcp"
	}
	port := transporttest.RandomPort(t, network)

	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = relay.Close() })

	outRegistry := NewRegistry(0, backend.New)
	inRegistry := NewRegistry(0, backend.New)
	t.Cleanup(func() {
		_ = inRegistry.Close()
		_ = outRegistry.Close()
	})

	out, err := outRegistry.Create(Options{
		Transport:    transport.Config{Backend: b, Role: transport.RoleOut, Host: "127.0.0.1", Port: port},
		UseDatagrams: useDatagrams,
		LocalHost:    "127.0.0.1",
		RelayAddr:    relay.LocalAddr().String(),
		StartTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	out.Start(context.Background())

	// Give the out Session some time to bind its port.
	time.Sleep(100 * time.Millisecond)

	in, err := inRegistry.Create(Options{
		Transport:    transport.Config{Backend: b, Role: transport.RoleIn, Host: "127.0.0.1", Port: port},
		UseDatagrams: useDatagrams,
		LocalHost:    "127.0.0.1",
		StartTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	in.Start(context.Background())

	for _, s := range []*Session{in, out} {
		s := s
		waitFor(t, 10*time.Second, "running "+s.String(), func() bool {
			return s.transport.(interface{ State() transport.State }).State() == transport.StateRunning
		})
	}

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: in.LocalPort()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &tunnel{client: client, relay: relay, in: in, out: out}
}

func readPayload(t *testing.T, conn *net.UDPConn) ([]byte, *net.UDPAddr) {
	t.Helper()

	buf := make([]byte, 65535)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	return buf[:n], addr
}

func TestTunnelUDPDatagrams(t *testing.T) {
	tun := newTunnel(t, transport.UDP, true)

	if mode := tun.in.Mode(); mode != ModeDatagram {
		t.Fatalf("expected datagram mode, got %v", mode)
	}

	payload := bytes.Repeat([]byte{0x42}, 100)
	if _, err := tun.client.Write(payload); err != nil {
		t.Fatal(err)
	}

	got, outAddr := readPayload(t, tun.relay)
	if !bytes.Equal(got, payload) {
		t.Fatalf("relay received %d bytes, expected %d", len(got), len(payload))
	}
	if outAddr.Port != tun.out.LocalPort() {
		t.Fatalf("relay was addressed from port %d, expected %d", outAddr.Port, tun.out.LocalPort())
	}

	reply := []byte("reply from the relay")
	if _, err := tun.relay.WriteToUDP(reply, outAddr); err != nil {
		t.Fatal(err)
	}

	got, _ = readPayload(t, tun.client)
	if !bytes.Equal(got, reply) {
		t.Fatalf("client received %q, expected %q", got, reply)
	}
}

func TestTunnelTCPStream(t *testing.T) {
	tun := newTunnel(t, transport.TCP, false)

	if mode := tun.in.Mode(); mode != ModeStream {
		t.Fatalf("expected stream mode, got %v", mode)
	}

	payloads := [][]byte{
		bytes.Repeat([]byte{0x01}, 10),
		{},
		bytes.Repeat([]byte{0x02}, 2048),
	}
	for _, p := range payloads {
		if _, err := tun.client.Write(p); err != nil {
			t.Fatal(err)
		}
	}

	for i, p := range payloads {
		got, _ := readPayload(t, tun.relay)
		if !bytes.Equal(got, p) {
			t.Fatalf("payload %d: relay received %d bytes, expected %d", i, len(got), len(p))
		}
	}
}

func TestTunnelStopNotifiesPeer(t *testing.T) {
	tun := newTunnel(t, transport.TCP, false)

	if err := tun.in.Stop(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-tun.out.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("out session did not notice the closed tunnel")
	}
}
