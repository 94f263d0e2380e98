// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/dtn7/quictun/pkg/transport"
)

// mockTransport mocks a Transport where all fields are directly editable.
type mockTransport struct {
	*transport.Base

	caps transport.Capabilities

	// startErr is returned by Start, if set. startBlocks keeps Start waiting for its Context.
	startErr    error
	startBlocks bool

	// sendErr is returned by both send methods, sendDelay is spent inside the Guard.
	sendErr   error
	sendDelay time.Duration

	mu         sync.Mutex
	streams    [][]byte
	datagrams  [][]byte
	stopCalls  int
	ccAccepted string
}

func newMockTransport(conf transport.Config, caps transport.Capabilities) *mockTransport {
	return &mockTransport{
		Base: transport.NewBase(conf),
		caps: caps,
	}
}

func mockBuilder(caps transport.Capabilities, created *[]*mockTransport) BuildFunc {
	return func(conf transport.Config) (transport.Transport, error) {
		m := newMockTransport(conf, caps)
		if created != nil {
			*created = append(*created, m)
		}
		return m, nil
	}
}

var (
	streamCaps   = transport.Capabilities{Backend: "mock", Streams: true, CongestionControl: []string{"mock-cc"}}
	datagramCaps = transport.Capabilities{Backend: "mock", Datagrams: true}
	bothCaps     = transport.Capabilities{Backend: "mock", Datagrams: true, Streams: true}
)

func (m *mockTransport) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	if m.startBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.Activate(nil)
}

func (m *mockTransport) Stop() error {
	m.mu.Lock()
	m.stopCalls++
	m.mu.Unlock()

	m.Close()
	return nil
}

func (m *mockTransport) send(dst *[][]byte, payload []byte) error {
	return m.Do(func() error {
		if m.sendDelay > 0 {
			time.Sleep(m.sendDelay)
		}
		if m.sendErr != nil {
			return m.sendErr
		}

		m.mu.Lock()
		*dst = append(*dst, payload)
		m.mu.Unlock()
		return nil
	})
}

func (m *mockTransport) SendStream(payload []byte) error {
	if !m.caps.Streams {
		return transport.ErrNotSupported
	}
	return m.send(&m.streams, payload)
}

func (m *mockTransport) SendDatagram(payload []byte) error {
	if !m.caps.Datagrams {
		return transport.ErrNotSupported
	}
	return m.send(&m.datagrams, payload)
}

func (m *mockTransport) SetCongestionControl(name string) bool {
	if !m.caps.SupportsCongestionControl(name) {
		return false
	}
	m.mu.Lock()
	m.ccAccepted = name
	m.mu.Unlock()
	return true
}

func (m *mockTransport) Capabilities() transport.Capabilities { return m.caps }

func (m *mockTransport) sent() (streams, datagrams int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.streams), len(m.datagrams)
}

func (m *mockTransport) stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopCalls
}
