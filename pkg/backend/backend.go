// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package backend builds Transports for a transport.Config.
package backend

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/transport"
	"github.com/dtn7/quictun/pkg/transport/kcp"
	"github.com/dtn7/quictun/pkg/transport/quicgo"
	"github.com/dtn7/quictun/pkg/transport/tcp"
	"github.com/dtn7/quictun/pkg/transport/udp"
	"github.com/dtn7/quictun/pkg/transport/webtransport"
)

// New creates the Transport selected by the Config's Backend. An invalid Config results
// in a transport.ConfigurationError and no Transport.
func New(conf transport.Config) (transport.Transport, error) {
	if err := conf.CheckValid(); err != nil {
		return nil, err
	}

	var t transport.Transport
	switch conf.Backend {
	case transport.QuicGo:
		t = quicgo.New(conf)
	case transport.WebTransport:
		t = webtransport.New(conf)
	case transport.KCP:
		t = kcp.New(conf)
	case transport.TCP:
		t = tcp.New(conf)
	case transport.UDP:
		t = udp.New(conf)
	default:
		return nil, &transport.ConfigurationError{Cause: fmt.Errorf("%w: %v", transport.ErrUnknownBackend, conf.Backend)}
	}

	log.WithField("config", conf).Debug("Built transport")
	return t, nil
}

// Capabilities of a Backend, without instantiating it.
func Capabilities(b transport.Backend) (transport.Capabilities, error) {
	switch b {
	case transport.QuicGo:
		return quicgo.Capabilities(), nil
	case transport.WebTransport:
		return webtransport.Capabilities(), nil
	case transport.KCP:
		return kcp.Capabilities(), nil
	case transport.TCP:
		return tcp.Capabilities(), nil
	case transport.UDP:
		return udp.Capabilities(), nil
	default:
		return transport.Capabilities{}, fmt.Errorf("%w: %v", transport.ErrUnknownBackend, b)
	}
}

// Describe lists the Capabilities of all compiled-in backends.
func Describe() []transport.Capabilities {
	caps := make([]transport.Capabilities, 0, len(transport.Backends))
	for _, b := range transport.Backends {
		if c, err := Capabilities(b); err == nil {
			caps = append(caps, c)
		}
	}
	return caps
}
