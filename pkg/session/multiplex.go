// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/transport"
)

// Mode is the way payloads are handed to a Transport.
type Mode int

const (
	// ModeDatagram sends each payload with SendDatagram. Failures are dropped.
	ModeDatagram Mode = iota

	// ModeStream sends each payload with SendStream. A lost connection is fatal.
	ModeStream
)

func (m Mode) String() string {
	if m == ModeDatagram {
		return "datagram"
	}
	return "stream"
}

// SelectMode picks datagrams if requested and supported, otherwise streams if supported.
// Backends without streams always get datagrams.
func SelectMode(caps transport.Capabilities, useDatagrams bool) Mode {
	switch {
	case useDatagrams && caps.Datagrams:
		return ModeDatagram
	case caps.Streams:
		return ModeStream
	default:
		return ModeDatagram
	}
}

// Multiplexer forwards local payloads into a Transport.
type Multiplexer struct {
	transport transport.Transport
	mode      Mode
	log       *log.Entry
}

// NewMultiplexer for a Transport.
func NewMultiplexer(t transport.Transport, useDatagrams bool) *Multiplexer {
	caps := t.Capabilities()
	return &Multiplexer{
		transport: t,
		mode:      SelectMode(caps, useDatagrams),
		log:       log.WithField("backend", caps.Backend),
	}
}

// Mode in use.
func (m *Multiplexer) Mode() Mode {
	return m.mode
}

// Forward one payload. Only errors which should end the Session are returned.
func (m *Multiplexer) Forward(payload []byte) error {
	var err error
	if m.mode == ModeDatagram {
		err = m.transport.SendDatagram(payload)
	} else {
		err = m.transport.SendStream(payload)
	}

	switch {
	case err == nil:
		return nil

	case errors.Is(err, transport.ErrNotRunning):
		return err

	case m.mode == ModeStream && errors.Is(err, transport.ErrConnectionLost):
		return err

	default:
		m.log.WithError(err).WithFields(log.Fields{
			"mode": m.mode,
			"size": len(payload),
		}).Warn("Dropping payload")
		return nil
	}
}
