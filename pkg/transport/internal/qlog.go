// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"

	log "github.com/sirupsen/logrus"
)

// QlogTracer returns a quic.Config Tracer writing one qlog file per connection into dir.
// The file is named after the original destination connection ID, "<id hex>.qlog", and
// its name is passed to onFile. An empty dir disables tracing and returns nil.
func QlogTracer(dir string, onFile func(name string)) func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	if dir == "" {
		return nil
	}

	return func(_ context.Context, p logging.Perspective, connID quic.ConnectionID) *logging.ConnectionTracer {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.WithError(err).WithField("dir", dir).Warn("Failed to create qlog directory")
			return nil
		}

		name := fmt.Sprintf("%s.qlog", hex.EncodeToString(connID.Bytes()))
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			log.WithError(err).WithField("dir", dir).Warn("Failed to create qlog file")
			return nil
		}

		log.WithFields(log.Fields{
			"file":        name,
			"perspective": p,
		}).Debug("Writing qlog")

		if onFile != nil {
			onFile(name)
		}
		return qlog.NewConnectionTracer(newBufferedWriteCloser(f), p, connID)
	}
}

type bufferedWriteCloser struct {
	*bufio.Writer
	f *os.File
}

func newBufferedWriteCloser(f *os.File) *bufferedWriteCloser {
	return &bufferedWriteCloser{Writer: bufio.NewWriter(f), f: f}
}

func (b *bufferedWriteCloser) Close() error {
	if err := b.Writer.Flush(); err != nil {
		_ = b.f.Close()
		return err
	}
	return b.f.Close()
}
