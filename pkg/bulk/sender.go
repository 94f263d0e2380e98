// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bulk

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const chunkSize = 16 * 1024

// Sender transfers one file to a Receiver.
type Sender struct {
	conf    Config
	address string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	sent atomic.Int64
}

// NewSender for the Receiver's address.
func NewSender(conf Config, address string) *Sender {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		conf:    conf,
		address: address,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start the transfer in the background.
func (s *Sender) Start() {
	go func() {
		defer close(s.done)

		start := time.Now()
		s.err = s.run()

		entry := log.WithFields(log.Fields{
			"address":  s.address,
			"sent":     s.sent.Load(),
			"duration": time.Since(start),
		})
		if s.err != nil && s.ctx.Err() == nil {
			entry.WithError(s.err).Warn("Bulk transfer failed")
		} else {
			entry.Info("Bulk transfer finished")
		}
	}()
}

func (s *Sender) run() error {
	name, size, src, err := s.conf.source()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	var dialer net.Dialer
	conn, err := dialer.DialContext(s.ctx, "tcp", s.address)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	stopClose := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stopClose()

	w := bufio.NewWriter(conn)

	hdr := Header{Name: name, Size: uint64(size)}
	if err := cboring.Marshal(&hdr, w); err != nil {
		return fmt.Errorf("writing header failed: %w", err)
	}

	var crc checksumWriter
	paced := &pacedWriter{ctx: s.ctx, w: w, limiter: s.limiter(), sent: &s.sent}
	if n, err := io.Copy(io.MultiWriter(paced, &crc), io.LimitReader(src, size)); err != nil {
		return fmt.Errorf("writing content failed: %w", err)
	} else if n != size {
		return fmt.Errorf("content ended after %d of %d bytes", n, size)
	}

	trailer := make([]byte, 2)
	binary.BigEndian.PutUint16(trailer, crc.crc)
	if _, err := w.Write(trailer); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Sender) limiter() *rate.Limiter {
	if s.conf.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, chunkSize)
	}

	burst := s.conf.Rate / 10
	if burst < chunkSize {
		burst = chunkSize
	}
	return rate.NewLimiter(rate.Limit(s.conf.Rate), burst)
}

// Sent returns the number of content bytes written so far.
func (s *Sender) Sent() int64 {
	return s.sent.Load()
}

// Wait for the transfer to end and return its error.
func (s *Sender) Wait() error {
	<-s.done
	return s.err
}

// Close aborts a running transfer.
func (s *Sender) Close() error {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		return fmt.Errorf("bulk sender did not stop")
	}
	return nil
}

// pacedWriter writes in chunks, each waiting for the limiter.
type pacedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
	sent    *atomic.Int64
}

func (p *pacedWriter) Write(b []byte) (written int, err error) {
	for len(b) > 0 {
		n := len(b)
		if burst := p.limiter.Burst(); n > burst {
			n = burst
		}

		if err = p.limiter.WaitN(p.ctx, n); err != nil {
			return
		}

		var m int
		m, err = p.w.Write(b[:n])
		written += m
		p.sent.Add(int64(m))
		if err != nil {
			return
		}
		b = b[n:]
	}
	return
}
