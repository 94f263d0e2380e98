// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bulk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"
)

// Result of one received transfer.
type Result struct {
	Header
	Received uint64
	Valid    bool
	Path     string
	Duration time.Duration
	Err      error
}

// Receiver accepts bulk transfers.
type Receiver struct {
	conf Config
	ln   net.Listener
	wg   sync.WaitGroup

	mu      sync.Mutex
	results []Result
	conns   map[net.Conn]struct{}
	closed  bool
}

// Listen for bulk transfers on the address.
func Listen(conf Config, address string) (*Receiver, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		conf:  conf,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}

	r.wg.Add(1)
	go r.serve()

	log.WithField("address", ln.Addr()).Debug("Bulk receiver listening")
	return r, nil
}

// Addr the Receiver listens on.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

func (r *Receiver) serve() {
	defer r.wg.Done()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("Bulk receiver failed to accept")
			}
			return
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = conn.Close()
			return
		}
		r.conns[conn] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go r.handle(conn)
	}
}

func (r *Receiver) handle(conn net.Conn) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	start := time.Now()
	res := r.receive(bufio.NewReader(conn))
	res.Duration = time.Since(start)

	entry := log.WithFields(log.Fields{
		"peer":     conn.RemoteAddr(),
		"header":   res.Header,
		"received": res.Received,
		"duration": res.Duration,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Warn("Bulk transfer failed")
	} else if !res.Valid {
		entry.Warn("Bulk transfer has an invalid checksum")
	} else {
		entry.Info("Bulk transfer received")
	}

	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *Receiver) receive(rd io.Reader) (res Result) {
	if res.Err = cboring.Unmarshal(&res.Header, rd); res.Err != nil {
		res.Err = fmt.Errorf("reading header failed: %w", res.Err)
		return
	}

	sink := io.Discard
	if r.conf.Dir != "" {
		res.Path = filepath.Join(r.conf.Dir, filepath.Base(res.Name))
		f, err := os.Create(res.Path)
		if err != nil {
			res.Err = err
			return
		}
		defer func() { _ = f.Close() }()
		sink = f
	}

	var crc checksumWriter
	n, err := io.CopyN(io.MultiWriter(sink, &crc), rd, int64(res.Size))
	res.Received = uint64(n)
	if err != nil {
		res.Err = fmt.Errorf("reading content failed: %w", err)
		return
	}

	trailer := make([]byte, 2)
	if _, err := io.ReadFull(rd, trailer); err != nil {
		res.Err = fmt.Errorf("reading checksum failed: %w", err)
		return
	}
	res.Valid = binary.BigEndian.Uint16(trailer) == crc.crc
	return
}

// Results of all finished transfers.
func (r *Receiver) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Result(nil), r.results...)
}

// Close the listener and all running transfers.
func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	for conn := range r.conns {
		_ = conn.Close()
	}
	r.mu.Unlock()

	err := r.ln.Close()
	r.wg.Wait()
	return err
}
