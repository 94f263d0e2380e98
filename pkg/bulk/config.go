// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bulk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config of a bulk transfer.
type Config struct {
	// File is sent by the Sender. If empty, Size zero bytes are sent.
	File string
	Size int64

	// Rate limits the Sender to this many bytes per second. Zero means unlimited.
	Rate int

	// Port of the Receiver. Zero selects the tunnel's port plus one.
	Port int

	// Dir stores received files. If empty, the content is discarded after verification.
	Dir string
}

// PortFor returns the bulk port for a tunnel port.
func (c Config) PortFor(tunnelPort int) int {
	if c.Port != 0 {
		return c.Port
	}
	return tunnelPort + 1
}

// source opens the content to be sent.
func (c Config) source() (name string, size int64, r io.ReadCloser, err error) {
	if c.File == "" {
		return "zero", c.Size, io.NopCloser(io.LimitReader(zeroReader{}, c.Size)), nil
	}

	f, err := os.Open(c.File)
	if err != nil {
		return "", 0, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return "", 0, nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return "", 0, nil, fmt.Errorf("%s is not a regular file", c.File)
	}

	return filepath.Base(c.File), info.Size(), f, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
