// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Trace is a per-connection JSON event log for backends without qlog support.
type Trace struct {
	*log.Logger

	Name string
	file *os.File
}

// OpenTrace creates "<prefix>-<uuid>.log" in dir. For an empty dir, events are discarded
// and Name stays empty.
func OpenTrace(dir, prefix string) (*Trace, error) {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(log.DebugLevel)

	if dir == "" {
		logger.SetOutput(io.Discard)
		return &Trace{Logger: logger}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating trace directory failed: %w", err)
	}

	name := fmt.Sprintf("%s-%s.log", prefix, uuid.New())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating trace file failed: %w", err)
	}

	logger.SetOutput(f)
	return &Trace{Logger: logger, Name: name, file: f}, nil
}

// Close the underlying file.
func (t *Trace) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}
