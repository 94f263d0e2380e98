// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package history persists a record of every stopped tunnel session.
package history

import (
	"os"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// Record of one stopped session.
type Record struct {
	ID string `badgerhold:"key"`

	SessionID   int    `badgerholdIndex:"SessionID"`
	Role        string
	Backend     string
	Destination string

	Started time.Time
	Stopped time.Time

	LogFile string
	Error   string
}

// Duration the session was running.
func (r Record) Duration() time.Duration {
	if r.Started.IsZero() || r.Stopped.IsZero() {
		return 0
	}
	return r.Stopped.Sub(r.Started)
}

// Store for Records.
type Store struct {
	bh *badgerhold.Store
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (*Store, error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if err := os.MkdirAll(badgerDir, 0700); err != nil {
		return nil, err
	}

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{bh: bh}, nil
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Add a Record. An empty ID is replaced by a random one, which is returned.
func (s *Store) Add(r Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	log.WithFields(log.Fields{
		"record":  r.ID,
		"session": r.SessionID,
		"role":    r.Role,
	}).Debug("History stores record")

	return r.ID, s.bh.Insert(r.ID, r)
}

// Get a Record by its ID.
func (s *Store) Get(id string) (r Record, err error) {
	err = s.bh.Get(id, &r)
	return
}

// All Records, oldest first.
func (s *Store) All() ([]Record, error) {
	var records []Record
	if err := s.bh.Find(&records, nil); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// BySession returns all Records of a session id, oldest first. Session ids are reused,
// so multiple Records might show up.
func (s *Store) BySession(sessionID int) ([]Record, error) {
	var records []Record
	if err := s.bh.Find(&records, badgerhold.Where("SessionID").Eq(sessionID)); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Started.Before(records[j].Started)
	})
}
