// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package history

import (
	"testing"
	"time"

	"github.com/timshannon/badgerhold"
)

func TestStore(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now()
	records := []Record{
		{SessionID: 3, Role: "in", Backend: "quic-go", Destination: "10.0.0.1:4242", Started: now.Add(-time.Minute), Stopped: now},
		{SessionID: 1, Role: "out", Backend: "tcp", Destination: ":4242", Started: now.Add(-2 * time.Minute), Stopped: now, Error: "connection lost"},
		{SessionID: 3, Role: "in", Backend: "kcp", Destination: "10.0.0.1:4242", Started: now.Add(-3 * time.Minute), Stopped: now, LogFile: "/tmp/kcp.log"},
	}

	ids := make(map[string]bool)
	for _, r := range records {
		id, err := store.Add(r)
		if err != nil {
			t.Fatal(err)
		}
		if id == "" || ids[id] {
			t.Fatalf("invalid or duplicate record id %q", id)
		}
		ids[id] = true
	}

	all, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(all))
	}
	if all[0].Backend != "kcp" || all[2].Backend != "quic-go" {
		t.Fatalf("records are not ordered by start: %v", all)
	}

	bySession, err := store.BySession(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(bySession) != 2 {
		t.Fatalf("expected two records of session 3, got %d", len(bySession))
	}
	for _, r := range bySession {
		if r.SessionID != 3 {
			t.Fatalf("record of session %d returned", r.SessionID)
		}
	}

	if d := bySession[0].Duration(); d < 3*time.Minute-time.Second || d > 3*time.Minute+time.Second {
		t.Fatalf("unexpected duration %v", d)
	}

	got, err := store.Get(all[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != "connection lost" {
		t.Fatalf("unexpected record %v", got)
	}

	if _, err := store.Get("unknown"); err != badgerhold.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.Add(Record{SessionID: 2, Role: "in", Started: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	if r, err := store.Get(id); err != nil {
		t.Fatal(err)
	} else if r.SessionID != 2 {
		t.Fatalf("unexpected record %v", r)
	}
}
