// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/transport"
)

// DefaultMaxSessions is the number of concurrent Sessions per Registry.
const DefaultMaxSessions = 5

// BuildFunc creates a Transport for a Config, e.g., backend.New.
type BuildFunc func(transport.Config) (transport.Transport, error)

// Registry keeps the live Sessions of one role.
//
// Each Session gets a random id in [0, max). A Session leaves its Registry when it stops,
// making its id available again.
type Registry struct {
	max   int
	build BuildFunc

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewRegistry for at most max concurrent Sessions. A non-positive max selects
// DefaultMaxSessions.
func NewRegistry(max int, build BuildFunc) *Registry {
	if max <= 0 {
		max = DefaultMaxSessions
	}

	return &Registry{
		max:      max,
		build:    build,
		sessions: make(map[int]*Session),
	}
}

// Create a new Session, which is not started yet. Nothing is registered on failure.
func (r *Registry) Create(opts Options) (*Session, error) {
	if err := opts.Transport.CheckValid(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return nil, ErrSessionLimitReached
	}

	t, err := r.build(opts.Transport)
	if err != nil {
		return nil, err
	}

	s, err := newSession(r.nextID(), t, opts, r.release)
	if err != nil {
		_ = t.Stop()
		return nil, err
	}
	r.sessions[s.id] = s

	log.WithFields(log.Fields{
		"session":  s.id,
		"sessions": len(r.sessions),
		"config":   opts.Transport,
	}).Info("Registered new session")

	return s, nil
}

// nextID draws ids until an unused one shows up. The caller holds the lock and ensured
// that at least one id is free.
func (r *Registry) nextID() int {
	for {
		id := rand.Intn(r.max)
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
}

// release is called by a stopping Session.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if known, ok := r.sessions[s.id]; ok && known == s {
		delete(r.sessions, s.id)
	}
}

// Get a live Session by its id.
func (r *Registry) Get(id int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Stop and remove the Session of this id. The Session is returned for inspection.
func (r *Registry) Stop(id int) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return s, s.Stop()
}

// List all live Sessions, ordered by their id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	return sessions
}

// Len is the number of live Sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Max is the Registry's capacity.
func (r *Registry) Max() int {
	return r.max
}

// Close stops all Sessions.
func (r *Registry) Close() error {
	var errs *multierror.Error
	for _, s := range r.List() {
		if err := s.Stop(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
