// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "errors"

var (
	// ErrSessionLimitReached is returned by Create if the Registry is full.
	ErrSessionLimitReached = errors.New("maximum number of concurrent sessions reached")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyStarted is returned by Run for a Session which is not in the created state.
	ErrAlreadyStarted = errors.New("session was already started or stopped")
)
