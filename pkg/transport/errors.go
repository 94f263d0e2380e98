// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend is part of a ConfigurationError for an unsupported backend name or value.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrUnknownRole is part of a ConfigurationError for an unsupported role.
	ErrUnknownRole = errors.New("unknown role")

	// ErrNotRunning is returned for sends before Start finished or after Stop began.
	ErrNotRunning = errors.New("transport is not running")

	// ErrNotSupported is returned for a send mode the backend lacks, e.g., datagrams over TCP.
	ErrNotSupported = errors.New("operation not supported by backend")

	// ErrConnectionLost marks a write failure which broke the connection.
	ErrConnectionLost = errors.New("connection lost")
)

// ConfigurationError is returned for an invalid Config before any resource was allocated.
type ConfigurationError struct {
	Cause error
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid transport configuration: %v", err.Cause)
}

func (err *ConfigurationError) Unwrap() error {
	return err.Cause
}

// HandshakeError is returned by Start if the connection could not be established.
type HandshakeError struct {
	Backend Backend
	Role    Role
	Cause   error
}

// NewHandshakeError for a Config.
func NewHandshakeError(conf Config, cause error) *HandshakeError {
	return &HandshakeError{
		Backend: conf.Backend,
		Role:    conf.Role,
		Cause:   cause,
	}
}

func (err *HandshakeError) Error() string {
	return fmt.Sprintf("%v handshake as %v failed: %v", err.Backend, err.Role, err.Cause)
}

func (err *HandshakeError) Unwrap() error {
	return err.Cause
}

// ConnectionLost wraps cause to match both ErrConnectionLost and cause in errors.Is.
func ConnectionLost(cause error) error {
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}
