// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux

package tcp

import (
	"errors"
	"net"
	"time"
)

// This file implements the socket handling for operating systems next to Linux. There,
// the congestion control cannot be selected.

var congestionControls []string

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 5 * time.Second,
	}
}

func tuneAccepted(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	return conn.SetKeepAlivePeriod(5 * time.Second)
}

func setCongestionControl(*net.TCPConn, string) error {
	return errors.ErrUnsupported
}

func congestionControl(*net.TCPConn) (string, error) {
	return "", errors.ErrUnsupported
}
