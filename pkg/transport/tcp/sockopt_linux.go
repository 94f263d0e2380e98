// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package tcp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Within this file, Linux-specific socket options are used. Dialed and accepted
// connections detect a lost peer faster and the congestion control algorithm is selectable through
// TCP_CONGESTION, see tcp(7).

// congestionControls are the algorithms offered. "bbr" requires the tcp_bbr module.
var congestionControls = []string{"cubic", "reno", "bbr"}

// keepaliveOptions let a connection fail after about 10s without an answering peer.
var keepaliveOptions = map[int]int{
	unix.TCP_KEEPCNT:      2,
	unix.TCP_KEEPIDLE:     5,
	unix.TCP_KEEPINTVL:    3,
	unix.TCP_USER_TIMEOUT: 10000,
}

func setKeepaliveOptions(rawConn syscall.RawConn) (err error) {
	ctrlErr := rawConn.Control(func(fd uintptr) {
		for opt, value := range keepaliveOptions {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return
}

// dialControl is the net.Dialer's Control function to set the keepalive options.
func dialControl(_, _ string, rawConn syscall.RawConn) error {
	return setKeepaliveOptions(rawConn)
}

// tuneAccepted applies the dialer's keepalive options to an accepted connection.
func tuneAccepted(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	return setKeepaliveOptions(rawConn)
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout: 5 * time.Second,
		Control: dialControl,
	}
}

func setCongestionControl(conn *net.TCPConn, name string) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var optErr error
	if err := rawConn.Control(func(fd uintptr) {
		optErr = unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, name)
	}); err != nil {
		return err
	}
	return optErr
}

func congestionControl(conn *net.TCPConn) (name string, err error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return "", err
	}

	var optErr error
	if err := rawConn.Control(func(fd uintptr) {
		name, optErr = unix.GetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	}); err != nil {
		return "", err
	}
	return name, optErr
}
