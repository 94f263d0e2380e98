// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package control exposes the tunnel sessions to a controller.
//
// The controller talks JSON over a WebSocket at /ws. Each Request is an envelope
//
//	{"cmd": "startclient", "transId": 23, "data": {...}}
//
// answered by exactly one Response of type "response" or "error" carrying the same
// transId. The commands are startclient, startserver, stopclient, stopserver and
// capabilities. Additionally, a small read-only REST API serves the capabilities, the
// live sessions and the session history.
package control
