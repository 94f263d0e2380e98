// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"encoding/json"
	"time"

	"github.com/dtn7/quictun/pkg/discovery"
	"github.com/dtn7/quictun/pkg/transport"
)

// Commands understood by the Handler.
const (
	CmdStartClient  = "startclient"
	CmdStartServer  = "startserver"
	CmdStopClient   = "stopclient"
	CmdStopServer   = "stopserver"
	CmdCapabilities = "capabilities"
)

// Response types.
const (
	TypeResponse = "response"
	TypeError    = "error"
)

// Request envelope sent by the controller.
type Request struct {
	Cmd     string          `json:"cmd"`
	TransID int             `json:"transId"`
	Data    json.RawMessage `json:"data"`
}

// Response envelope answering a Request.
type Response struct {
	Type    string      `json:"type"`
	TransID int         `json:"transId"`
	Data    interface{} `json:"data"`
}

// StartRequest is the data of startclient and startserver.
type StartRequest struct {
	Backend              string `json:"backend"`
	DestinationHost      string `json:"destinationHost"`
	DestinationPort      int    `json:"destinationPort"`
	UseDatagrams         bool   `json:"useDatagrams"`
	CongestionControl    string `json:"congestionControl"`
	ExternalFileTransfer bool   `json:"externalFileTransfer"`

	// LocalPort of an in session's socket. Zero picks a free port.
	LocalPort int `json:"localPort,omitempty"`

	// RelayHost and RelayPort address the relay of an out session.
	RelayHost string `json:"relayHost,omitempty"`
	RelayPort int    `json:"relayPort,omitempty"`
}

// StartResponse is the data answering a StartRequest.
type StartResponse struct {
	SessionID int `json:"sessionId"`
	LocalPort int `json:"localPort"`
}

// StopRequest is the data of stopclient and stopserver.
type StopRequest struct {
	SessionID int `json:"sessionId"`
}

// StopResponse is the data answering a StopRequest.
type StopResponse struct {
	LogFileURL string `json:"logFileUrl"`
}

// CapabilitiesResponse is the data answering capabilities.
type CapabilitiesResponse struct {
	Backends []transport.Capabilities `json:"backends"`
	Peers    []discovery.Peer         `json:"peers,omitempty"`
}

// ErrorResponse is the data of each error Response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// SessionInfo describes a live session for the REST API.
type SessionInfo struct {
	ID          int       `json:"sessionId"`
	Role        string    `json:"role"`
	Backend     string    `json:"backend"`
	Destination string    `json:"destination"`
	LocalPort   int       `json:"localPort"`
	Mode        string    `json:"mode"`
	State       string    `json:"state"`
	Started     time.Time `json:"started"`
}
