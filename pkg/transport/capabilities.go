// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "fmt"

// Capabilities describe what a backend supports.
type Capabilities struct {
	Backend           string   `json:"name"`
	Datagrams         bool     `json:"supportsDatagrams"`
	Streams           bool     `json:"supportsStreams"`
	CongestionControl []string `json:"congestionControlNames"`
}

// SupportsCongestionControl checks if the named algorithm is listed.
func (c Capabilities) SupportsCongestionControl(name string) bool {
	for _, cc := range c.CongestionControl {
		if cc == name {
			return true
		}
	}
	return false
}

func (c Capabilities) String() string {
	return fmt.Sprintf("%s(datagrams=%t, streams=%t, cc=%v)",
		c.Backend, c.Datagrams, c.Streams, c.CongestionControl)
}
