// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport defines the Transport interface shared by all tunnel backends.
//
// A Transport carries the payloads of one tunnel session between the in and the out
// endpoint. Concrete backends live in the subpackages, e.g., quicgo or tcp, and are
// instantiated through the backend package. Every backend reports its Capabilities,
// which allows the session layer to choose between datagram and stream sends without
// branching on the backend's identity.
package transport
