// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bulk implements the side-channel file transfer of a tunnel session.
//
// The transfer runs over its own TCP connection next to the tunnel and competes with it
// for the bottleneck. A transfer consists of a CBOR Header, Size bytes of content and a
// CRC-16/CCITT of the content, big-endian.
package bulk

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// Header announces a transfer.
type Header struct {
	Name string
	Size uint64
}

// MarshalCbor writes the Header as a CBOR array of two elements.
func (h *Header) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(h.Name, w); err != nil {
		return err
	}
	return cboring.WriteUInt(h.Size, w)
}

// UnmarshalCbor reads a Header.
func (h *Header) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if name, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		h.Name = name
	}

	if size, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		h.Size = size
	}

	return nil
}

func (h Header) String() string {
	return fmt.Sprintf("Header(%s,%d)", h.Name, h.Size)
}

// checksumWriter updates a CRC-16 with everything written.
type checksumWriter struct {
	crc uint16
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	c.crc = crc16.Update(c.crc, crc16table, p)
	return len(p), nil
}
