// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement of some endpoint's control plane and tunnel port.
type Announcement struct {
	ControlPort uint
	QuicPort    uint
	Backends    []string
}

// UnmarshalAnnouncement creates an Announcement based on a CBOR byte string.
func UnmarshalAnnouncement(data []byte) (announcement Announcement, err error) {
	err = cboring.Unmarshal(&announcement, bytes.NewBuffer(data))
	return
}

// MarshalAnnouncement into a CBOR byte string.
func MarshalAnnouncement(announcement Announcement) ([]byte, error) {
	buff := new(bytes.Buffer)
	if err := cboring.Marshal(&announcement, buff); err != nil {
		return nil, fmt.Errorf("marshalling %v failed: %w", announcement, err)
	}
	return buff.Bytes(), nil
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(announcement.ControlPort), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.QuicPort), w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(announcement.Backends)), w); err != nil {
		return err
	}
	for _, backend := range announcement.Backends {
		if err := cboring.WriteTextString(backend, w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.ControlPort = uint(n)
	}
	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.QuicPort = uint(n)
	}

	l, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	announcement.Backends = make([]string, l)
	for i := range announcement.Backends {
		if announcement.Backends[i], err = cboring.ReadTextString(r); err != nil {
			return fmt.Errorf("unmarshalling backend %d failed: %w", i, err)
		}
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%d,%d,%v)", announcement.ControlPort, announcement.QuicPort, announcement.Backends)
}
