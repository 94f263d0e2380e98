// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"

	"github.com/schollz/peerdiscovery"
)

func TestAnnouncementCbor(t *testing.T) {
	var tests = []Announcement{
		{ControlPort: 8080, QuicPort: 4242, Backends: []string{"quic-go", "webtransport", "kcp", "tcp", "udp"}},
		{ControlPort: 1, QuicPort: 65535, Backends: []string{"udp"}},
		{ControlPort: 8080, QuicPort: 4242, Backends: []string{}},
	}

	for _, annIn := range tests {
		buff, err := MarshalAnnouncement(annIn)
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		annOut, err := UnmarshalAnnouncement(buff)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if !reflect.DeepEqual(annIn, annOut) {
			t.Fatalf("Decoded Announcement differs: %v became %v", annIn, annOut)
		}
	}
}

func TestAnnouncementCborInvalid(t *testing.T) {
	// Array of length two instead of three.
	if _, err := UnmarshalAnnouncement([]byte{0x82, 0x01, 0x02}); err == nil {
		t.Fatal("Decoding a short array succeeded")
	}
}

func TestManagerNotify(t *testing.T) {
	manager := &Manager{peers: make(map[string]Peer)}

	ann := Announcement{ControlPort: 8080, QuicPort: 4242, Backends: []string{"tcp"}}
	msg, err := MarshalAnnouncement(ann)
	if err != nil {
		t.Fatal(err)
	}

	manager.notify(peerdiscovery.Discovered{Address: "10.0.0.2", Payload: msg})
	manager.notify6(peerdiscovery.Discovered{Address: "fe80::1", Payload: msg})
	manager.notify(peerdiscovery.Discovered{Address: "10.0.0.3", Payload: []byte{0xff}})
	manager.notify(peerdiscovery.Discovered{Address: "10.0.0.2", Payload: msg})

	peers := manager.Peers()
	if len(peers) != 2 {
		t.Fatalf("expected two peers, got %v", peers)
	}
	if peers[0].Address != "10.0.0.2" || peers[1].Address != "[fe80::1]" {
		t.Fatalf("unexpected peers %v", peers)
	}
	if !reflect.DeepEqual(peers[0].Announcement, ann) {
		t.Fatalf("unexpected announcement %v", peers[0].Announcement)
	}
}
