// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// Peer is a discovered endpoint.
type Peer struct {
	Address      string       `json:"address"`
	Announcement Announcement `json:"announcement"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// Manager publishes its own Announcement and collects those of other endpoints.
type Manager struct {
	mu    sync.Mutex
	peers map[string]Peer

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for Announcements will be created and started.
func NewManager(announcement Announcement, announcementInterval time.Duration, ipv4, ipv6 bool) (*Manager, error) {
	var manager = &Manager{
		peers: make(map[string]Peer),
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":     announcementInterval,
		"IPv4":         ipv4,
		"IPv6":         ipv6,
		"announcement": announcement,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncement(announcement)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        false,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcement, err := UnmarshalAnnouncement(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).
			Warn("Peer discovery failed to parse incoming package")
		return
	}

	manager.mu.Lock()
	_, known := manager.peers[discovered.Address]
	manager.peers[discovered.Address] = Peer{
		Address:      discovered.Address,
		Announcement: announcement,
		LastSeen:     time.Now(),
	}
	manager.mu.Unlock()

	if !known {
		log.WithFields(log.Fields{
			"peer":    discovered.Address,
			"message": announcement,
		}).Info("Peer discovery found a new peer")
	}
}

// Peers discovered so far, ordered by their address.
func (manager *Manager) Peers() []Peer {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	peers := make([]Peer, 0, len(manager.peers))
	for _, peer := range manager.peers {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
