// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// quictun relays a local UDP flow through a tunnel, either as a single "in" or "out"
// endpoint or as a control daemon managing sessions on behalf of a controller.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/backend"
	"github.com/dtn7/quictun/pkg/control"
	"github.com/dtn7/quictun/pkg/discovery"
	"github.com/dtn7/quictun/pkg/history"
	"github.com/dtn7/quictun/pkg/logfile"
	"github.com/dtn7/quictun/pkg/session"
)

// waitSigint blocks until a SIGINT appears or the done channel is closed.
func waitSigint(done <-chan struct{}) {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)
	defer signal.Stop(signalSyn)

	select {
	case <-signalSyn:
		log.Info("Received interrupt signal")
	case <-done:
	}
}

// runSession runs the single session of the in or out mode.
func runSession(conf tomlConfig) error {
	opts, err := conf.sessionOptions()
	if err != nil {
		return err
	}

	registry := session.NewRegistry(1, backend.New)
	s, err := registry.Create(opts)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"session":    s.ID(),
		"config":     opts.Transport,
		"local-port": s.LocalPort(),
		"mode":       s.Mode(),
	}).Info("Starting session")

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	waitSigint(s.Done())
	log.Info("Shutting down..")

	if err := s.Stop(); err != nil {
		log.WithError(err).Warn("Session stopped with errors")
	}
	err = <-runErr

	if logFile := s.LogFile(); logFile != "" {
		log.WithField("file", logfile.Locator{BaseURL: conf.Control.QvisURL}.URL(logFile)).Info("Session log")
	}
	return err
}

// runControl runs the control daemon until SIGINT.
func runControl(conf tomlConfig) error {
	defaults, err := conf.defaults()
	if err != nil {
		return err
	}

	handlerOpts := []control.HandlerOption{
		control.WithDefaults(defaults),
		control.WithLocator(logfile.Locator{BaseURL: conf.Control.QvisURL}),
	}
	if conf.Control.CompressLogs {
		handlerOpts = append(handlerOpts, control.WithCompressedLogs())
	}

	if conf.Control.History != "" {
		store, err := history.NewStore(conf.Control.History)
		if err != nil {
			return fmt.Errorf("opening history failed: %w", err)
		}
		defer func() { _ = store.Close() }()

		handlerOpts = append(handlerOpts, control.WithHistory(store))
	}

	listen := conf.Control.Listen
	if listen == "" {
		listen = ":8080"
	}

	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		manager, err := startDiscovery(conf.Discovery, listen)
		if err != nil {
			return fmt.Errorf("starting discovery failed: %w", err)
		}
		defer manager.Close()

		handlerOpts = append(handlerOpts, control.WithPeers(manager))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := control.NewHandler(ctx,
		session.NewRegistry(conf.Tunnel.MaxSessions, backend.New),
		session.NewRegistry(conf.Tunnel.MaxSessions, backend.New),
		handlerOpts...)

	server := control.NewServer(listen, handler)
	if err := server.Start(); err != nil {
		return err
	}

	waitSigint(nil)
	log.Info("Shutting down..")

	if err := server.Close(); err != nil {
		log.WithError(err).Warn("Closing control server errored")
	}
	return handler.Close()
}

func startDiscovery(conf discoveryConf, listen string) (*discovery.Manager, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, err
	}
	controlPort, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	interval := conf.Interval
	if interval == 0 {
		interval = 10
	}

	var backends []string
	for _, caps := range backend.Describe() {
		backends = append(backends, caps.Backend)
	}

	return discovery.NewManager(
		discovery.Announcement{ControlPort: uint(controlPort), QuicPort: conf.QuicPort, Backends: backends},
		time.Duration(interval)*time.Second, conf.IPv4, conf.IPv6)
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}
	applyLogging(conf.Logging)

	if watcher, err := watchConfig(os.Args[1], nil); err != nil {
		log.WithError(err).Warn("Failed to watch the configuration file")
	} else {
		defer func() { _ = watcher.Close() }()
	}

	switch conf.Tunnel.Mode {
	case modeControl:
		err = runControl(conf)
	default:
		err = runSession(conf)
	}

	if err != nil {
		log.WithError(err).Error("quictun failed")
		os.Exit(1)
	}
}
