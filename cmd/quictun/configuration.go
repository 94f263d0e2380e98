// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quictun/pkg/bulk"
	"github.com/dtn7/quictun/pkg/session"
	"github.com/dtn7/quictun/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Tunnel    tunnelConf
	Logging   logConf
	Session   sessionConf
	Bulk      bulkConf
	Control   controlConf
	Discovery discoveryConf
}

// tunnelConf describes the Tunnel-configuration block.
type tunnelConf struct {
	Mode         string
	QlogDir      string `toml:"qlog-dir"`
	StartTimeout string `toml:"start-timeout"`
	MaxSessions  int    `toml:"max-sessions"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// sessionConf describes the single session of the in and out modes.
type sessionConf struct {
	Backend              string
	DestinationHost      string `toml:"destination-host"`
	DestinationPort      int    `toml:"destination-port"`
	LocalHost            string `toml:"local-host"`
	LocalPort            int    `toml:"local-port"`
	RelayHost            string `toml:"relay-host"`
	RelayPort            int    `toml:"relay-port"`
	UseDatagrams         bool   `toml:"use-datagrams"`
	CongestionControl    string `toml:"congestion-control"`
	ExternalFileTransfer bool   `toml:"external-file-transfer"`
}

// bulkConf describes the Bulk-configuration block for external file transfers.
type bulkConf struct {
	File string
	Size int64
	Rate int
	Port int
	Dir  string
}

// controlConf describes the Control-configuration block.
type controlConf struct {
	Listen       string
	QvisURL      string `toml:"qvis-url"`
	CompressLogs bool   `toml:"compress-logs"`
	History      string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
	QuicPort uint `toml:"quic-port"`
}

// Tunnel modes.
const (
	modeIn      = "in"
	modeOut     = "out"
	modeControl = "control"
)

// parseConfig reads and checks a TOML configuration file.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	switch conf.Tunnel.Mode {
	case modeIn, modeOut, modeControl:
	case "":
		err = fmt.Errorf("tunnel.mode is empty")
	default:
		err = fmt.Errorf("unknown tunnel.mode %q", conf.Tunnel.Mode)
	}
	return
}

// applyLogging configures logrus' standard logger.
func applyLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// startTimeout parses tunnel.start-timeout, defaulting to ten seconds.
func (conf tunnelConf) startTimeout() (time.Duration, error) {
	if conf.StartTimeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(conf.StartTimeout)
}

// defaults are the session Options shared by all sessions.
func (conf tomlConfig) defaults() (session.Options, error) {
	timeout, err := conf.Tunnel.startTimeout()
	if err != nil {
		return session.Options{}, fmt.Errorf("invalid tunnel.start-timeout: %w", err)
	}

	return session.Options{
		Transport:    transport.Config{QlogDir: conf.Tunnel.QlogDir},
		StartTimeout: timeout,
		Bulk: bulk.Config{
			File: conf.Bulk.File,
			Size: conf.Bulk.Size,
			Rate: conf.Bulk.Rate,
			Port: conf.Bulk.Port,
			Dir:  conf.Bulk.Dir,
		},
	}, nil
}

// sessionOptions for the single session of the in or out mode.
func (conf tomlConfig) sessionOptions() (opts session.Options, err error) {
	if opts, err = conf.defaults(); err != nil {
		return
	}

	role, err := transport.ParseRole(conf.Tunnel.Mode)
	if err != nil {
		return
	}
	b, err := transport.ParseBackend(conf.Session.Backend)
	if err != nil {
		return
	}

	opts.Transport.Backend = b
	opts.Transport.Role = role
	opts.Transport.Host = conf.Session.DestinationHost
	opts.Transport.Port = conf.Session.DestinationPort
	opts.LocalHost = conf.Session.LocalHost
	opts.LocalPort = conf.Session.LocalPort
	opts.UseDatagrams = conf.Session.UseDatagrams
	opts.CongestionControl = conf.Session.CongestionControl
	opts.ExternalFileTransfer = conf.Session.ExternalFileTransfer

	if role == transport.RoleOut {
		if conf.Session.RelayHost == "" || conf.Session.RelayPort == 0 {
			err = fmt.Errorf("session.relay-host and session.relay-port are required for mode out")
			return
		}
		opts.RelayAddr = net.JoinHostPort(conf.Session.RelayHost, strconv.Itoa(conf.Session.RelayPort))
	}

	err = opts.Transport.CheckValid()
	return
}
