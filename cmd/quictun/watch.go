// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// configWatcher re-applies the logging block whenever the configuration file changes.
type configWatcher struct {
	filename string
	watcher  *fsnotify.Watcher
	done     chan struct{}

	reloaded func(tomlConfig)
}

// watchConfig starts watching the configuration file. Its directory is watched to also
// notice replaced files. The reloaded callback might be nil.
func watchConfig(filename string, reloaded func(tomlConfig)) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	cw := &configWatcher{
		filename: filepath.Clean(filename),
		watcher:  watcher,
		done:     make(chan struct{}),
		reloaded: reloaded,
	}
	go cw.handler()
	return cw, nil
}

func (cw *configWatcher) handler() {
	defer close(cw.done)

	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(e.Name) != cw.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			conf, err := parseConfig(cw.filename)
			if err != nil {
				log.WithError(err).WithField("file", cw.filename).Warn("Ignoring invalid configuration change")
				continue
			}

			applyLogging(conf.Logging)
			log.WithField("file", cw.filename).Info("Reloaded logging configuration")

			if cw.reloaded != nil {
				cw.reloaded(conf)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

// Close the watcher.
func (cw *configWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}
