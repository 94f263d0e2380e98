// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logfile locates and archives the diagnostic logs of stopped sessions.
package logfile

import (
	"net/url"
	"path/filepath"
)

// Locator builds the URLs reported for diagnostic logs.
type Locator struct {
	// BaseURL of a log viewer, e.g., a qvis instance. The file is passed as its "file"
	// query parameter. If empty, plain file URLs are created.
	BaseURL string
}

// URL for the log at path. An empty path results in an empty URL.
func (l Locator) URL(path string) string {
	if path == "" {
		return ""
	}

	if l.BaseURL == "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
	}

	return l.BaseURL + "?file=" + url.QueryEscape(path)
}
