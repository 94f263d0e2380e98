// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocatorURL(t *testing.T) {
	tests := []struct {
		locator Locator
		path    string
		url     string
	}{
		{Locator{BaseURL: "https://qvis.example.org/"}, "/tmp/qlog/abc.qlog", "https://qvis.example.org/?file=%2Ftmp%2Fqlog%2Fabc.qlog"},
		{Locator{BaseURL: "http://localhost:8080/"}, "/var/log/a b.log", "http://localhost:8080/?file=%2Fvar%2Flog%2Fa+b.log"},
		{Locator{}, "/tmp/qlog/abc.qlog", "file:///tmp/qlog/abc.qlog"},
		{Locator{BaseURL: "http://localhost/"}, "", ""},
	}

	for _, test := range tests {
		if url := test.locator.URL(test.path); url != test.url {
			t.Errorf("%v for %q: expected %q, got %q", test.locator, test.path, test.url, url)
		}
	}
}

func TestLocatorRelativePath(t *testing.T) {
	url := Locator{}.URL("abc.qlog")
	if !strings.HasPrefix(url, "file:///") || !strings.HasSuffix(url, "/abc.qlog") {
		t.Fatalf("relative path was not made absolute: %q", url)
	}
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.qlog")
	content := bytes.Repeat([]byte(`{"time":1,"name":"transport:packet_sent"}`+"\n"), 512)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	archive, err := Compress(path)
	if err != nil {
		t.Fatal(err)
	}
	if archive != path+Extension {
		t.Fatalf("unexpected archive path %q", archive)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file was not removed: %v", err)
	}

	info, err := os.Stat(archive)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() >= int64(len(content)) {
		t.Fatalf("archive of %d bytes is not smaller than %d bytes", info.Size(), len(content))
	}

	var buf bytes.Buffer
	if err := Decompress(archive, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("decompressed content differs")
	}
}

func TestCompressMissing(t *testing.T) {
	if _, err := Compress(filepath.Join(t.TempDir(), "nope.qlog")); err == nil {
		t.Fatal("compressing a missing file succeeded")
	}
}
