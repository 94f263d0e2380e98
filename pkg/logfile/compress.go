// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logfile

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/ulikunitz/xz"
)

// Extension of compressed logs.
const Extension = ".xz"

// Compress the file at path into path.xz and remove the original. The new path is
// returned. On failure, the original file is kept.
func Compress(path string) (archive string, err error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	archive = path + Extension
	out, err := os.OpenFile(archive, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	if xzErr := writeXz(out, in); xzErr != nil {
		err = multierror.Append(fmt.Errorf("compressing %s failed: %w", path, xzErr), os.Remove(archive))
		_ = out.Close()
		return "", err
	}

	if err = out.Close(); err != nil {
		_ = os.Remove(archive)
		return "", err
	}

	_ = in.Close()
	if err = os.Remove(path); err != nil {
		return archive, err
	}
	return archive, nil
}

func writeXz(w io.Writer, r io.Reader) error {
	xzW, err := xz.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xzW, r); err != nil {
		_ = xzW.Close()
		return err
	}
	return xzW.Close()
}

// Decompress reads an archive created by Compress.
func Decompress(archive string, w io.Writer) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	xzR, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, xzR)
	return err
}
