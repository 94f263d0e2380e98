// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package framing restores message boundaries on byte streams.
//
// Every message is prefixed by its length as four zero-padded ASCII decimal digits.
// Thus, a message might be up to 9999 bytes long. No other bytes are added:
//
//	"0005" || "hello" || "0000" || "0003" || "foo"
package framing

import (
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the size of the length prefix.
	HeaderLen = 4

	// MaxPayload is the largest payload which fits the length prefix.
	MaxPayload = 9999
)

// ErrPayloadTooLarge is returned when encoding a payload of more than MaxPayload bytes.
var ErrPayloadTooLarge = errors.New("payload exceeds the framing limit of 9999 bytes")

// FramingError reports a length prefix which is not four ASCII digits.
type FramingError struct {
	Field [HeaderLen]byte
}

func (err *FramingError) Error() string {
	return fmt.Sprintf("malformed length prefix %q", err.Field[:])
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	n := len(payload)
	dst = append(dst,
		byte('0'+n/1000),
		byte('0'+n/100%10),
		byte('0'+n/10%10),
		byte('0'+n%10))
	return append(dst, payload...), nil
}

// Encode a payload into a new frame.
func Encode(payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload)
}

// WriteFrame writes the framed payload with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}

func parseLength(field [HeaderLen]byte) (int, error) {
	n := 0
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, &FramingError{Field: field}
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
