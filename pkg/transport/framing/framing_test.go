// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package framing

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		payload []byte
		frame   []byte
	}{
		{[]byte{}, []byte("0000")},
		{[]byte("hello"), []byte("0005hello")},
		{bytes.Repeat([]byte{0xff}, 1234), append([]byte("1234"), bytes.Repeat([]byte{0xff}, 1234)...)},
		{bytes.Repeat([]byte("x"), MaxPayload), append([]byte("9999"), bytes.Repeat([]byte("x"), MaxPayload)...)},
	}

	for _, test := range tests {
		frame, err := Encode(test.payload)
		if err != nil {
			t.Fatalf("Encoding %d bytes failed: %v", len(test.payload), err)
		}
		if !bytes.Equal(frame, test.frame) {
			t.Fatalf("Encoding %d bytes resulted in header %q", len(test.payload), frame[:HeaderLen])
		}
	}

	if _, err := Encode(make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Encoding an oversized payload returned %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("foo")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if s := buf.String(); s != "0003foo0000" {
		t.Fatalf("stream is %q", s)
	}

	if err := WriteFrame(&buf, make([]byte, 10000)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("oversized payload returned %v", err)
	}
	if buf.Len() != 11 {
		t.Fatalf("oversized payload was partially written: %d bytes", buf.Len())
	}
}

func randomPayloads(r *rand.Rand, n int) [][]byte {
	payloads := make([][]byte, n)
	for i := range payloads {
		var size int
		switch r.Intn(4) {
		case 0:
			size = 0
		case 1:
			size = MaxPayload
		default:
			size = r.Intn(MaxPayload + 1)
		}

		payloads[i] = make([]byte, size)
		r.Read(payloads[i])
	}
	return payloads
}

func TestDecoderRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(23))
	payloads := randomPayloads(r, 64)

	var stream []byte
	for _, payload := range payloads {
		var err error
		if stream, err = AppendFrame(stream, payload); err != nil {
			t.Fatal(err)
		}
	}

	// Zero represents random chunk sizes.
	for _, chunkSize := range []int{1, 2, 3, 4, 5, 7, 1500, 65536, 0} {
		dec := NewDecoder()
		var received [][]byte

		for rest := stream; len(rest) > 0; {
			n := chunkSize
			if n == 0 {
				n = 1 + r.Intn(2*HeaderLen+MaxPayload)
			}
			if n > len(rest) {
				n = len(rest)
			}

			if err := dec.Feed(rest[:n], func(p []byte) { received = append(received, p) }); err != nil {
				t.Fatalf("chunk size %d: %v", chunkSize, err)
			}
			rest = rest[n:]
		}

		if dec.Buffered() {
			t.Fatalf("chunk size %d: decoder still has buffered data", chunkSize)
		}
		if len(received) != len(payloads) {
			t.Fatalf("chunk size %d: received %d payloads instead of %d", chunkSize, len(received), len(payloads))
		}
		for i := range payloads {
			if !bytes.Equal(received[i], payloads[i]) {
				t.Fatalf("chunk size %d: payload %d differs", chunkSize, i)
			}
		}
	}
}

func TestDecoderPartialHeader(t *testing.T) {
	dec := NewDecoder()
	var received [][]byte
	deliver := func(p []byte) { received = append(received, p) }

	steps := []struct {
		chunk    string
		received int
		buffered bool
	}{
		{"00", 0, true},
		{"0", 0, true},
		{"3a", 0, true},
		{"b", 0, true},
		{"c00", 1, true},
		{"00", 2, false},
		{"0001x0", 3, true},
	}

	for i, step := range steps {
		if err := dec.Feed([]byte(step.chunk), deliver); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if len(received) != step.received {
			t.Fatalf("step %d: %d payloads received, expected %d", i, len(received), step.received)
		}
		if dec.Buffered() != step.buffered {
			t.Fatalf("step %d: Buffered is %t", i, dec.Buffered())
		}
	}

	if string(received[0]) != "abc" || len(received[1]) != 0 || string(received[2]) != "x" {
		t.Fatalf("received %q", received)
	}
}

func TestDecoderMalformedHeader(t *testing.T) {
	dec := NewDecoder()
	calls := 0
	deliver := func([]byte) { calls++ }

	if err := dec.Feed([]byte("0002ok00x1"), deliver); err == nil {
		t.Fatal("malformed header was accepted")
	} else {
		var framingErr *FramingError
		if !errors.As(err, &framingErr) {
			t.Fatalf("expected FramingError, got %v", err)
		} else if string(framingErr.Field[:]) != "00x1" {
			t.Fatalf("FramingError reports %q", framingErr.Field[:])
		}
	}

	if calls != 1 {
		t.Fatalf("%d payloads were delivered, expected the one before the malformed header", calls)
	}

	if err := dec.Feed([]byte("0000"), deliver); err == nil {
		t.Fatal("decoder recovered after a malformed header")
	}
}
