// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package framing

// Decoder reassembles frames from arbitrarily split chunks of a byte stream.
//
// A Decoder is not safe for concurrent use. It is expected to be fed from the single
// goroutine reading the stream.
type Decoder struct {
	// pendingLength is the announced payload length, or -1 while awaiting a length prefix.
	pendingLength int
	pendingBuffer []byte

	lengthField     [HeaderLen]byte
	lengthFieldFill int

	err error
}

// NewDecoder awaiting a length prefix.
func NewDecoder() *Decoder {
	return &Decoder{pendingLength: -1}
}

// Feed the next chunk of the stream. Each completed payload is passed to deliver, in
// stream order. The delivered slice is not used by the Decoder afterwards.
//
// After a FramingError, the stream cannot be resynchronized and every further call
// returns the same error.
func (d *Decoder) Feed(chunk []byte, deliver func(payload []byte)) error {
	if d.err != nil {
		return d.err
	}

	for len(chunk) > 0 {
		if d.pendingLength < 0 {
			n := copy(d.lengthField[d.lengthFieldFill:], chunk)
			d.lengthFieldFill += n
			chunk = chunk[n:]

			if d.lengthFieldFill < HeaderLen {
				return nil
			}

			length, err := parseLength(d.lengthField)
			d.lengthFieldFill = 0
			if err != nil {
				d.err = err
				return err
			}

			d.pendingLength = length
			d.pendingBuffer = make([]byte, 0, length)
		}

		n := d.pendingLength - len(d.pendingBuffer)
		if n > len(chunk) {
			n = len(chunk)
		}
		d.pendingBuffer = append(d.pendingBuffer, chunk[:n]...)
		chunk = chunk[n:]

		if len(d.pendingBuffer) == d.pendingLength {
			payload := d.pendingBuffer
			d.pendingBuffer = nil
			d.pendingLength = -1

			deliver(payload)
		}
	}

	return nil
}

// Buffered reports if a partial length prefix or payload is pending.
func (d *Decoder) Buffered() bool {
	return d.lengthFieldFill > 0 || d.pendingLength >= 0
}
