// Copyright 2026 Scalaris Ledger
//
// Length-delimited framing: every message travels as a 4-byte big-endian
// length prefix followed by the envelope bytes.

package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds incoming frames (coin creation orders with
// many range proofs are the largest legitimate messages).
const DefaultMaxFrameSize = 16 << 20

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	if len(payload) > DefaultMaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds maximum %d", len(payload), DefaultMaxFrameSize)
	}
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame, rejecting oversized lengths
// before allocating.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > DefaultMaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum %d", size, DefaultMaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
