package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a payload into a single length-prefixed frame.
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeLength parses a frame header and validates the declared length
// against max before anything is allocated for the body.
func DecodeLength(hdr []byte, max int) (int, error) {
	if len(hdr) < HeaderSize {
		return 0, &Error{Op: "decode", Err: fmt.Errorf("header too short: %d bytes (need %d)", len(hdr), HeaderSize)}
	}
	length := binary.BigEndian.Uint32(hdr[:HeaderSize])
	if uint64(length) > uint64(max) {
		return 0, &Error{Op: "decode", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, max)}
	}
	return int(length), nil
}
