// Package protocol defines the wire format spoken over the tunnel stream:
// a 4-byte big-endian length followed by that many bytes of sealed payload.
package protocol

import "github.com/1ureka/whispertun/internal/crypto"

// HeaderSize is the fixed header size: Length(4).
const HeaderSize = 4

// OverheadAllowance is added to the device MTU to bound a frame payload. It
// covers the AEAD nonce and tag with room to spare.
const OverheadAllowance = 100

// DefaultMTU is the device MTU used when none is configured.
const DefaultMTU = 1400

// DefaultMaxFrameSize is the payload limit for DefaultMTU.
const DefaultMaxFrameSize = DefaultMTU + OverheadAllowance

// MaxFrameSize returns the payload limit for a device with the given MTU.
func MaxFrameSize(mtu int) int {
	if mtu <= 0 {
		return DefaultMaxFrameSize
	}
	return mtu + OverheadAllowance
}

// MaxPacketSize returns the largest plaintext packet whose sealed form still
// fits in a frame of maxFrame bytes.
func MaxPacketSize(maxFrame int) int {
	return maxFrame - crypto.Overhead
}
