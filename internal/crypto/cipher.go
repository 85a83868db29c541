// Package crypto provides the authenticated encryption used for tunnel
// packets. Every sealed message is laid out as nonce(12) ‖ ciphertext ‖ tag(16);
// no associated data is used and no state is retained between calls.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sizes of the AEAD construction. Both supported suites share them, so the
// wire format does not depend on the suite in use.
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// Overhead is the number of bytes a sealed message adds to its plaintext.
	Overhead = NonceSize + TagSize
)

// Suite names an AEAD construction.
type Suite string

const (
	AES256GCM        Suite = "aes-256-gcm"
	ChaCha20Poly1305 Suite = "chacha20-poly1305"
)

// DefaultSuite is used when no suite is configured.
const DefaultSuite = AES256GCM

// ParseSuite validates a configured suite name. An empty name selects DefaultSuite.
func ParseSuite(name string) (Suite, error) {
	switch Suite(name) {
	case "":
		return DefaultSuite, nil
	case AES256GCM, ChaCha20Poly1305:
		return Suite(name), nil
	}
	return "", &Error{Op: "suite", Err: fmt.Errorf("unknown cipher suite %q", name)}
}

// Cipher seals and opens packets under one pre-shared key.
//
// A Cipher holds only the keyed AEAD primitive, which is safe for concurrent
// use; nonces are drawn from crypto/rand on every call and never derived from
// shared counters, so both forwarding directions may encrypt at once.
type Cipher struct {
	suite Suite
	aead  cipher.AEAD
}

// NewCipher validates the key length and prepares the AEAD for suite.
func NewCipher(suite Suite, key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, keySizeError("new cipher", len(key))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch suite {
	case AES256GCM, "":
		suite = AES256GCM
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case ChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, &Error{Op: "new cipher", Err: fmt.Errorf("unknown cipher suite %q", suite)}
	}
	if err != nil {
		return nil, &Error{Op: "new cipher", Err: err}
	}
	return &Cipher{suite: suite, aead: aead}, nil
}

// Suite reports the AEAD construction in use.
func (c *Cipher) Suite() Suite { return c.suite }

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce ‖ ciphertext ‖ tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, &Error{Op: "encrypt", Err: err}
	}
	return c.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts a message produced by Seal. It is
// all-or-nothing: any failure yields ErrOpen and no plaintext. Corruption and
// a wrong key are deliberately indistinguishable.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, &Error{Op: "decrypt", Err: ErrShortCiphertext}
	}
	nonce, body := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: ErrOpen}
	}
	return plaintext, nil
}

// Encrypt seals plaintext with key using DefaultSuite.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	c, err := NewCipher(DefaultSuite, key)
	if err != nil {
		return nil, retag(err, "encrypt")
	}
	return c.Seal(plaintext)
}

// Decrypt opens a message sealed by Encrypt.
func Decrypt(sealed, key []byte) ([]byte, error) {
	c, err := NewCipher(DefaultSuite, key)
	if err != nil {
		return nil, retag(err, "decrypt")
	}
	return c.Open(sealed)
}

func retag(err error, op string) error {
	if e, ok := err.(*Error); ok {
		return &Error{Op: op, Err: e.Err}
	}
	return &Error{Op: op, Err: err}
}
