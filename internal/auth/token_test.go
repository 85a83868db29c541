package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/whispertun/internal/crypto"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, crypto.KeySize)
}

func TestTokenLayout(t *testing.T) {
	key := testKey(0x11)
	now := time.Unix(1_700_000_000, 0)

	token, err := NewToken(key, now)
	require.NoError(t, err)
	require.Len(t, token, TokenSize)

	assert.Equal(t, uint64(1_700_000_000), binary.BigEndian.Uint64(token[:TimestampSize]))

	mac := hmac.New(sha256.New, key)
	mac.Write(token[:TimestampSize])
	assert.Equal(t, mac.Sum(nil), token[TimestampSize:])
}

func TestNewTokenChecksKeySize(t *testing.T) {
	_, err := NewToken(make([]byte, 16), time.Now())
	assert.ErrorIs(t, err, crypto.ErrKeySize)
}

func TestVerifyTokenAgeWindow(t *testing.T) {
	key := testKey(0x22)
	issued := time.Unix(1_700_000_000, 0)
	token, err := NewToken(key, issued)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"same second", issued, nil},
		{"exactly max age later", issued.Add(DefaultMaxAge), nil},
		{"one second past max age", issued.Add(DefaultMaxAge + time.Second), ErrExpired},
		{"exactly max age earlier", issued.Add(-DefaultMaxAge), nil},
		{"one second before window", issued.Add(-DefaultMaxAge - time.Second), ErrExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyToken(token, key, tc.now, DefaultMaxAge)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyTokenRejectsWrongKey(t *testing.T) {
	now := time.Now()
	token, err := NewToken(testKey(0x01), now)
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyToken(token, testKey(0x02), now, DefaultMaxAge), ErrBadMAC)
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	key := testKey(0x33)
	now := time.Now()
	token, err := NewToken(key, now)
	require.NoError(t, err)

	// moving the timestamp invalidates the mac even inside the window
	forged := append([]byte(nil), token...)
	binary.BigEndian.PutUint64(forged[:TimestampSize], uint64(now.Unix()-1))
	assert.ErrorIs(t, VerifyToken(forged, key, now, DefaultMaxAge), ErrBadMAC)

	forged = append([]byte(nil), token...)
	forged[TokenSize-1] ^= 0x01
	assert.ErrorIs(t, VerifyToken(forged, key, now, DefaultMaxAge), ErrBadMAC)
}

func TestVerifyTokenExpiredEvenWithValidMAC(t *testing.T) {
	key := testKey(0x44)
	token, err := NewToken(key, time.Unix(0, 0))
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyToken(token, key, time.Now(), DefaultMaxAge), ErrExpired)
}

func TestVerifyTokenMalformed(t *testing.T) {
	key := testKey(0x55)

	for _, n := range []int{0, 1, TimestampSize, TokenSize - 1, TokenSize + 1} {
		err := VerifyToken(make([]byte, n), key, time.Now(), DefaultMaxAge)
		assert.ErrorIs(t, err, ErrMalformed, "len %d", n)
	}

	// the length check happens before the key is looked at
	assert.ErrorIs(t, VerifyToken(nil, nil, time.Now(), DefaultMaxAge), ErrMalformed)
}

func TestVerifyTokenCustomMaxAge(t *testing.T) {
	key := testKey(0x66)
	issued := time.Unix(1_700_000_000, 0)
	token, err := NewToken(key, issued)
	require.NoError(t, err)

	assert.NoError(t, VerifyToken(token, key, issued.Add(5*time.Second), 5*time.Second))
	assert.ErrorIs(t, VerifyToken(token, key, issued.Add(6*time.Second), 5*time.Second), ErrExpired)
}
