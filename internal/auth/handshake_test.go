package auth

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/whispertun/internal/util"
)

type result struct {
	err error
}

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestHandshakeSucceeds(t *testing.T) {
	client, server := pipe(t)
	key := testKey(0x77)
	opts := Options{Timeout: 2 * time.Second}

	done := make(chan result, 1)
	go func() { done <- result{Respond(server, key, opts)} }()

	require.NoError(t, Initiate(client, key, opts))
	require.NoError(t, (<-done).err)
}

func TestHandshakeMismatchedKeys(t *testing.T) {
	client, server := pipe(t)
	opts := Options{Timeout: 2 * time.Second}

	done := make(chan result, 1)
	go func() {
		err := Respond(server, testKey(0x01), opts)
		// the caller tears the stream down on failure
		server.Close()
		done <- result{err}
	}()

	clientErr := Initiate(client, testKey(0x02), opts)
	serverErr := (<-done).err

	var aerr *Error
	require.True(t, errors.As(serverErr, &aerr))
	assert.Equal(t, "respond", aerr.Op)
	assert.ErrorIs(t, serverErr, ErrBadMAC)

	require.True(t, errors.As(clientErr, &aerr))
	assert.Equal(t, "initiate", aerr.Op)
	assert.ErrorIs(t, clientErr, ErrNoToken)
}

func TestRespondSendsNothingOnFailure(t *testing.T) {
	client, server := pipe(t)
	opts := Options{Timeout: 2 * time.Second}

	go func() {
		token, _ := NewToken(testKey(0x09), time.Now())
		client.Write(token)
	}()

	err := Respond(server, testKey(0x0A), opts)
	require.Error(t, err)

	// nothing is waiting on the server side, so the client read times out
	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	n, rerr := client.Read(make([]byte, TokenSize))
	assert.Zero(t, n)
	assert.True(t, util.IsTimeout(rerr))
}

func TestRespondAdmitRefusalSendsNothing(t *testing.T) {
	client, server := pipe(t)
	full := errors.New("no free slot")
	opts := Options{Timeout: 2 * time.Second, Admit: func() error { return full }}

	go func() {
		token, _ := NewToken(testKey(0x0B), time.Now())
		client.Write(token)
	}()

	err := Respond(server, testKey(0x0B), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, full)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	n, rerr := client.Read(make([]byte, TokenSize))
	assert.Zero(t, n)
	assert.True(t, util.IsTimeout(rerr))
}

func TestRespondAdmitRunsOnlyAfterVerification(t *testing.T) {
	client, server := pipe(t)
	admitted := 0
	opts := Options{Timeout: 2 * time.Second, Admit: func() error {
		admitted++
		return nil
	}}

	go func() {
		token, _ := NewToken(testKey(0x0C), time.Now())
		client.Write(token)
	}()

	err := Respond(server, testKey(0x0D), opts)
	assert.ErrorIs(t, err, ErrBadMAC)
	assert.Zero(t, admitted)
}

func TestRespondRejectsShortToken(t *testing.T) {
	client, server := pipe(t)

	go func() {
		client.Write([]byte("too short"))
		client.Close()
	}()

	err := Respond(server, testKey(0x01), Options{Timeout: 2 * time.Second})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRespondTimesOutWithoutToken(t *testing.T) {
	_, server := pipe(t)

	start := time.Now()
	err := Respond(server, testKey(0x01), Options{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeRejectsSkewedClock(t *testing.T) {
	client, server := pipe(t)
	key := testKey(0x42)
	skewed := Options{
		Timeout: 2 * time.Second,
		Now:     func() time.Time { return time.Now().Add(-time.Hour) },
	}

	done := make(chan result, 1)
	go func() {
		err := Respond(server, key, Options{Timeout: 2 * time.Second})
		server.Close()
		done <- result{err}
	}()

	assert.Error(t, Initiate(client, key, skewed))
	assert.ErrorIs(t, (<-done).err, ErrExpired)
}
