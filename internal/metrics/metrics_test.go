package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/whispertun/internal/util"
)

func TestRegistryReflectsStats(t *testing.T) {
	stats := util.NewSessionStats(nil)
	stats.AddIn(100)
	stats.AddIn(50)
	stats.AddOut(10)
	stats.AddDecryptFailure()

	reg := NewRegistry(stats, func() int { return 1 })

	expected := `
# HELP whispertun_bytes_in_total Plaintext bytes written to the TUN device.
# TYPE whispertun_bytes_in_total counter
whispertun_bytes_in_total 150
# HELP whispertun_decrypt_failures_total Frames dropped because they failed authentication.
# TYPE whispertun_decrypt_failures_total counter
whispertun_decrypt_failures_total 1
# HELP whispertun_sessions_active Sessions currently forwarding.
# TYPE whispertun_sessions_active gauge
whispertun_sessions_active 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"whispertun_bytes_in_total", "whispertun_decrypt_failures_total", "whispertun_sessions_active")
	require.NoError(t, err)
}

func TestServe(t *testing.T) {
	stats := util.NewSessionStats(nil)
	stats.AddOut(42)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, NewRegistry(stats, nil)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "whispertun_bytes_out_total 42")
	assert.NotContains(t, string(body), "sessions_active")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
