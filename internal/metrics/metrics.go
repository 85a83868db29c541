// Package metrics exports tunnel counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/whispertun/internal/util"
)

const namespace = "whispertun"

// NewRegistry returns a registry exposing the counters of stats, plus a
// gauge reporting active(). active may be nil.
func NewRegistry(stats *util.SessionStats, active func() int) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, load func(util.Snapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load(stats.Snapshot())) })
	}

	reg.MustRegister(
		counter("packets_in_total", "Packets written to the TUN device.", func(s util.Snapshot) uint64 { return s.PacketsIn }),
		counter("bytes_in_total", "Plaintext bytes written to the TUN device.", func(s util.Snapshot) uint64 { return s.BytesIn }),
		counter("packets_out_total", "Packets sent to the peer.", func(s util.Snapshot) uint64 { return s.PacketsOut }),
		counter("bytes_out_total", "Plaintext bytes sent to the peer.", func(s util.Snapshot) uint64 { return s.BytesOut }),
		counter("decrypt_failures_total", "Frames dropped because they failed authentication.", func(s util.Snapshot) uint64 { return s.DecryptFailures }),
		counter("encrypt_failures_total", "Packets dropped because sealing failed.", func(s util.Snapshot) uint64 { return s.EncryptFailures }),
		counter("oversized_total", "Device packets dropped for exceeding the frame limit.", func(s util.Snapshot) uint64 { return s.Oversized }),
		counter("short_writes_total", "Device writes that did not take the whole packet.", func(s util.Snapshot) uint64 { return s.ShortWrites }),
		counter("filtered_total", "Inbound packets dropped by the subnet filter.", func(s util.Snapshot) uint64 { return s.Filtered }),
	)

	if active != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently forwarding.",
		}, func() float64 { return float64(active()) }))
	}
	return reg
}

// Serve exposes reg on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	return serve(ctx, ln, reg)
}

func serve(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
