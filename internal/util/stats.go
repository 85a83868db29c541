package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Session counters
// ──────────────────────────────────────────────────────────────────────────────

// Totals accumulates the counters of every session since process start.
var Totals = NewSessionStats(nil)

// SessionStats holds monotonically increasing traffic counters for one
// session. Both forwarding flows update it concurrently; every increment is
// also applied to the parent, if any.
type SessionStats struct {
	PacketsIn       atomic.Uint64 // packets written to the device
	BytesIn         atomic.Uint64 // plaintext bytes written to the device
	PacketsOut      atomic.Uint64 // packets sent to the peer
	BytesOut        atomic.Uint64 // plaintext bytes sent to the peer
	DecryptFailures atomic.Uint64 // frames dropped because they failed to open
	EncryptFailures atomic.Uint64 // packets dropped because sealing failed
	Oversized       atomic.Uint64 // device packets too large to frame
	ShortWrites     atomic.Uint64 // device writes that did not take the whole packet
	Filtered        atomic.Uint64 // inbound packets outside the allowed subnet

	parent *SessionStats
}

// NewSessionStats returns zeroed counters that also feed parent.
func NewSessionStats(parent *SessionStats) *SessionStats {
	return &SessionStats{parent: parent}
}

func (s *SessionStats) AddIn(n int) {
	for ; s != nil; s = s.parent {
		s.PacketsIn.Add(1)
		s.BytesIn.Add(uint64(n))
	}
}

func (s *SessionStats) AddOut(n int) {
	for ; s != nil; s = s.parent {
		s.PacketsOut.Add(1)
		s.BytesOut.Add(uint64(n))
	}
}

func (s *SessionStats) AddDecryptFailure() { s.bump(decryptFailures) }
func (s *SessionStats) AddEncryptFailure() { s.bump(encryptFailures) }
func (s *SessionStats) AddOversized()      { s.bump(oversized) }
func (s *SessionStats) AddShortWrite()     { s.bump(shortWrites) }
func (s *SessionStats) AddFiltered()       { s.bump(filtered) }

func decryptFailures(s *SessionStats) *atomic.Uint64 { return &s.DecryptFailures }
func encryptFailures(s *SessionStats) *atomic.Uint64 { return &s.EncryptFailures }
func oversized(s *SessionStats) *atomic.Uint64       { return &s.Oversized }
func shortWrites(s *SessionStats) *atomic.Uint64     { return &s.ShortWrites }
func filtered(s *SessionStats) *atomic.Uint64        { return &s.Filtered }

func (s *SessionStats) bump(field func(*SessionStats) *atomic.Uint64) {
	for ; s != nil; s = s.parent {
		field(s).Add(1)
	}
}

// Snapshot is a point-in-time copy of SessionStats.
type Snapshot struct {
	PacketsIn       uint64
	BytesIn         uint64
	PacketsOut      uint64
	BytesOut        uint64
	DecryptFailures uint64
	EncryptFailures uint64
	Oversized       uint64
	ShortWrites     uint64
	Filtered        uint64
}

// Snapshot loads every counter. Counters are read independently, so a
// snapshot taken during traffic may be off by the packets in flight.
func (s *SessionStats) Snapshot() Snapshot {
	return Snapshot{
		PacketsIn:       s.PacketsIn.Load(),
		BytesIn:         s.BytesIn.Load(),
		PacketsOut:      s.PacketsOut.Load(),
		BytesOut:        s.BytesOut.Load(),
		DecryptFailures: s.DecryptFailures.Load(),
		EncryptFailures: s.EncryptFailures.Load(),
		Oversized:       s.Oversized.Load(),
		ShortWrites:     s.ShortWrites.Load(),
		Filtered:        s.Filtered.Load(),
	}
}

// Dropped is the number of packets discarded for any reason.
func (s Snapshot) Dropped() uint64 {
	return s.DecryptFailures + s.EncryptFailures + s.Oversized + s.ShortWrites + s.Filtered
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// DefaultStatsInterval is the reporting period used when none is configured.
const DefaultStatsInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs the traffic rates of s
// every interval, prefixed with label. Quiet intervals are skipped. It stops
// when ctx is cancelled.
func StartStatsReporter(ctx context.Context, label string, s *SessionStats, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if line, ok := formatInterval(prev, cur, interval); ok {
					pterm.DefaultLogger.Info(label + " " + line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatInterval describes the traffic between two snapshots. It reports
// false when nothing moved and nothing was dropped.
func formatInterval(prev, cur Snapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	pktsIn := cur.PacketsIn - prev.PacketsIn
	pktsOut := cur.PacketsOut - prev.PacketsOut
	dropped := cur.Dropped() - prev.Dropped()
	if pktsIn == 0 && pktsOut == 0 && dropped == 0 {
		return "", false
	}

	return fmt.Sprintf("In: %s/s | Out: %s/s | Pkts: %d↓ %d↑ | Dropped: %d",
		formatBytes(float64(cur.BytesIn-prev.BytesIn)/secs),
		formatBytes(float64(cur.BytesOut-prev.BytesOut)/secs),
		pktsIn,
		pktsOut,
		dropped,
	), true
}

// FormatSummary describes the totals of a finished session.
func FormatSummary(s Snapshot) string {
	return fmt.Sprintf("In: %d pkts (%s) | Out: %d pkts (%s) | Decrypt failures: %d | Dropped: %d",
		s.PacketsIn, formatBytes(float64(s.BytesIn)),
		s.PacketsOut, formatBytes(float64(s.BytesOut)),
		s.DecryptFailures,
		s.Dropped(),
	)
}
