package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// sketchAccuracy is the relative accuracy of latency quantiles.
const sketchAccuracy = 0.01

// Stats aggregates outcomes and per-command latencies for a serve session.
// A nil *Stats records nothing.
type Stats struct {
	hits        atomic.Int64
	misses      atomic.Int64
	errors      atomic.Int64
	storedBytes atomic.Int64

	mu        sync.Mutex
	latencies map[Cmd]*ddsketch.DDSketch
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{latencies: make(map[Cmd]*ddsketch.DDSketch)}
}

func (s *Stats) recordResolution(cached bool, size int64) {
	if s == nil {
		return
	}
	if cached {
		s.hits.Add(1)
		return
	}
	s.misses.Add(1)
	s.storedBytes.Add(size)
}

func (s *Stats) recordError() {
	if s == nil {
		return
	}
	s.errors.Add(1)
}

func (s *Stats) recordLatency(cmd Cmd, d time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sketch, ok := s.latencies[cmd]
	if !ok {
		var err error
		sketch, err = ddsketch.NewDefaultDDSketch(sketchAccuracy)
		if err != nil {
			return
		}
		s.latencies[cmd] = sketch
	}
	// DDSketch only accepts non-negative values.
	_ = sketch.Add(float64(d.Microseconds()))
}

// quantile returns the q-quantile latency recorded for cmd.
func (s *Stats) quantile(cmd Cmd, q float64) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sketch, ok := s.latencies[cmd]
	if !ok || sketch.IsEmpty() {
		return 0, false
	}
	v, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0, false
	}
	return time.Duration(v) * time.Microsecond, true
}

// Print writes a summary to w.
func (s *Stats) Print(w io.Writer) {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	fmt.Fprintf(w, "Cache statistics:\n")
	fmt.Fprintf(w, "  Resolutions: %d (hits: %d, misses: %d, hit rate: %.1f%%)\n", total, hits, misses, hitRate)
	fmt.Fprintf(w, "  Errors: %d\n", s.errors.Load())
	fmt.Fprintf(w, "  Stored: %s\n", formatBytes(s.storedBytes.Load()))

	s.mu.Lock()
	cmds := make([]Cmd, 0, len(s.latencies))
	for cmd := range s.latencies {
		cmds = append(cmds, cmd)
	}
	s.mu.Unlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })

	for _, cmd := range cmds {
		p50, ok := s.quantile(cmd, 0.5)
		if !ok {
			continue
		}
		p99, _ := s.quantile(cmd, 0.99)
		fmt.Fprintf(w, "  %s latency: p50=%v p99=%v\n", cmd, p50.Round(time.Millisecond), p99.Round(time.Millisecond))
	}
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
