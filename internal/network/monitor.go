// Package network observes reachability and reports changes so the
// Scheduler can pause active downloads on loss and re-admit them on
// restoration.
package network

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// Prober reports whether the network is currently reachable. The
// default dials a well-known host; tests substitute a fake.
type Prober func(ctx context.Context) bool

// DialProber is the production Prober: a short TCP dial to a DNS
// resolver, treated as reachable on success.
func DialProber(target string, timeout time.Duration) Prober {
	return func(ctx context.Context) bool {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", target)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Monitor polls a Prober on an interval and exposes the last-known
// reachability plus a channel of transitions.
type Monitor struct {
	prober   Prober
	interval time.Duration
	changes  chan bool

	available atomic.Bool
}

func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	m := &Monitor{prober: prober, interval: interval, changes: make(chan bool, 1)}
	m.available.Store(true) // optimistic until the first probe
	return m
}

// Run polls until ctx is cancelled, sending on Changes() whenever
// reachability flips.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	now := m.prober(ctx)
	if now != m.available.Swap(now) {
		select {
		case m.changes <- now:
		default:
		}
	}
}

// IsAvailable reports the last observed reachability.
func (m *Monitor) IsAvailable() bool {
	return m.available.Load()
}

// Changes delivers true on restoration, false on loss.
func (m *Monitor) Changes() <-chan bool {
	return m.changes
}
