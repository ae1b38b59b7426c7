// Package progress implements sliding-window transfer rate
// computation, ETA estimation, and human-readable formatting.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ingestlab/fetchd/internal/task"
)

const (
	defaultWindow  = 10 * time.Second
	maxSamples     = 32
)

type sample struct {
	at    time.Time
	bytes int64
}

// TaskSampler holds the recent (timestamp, bytes) points for one task's
// sliding-window rate.
type TaskSampler struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func NewTaskSampler() *TaskSampler {
	return &TaskSampler{window: defaultWindow}
}

// Observe records a new cumulative byte count at time now.
func (s *TaskSampler) Observe(now time.Time, bytesDownloaded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample{at: now, bytes: bytesDownloaded})

	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = append([]sample(nil), s.samples[i:]...)
	}
	if len(s.samples) > maxSamples {
		s.samples = s.samples[len(s.samples)-maxSamples:]
	}
}

// Rate returns bytes/second over the current window, or 0 if fewer than
// two samples are present or the span is zero.
func (s *TaskSampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) < 2 {
		return 0
	}
	first, last := s.samples[0], s.samples[len(s.samples)-1]
	span := last.at.Sub(first.at).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / span
}

// Aggregate is the overall rollup across all active tasks.
type Aggregate struct {
	OverallProgress float64
	OverallRate     float64 // bytes/second
	ETA             time.Duration
	HasETA          bool
}

// Compute rolls up tasks and their per-task rate samplers into an
// Aggregate. Only tasks with task.Status.IsActive() contribute to
// OverallProgress and OverallRate.
func Compute(tasks []*task.DownloadTask, rates map[string]*TaskSampler) Aggregate {
	var sumBytes, sumTotal int64
	var sumRate float64
	var progressSum float64
	var activeCount int

	for _, t := range tasks {
		if !t.Status.IsActive() {
			continue
		}
		activeCount++
		sumBytes += t.BytesDownloaded
		sumTotal += t.TotalBytes
		progressSum += t.Progress
		if sampler, ok := rates[t.ID]; ok {
			sumRate += sampler.Rate()
		}
	}

	agg := Aggregate{OverallRate: sumRate}
	switch {
	case sumTotal > 0:
		agg.OverallProgress = float64(sumBytes) / float64(sumTotal)
	case activeCount > 0:
		agg.OverallProgress = progressSum / float64(activeCount)
	}

	if sumRate > 0 {
		remaining := sumTotal - sumBytes
		if remaining < 0 {
			remaining = 0
		}
		agg.ETA = time.Duration(float64(remaining)/sumRate) * time.Second
		agg.HasETA = true
	}
	return agg
}

// HumanBytes formats bytes using IEC binary units (KiB, MiB, ...).
func HumanBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	exp := int(math.Log(float64(bytes)) / math.Log(unit))
	pre := "KMGTPE"[exp-1]
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/math.Pow(unit, float64(exp)), pre)
}

// HumanDuration formats a duration as HhMmSs.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
