// Package scheduler owns the running Transport jobs bound to admitted
// tasks: spawning them, cancelling them for pause/cancel, and
// translating their outcome into Events the Manager's event loop
// consumes.
package scheduler

import (
	"context"
	"os"
	"sync"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/resumetoken"
	"github.com/ingestlab/fetchd/internal/retry"
	"github.com/ingestlab/fetchd/internal/task"
	"github.com/ingestlab/fetchd/internal/transport"
)

var log = logging.For("scheduler")

type EventKind int

const (
	EventProgress EventKind = iota
	EventDone
	EventPaused
	EventCancelled
	EventFailed
)

// Event reports a Transport job's outcome back to the Manager's event
// loop, which is the single place task state is mutated.
type Event struct {
	TaskID          string
	Kind            EventKind
	BytesWritten    int64
	TotalBytes      int64
	Validator       string
	Err             *retry.Error
}

type jobHandle struct {
	cancel    context.CancelFunc
	pausing   bool
	cancelled bool
	mu        sync.Mutex
}

// Scheduler spawns and tracks one Transport job per active task.
type Scheduler struct {
	rt          *config.RuntimeConfig
	tmpDir      string
	resumeStore *resumetoken.Store
	hostLimiter *transport.HostLimiter

	events chan Event

	mu      sync.Mutex
	handles map[string]*jobHandle
}

func New(rt *config.RuntimeConfig, tmpDir string, resumeStore *resumetoken.Store) *Scheduler {
	return &Scheduler{
		rt:          rt,
		tmpDir:      tmpDir,
		resumeStore: resumeStore,
		hostLimiter: transport.NewHostLimiter(rt.GetPerHostRatePerSecond()),
		events:      make(chan Event, config.ProgressChannelBuffer),
		handles:     map[string]*jobHandle{},
	}
}

func (s *Scheduler) Events() <-chan Event { return s.events }

func (s *Scheduler) tmpPath(taskID string) string {
	return s.tmpDir + "/" + taskID + ".part"
}

// Start spawns a Transport job for t, resuming from tok if present.
func (s *Scheduler) Start(t *task.DownloadTask, tok *resumetoken.Token) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &jobHandle{cancel: cancel}

	s.mu.Lock()
	s.handles[t.ID] = h
	s.mu.Unlock()

	job := transport.NewJob(s.rt, s.hostLimiter)
	taskID, url, tmpPath := t.ID, t.URL, s.tmpPath(t.ID)

	go func() {
		result, err := job.Run(ctx, url, tmpPath, tok, func(written, total int64) {
			s.events <- Event{TaskID: taskID, Kind: EventProgress, BytesWritten: written, TotalBytes: total}
		})

		s.mu.Lock()
		delete(s.handles, taskID)
		pausing := h.pausing
		cancelled := h.cancelled
		s.mu.Unlock()

		switch {
		case cancelled:
			os.Remove(tmpPath)
			s.events <- Event{TaskID: taskID, Kind: EventCancelled}
		case err == nil:
			s.events <- Event{TaskID: taskID, Kind: EventDone, BytesWritten: result.BytesWritten, TotalBytes: result.TotalBytes}
		case pausing:
			s.events <- Event{TaskID: taskID, Kind: EventPaused, BytesWritten: result.BytesWritten, TotalBytes: result.TotalBytes, Validator: result.Validator}
		default:
			rerr, ok := err.(*retry.Error)
			if !ok {
				rerr = &retry.Error{Kind: retry.KindInternalInvariant, Cause: err}
			}
			log.Warn().Str("task_id", taskID).Str("kind", string(rerr.Kind)).Err(err).Msg("job failed")
			s.events <- Event{TaskID: taskID, Kind: EventFailed, BytesWritten: result.BytesWritten, TotalBytes: result.TotalBytes, Validator: result.Validator, Err: rerr}
		}
	}()
}

// RequestPause cancels the running job for taskID and marks it so the
// job's context.Canceled return is reported as EventPaused rather than
// EventCancelled.
func (s *Scheduler) RequestPause(taskID string) bool {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	h.pausing = true
	h.mu.Unlock()
	h.cancel()
	return true
}

// Cancel cancels the running job for taskID with no resume token kept.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
	return true
}

// IsRunning reports whether a job is currently active for taskID.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[taskID]
	return ok
}
