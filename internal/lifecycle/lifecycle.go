// Package lifecycle implements the per-task state machine: legal
// transitions, their side effects on task fields, and rejection of
// illegal transitions.
package lifecycle

import (
	"time"

	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/task"
)

var log = logging.For("lifecycle")

// Trigger names why a transition is being requested, for logging only.
type Trigger string

const (
	TriggerSchedulerPickup Trigger = "scheduler_pickup"
	TriggerFirstByte       Trigger = "first_byte"
	TriggerUserPause       Trigger = "user_pause"
	TriggerGlobalPause     Trigger = "global_pause"
	TriggerNetworkLoss     Trigger = "network_loss"
	TriggerBytesComplete   Trigger = "bytes_complete"
	TriggerHandoffAck      Trigger = "handoff_ack"
	TriggerUnrecoverable   Trigger = "unrecoverable_error"
	TriggerReset           Trigger = "reset"
)

var legalTransitions = map[task.Status]map[task.Status]bool{
	task.StatusPending: {task.StatusQueued: true},
	task.StatusPaused:  {task.StatusQueued: true},
	task.StatusFailed:  {task.StatusQueued: true},
	task.StatusQueued: {
		task.StatusDownloading: true,
		task.StatusPaused:      true,
		task.StatusFailed:      true,
	},
	task.StatusDownloading: {
		task.StatusPaused:     true,
		task.StatusExtracting: true,
		task.StatusFailed:     true,
	},
	task.StatusExtracting: {
		task.StatusCompleted: true,
		task.StatusFailed:    true,
	},
}

// Transition attempts to move t from its current status to `to`. It
// reports whether the transition was legal; illegal transitions leave t
// unmodified and are not treated as errors — callers only get a bool.
// trigger records why the caller is requesting it, for logging only.
//
// `reset` (any → pending) is always legal and is handled by Reset.
func Transition(t *task.DownloadTask, to task.Status, now time.Time, trigger Trigger) bool {
	if t.Status == to {
		return false
	}
	if to == task.StatusPending {
		Reset(t, trigger)
		return true
	}
	if !legalTransitions[t.Status][to] {
		log.Debug().Str("task_id", t.ID).Str("from", string(t.Status)).Str("to", string(to)).
			Str("trigger", string(trigger)).Msg("rejected illegal transition")
		return false
	}

	log.Debug().Str("task_id", t.ID).Str("from", string(t.Status)).Str("to", string(to)).
		Str("trigger", string(trigger)).Msg("transition")
	t.Status = to

	switch to {
	case task.StatusDownloading:
		if t.StartedAt == nil {
			startedAt := now
			t.StartedAt = &startedAt
		}
	case task.StatusCompleted:
		completedAt := now
		t.CompletedAt = &completedAt
		t.ErrorMessage = nil
		t.ResumeTokenRef = nil
		t.BytesDownloaded = t.TotalBytes
		t.Progress = 1.0
	case task.StatusExtracting:
		t.Progress = 1.0
	case task.StatusFailed:
		// Whether the resume token survives is the Retry Policy's call
		// (it knows whether the error class permits a retry); callers
		// that already decided "no retry" clear it themselves via
		// ClearResumeToken before calling Transition.
	}

	return true
}

// Fail transitions t to failed with the given message, keeping or
// discarding the resume token per the caller's (Retry Policy's) decision.
func Fail(t *task.DownloadTask, now time.Time, message string, keepResumeToken bool, trigger Trigger) bool {
	if !Transition(t, task.StatusFailed, now, trigger) {
		return false
	}
	t.ErrorMessage = &message
	if !keepResumeToken {
		t.ResumeTokenRef = nil
	}
	return true
}

// Reset clears progress, error, resume tokens, and timestamps, and
// transitions t back to pending unconditionally.
func Reset(t *task.DownloadTask, trigger Trigger) {
	log.Debug().Str("task_id", t.ID).Str("from", string(t.Status)).Str("trigger", string(trigger)).Msg("reset")
	t.Status = task.StatusPending
	t.Progress = 0
	t.BytesDownloaded = 0
	t.ErrorMessage = nil
	t.ResumeTokenRef = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Attempt = 0
	t.ValidatorResets = 0
}

// UpdateBytes applies a progress callback's (bytes_downloaded,
// total_bytes) pair and recomputes progress, clamping bytesDownloaded
// to non-negative.
func UpdateBytes(t *task.DownloadTask, bytesDownloaded, totalBytes int64) {
	if bytesDownloaded < 0 {
		bytesDownloaded = 0
	}
	t.BytesDownloaded = bytesDownloaded
	if totalBytes > 0 {
		t.TotalBytes = totalBytes
	}
	t.RecomputeProgress()
}
