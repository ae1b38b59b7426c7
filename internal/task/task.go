package task

import (
	"time"

	"github.com/ingestlab/fetchd/internal/utils"
)

// ManifestEntry is an immutable input record describing one downloadable
// part of a dataset.
type ManifestEntry struct {
	Category      string `json:"category" yaml:"category"`
	PartNumber    int    `json:"part_number" yaml:"part_number"`
	TotalParts    int    `json:"total_parts" yaml:"total_parts"`
	Filename      string `json:"filename" yaml:"filename"`
	URL           string `json:"url" yaml:"url"`
	EstimatedSize int64  `json:"estimated_size" yaml:"estimated_size"`
	DatasetName   string `json:"dataset_name" yaml:"dataset_name"`
}

// DownloadTask is the scheduling and progress unit. It is mutated only
// on the Manager's event loop: status and byte counters change through
// internal/lifecycle, and the Manager sets the retry and resume fields
// (Attempt, ValidatorResets, ResumeTokenRef) and a probed TotalBytes
// directly. All other callers treat it as read-only and go through the
// Manager facade to request changes.
type DownloadTask struct {
	ID string `json:"id"`

	URL         string `json:"url"`
	Category    string `json:"category"`
	PartNumber  int    `json:"part_number"`
	TotalParts  int    `json:"total_parts"`
	DatasetName string `json:"dataset_name"`
	Filename    string `json:"filename"`

	CreatedAt time.Time `json:"created_at"`

	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	ErrorMessage    *string    `json:"error_message"`
	ResumeTokenRef  *string    `json:"resume_token_ref"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`

	// Attempt is the Retry Policy's per-task attempt counter. Not part
	// of the persisted schema's original field set but needed across
	// restarts, so it rides along on the task record.
	Attempt int `json:"attempt"`

	// ValidatorResets counts how many times resume has been restarted
	// from offset 0 after a validator mismatch: the first occurrence
	// resets and retries, the second fails the task.
	ValidatorResets int `json:"validator_resets"`
}

// NewFromManifestEntry builds a fresh, pending DownloadTask from a
// validated manifest entry.
func NewFromManifestEntry(id string, e ManifestEntry, now time.Time) *DownloadTask {
	return &DownloadTask{
		ID:          id,
		URL:         e.URL,
		Category:    e.Category,
		PartNumber:  e.PartNumber,
		TotalParts:  e.TotalParts,
		DatasetName: e.DatasetName,
		Filename:    utils.SanitizeFilename(e.Filename),
		CreatedAt:   now,
		Status:      StatusPending,
		TotalBytes:  e.EstimatedSize,
	}
}

// RecomputeProgress keeps Progress consistent with
// bytes_downloaded/total_bytes when total_bytes is known, clamped to
// [0,1], and never divides by zero.
func (t *DownloadTask) RecomputeProgress() {
	if t.BytesDownloaded < 0 {
		t.BytesDownloaded = 0
	}
	if t.TotalBytes <= 0 {
		t.Progress = 0
		return
	}
	p := float64(t.BytesDownloaded) / float64(t.TotalBytes)
	if p > 1.0 {
		p = 1.0
	}
	t.Progress = p
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// scheduler's serializing guard (snapshots, persistence encoding).
func (t *DownloadTask) Clone() *DownloadTask {
	c := *t
	if t.ErrorMessage != nil {
		v := *t.ErrorMessage
		c.ErrorMessage = &v
	}
	if t.ResumeTokenRef != nil {
		v := *t.ResumeTokenRef
		c.ResumeTokenRef = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
