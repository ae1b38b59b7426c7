package manager

import "github.com/ingestlab/fetchd/internal/task"

// Snapshot is the observable view published by the façade.
type Snapshot struct {
	Tasks              []*task.DownloadTask `json:"tasks"`
	GroupedByCategory  []task.Group         `json:"grouped_by_category"`
	OverallProgress    float64              `json:"overall_progress"`
	OverallRateBps     float64              `json:"overall_rate_bytes_per_second"`
	ActiveCount        int                  `json:"active_count"`
	FailedCount        int                  `json:"failed_count"`
	PendingCount       int                  `json:"pending_count"`
	IsPaused           bool                 `json:"is_paused"`
	IsNetworkAvailable bool                 `json:"is_network_available"`
}
