package task

// Group is the transient read-model produced by the Progress Aggregator:
// all tasks sharing a category, rolled up into counts and an overall
// status.
type Group struct {
	Category        string           `json:"category"`
	Tasks           []*DownloadTask  `json:"tasks"`
	CountByStatus   map[Status]int   `json:"count_by_status"`
	BytesDownloaded int64            `json:"bytes_downloaded"`
	TotalBytes      int64            `json:"total_bytes"`
	Progress        float64          `json:"progress"`
	OverallStatus   Status           `json:"overall_status"`
}

// GroupByCategory rolls up tasks into one Group per distinct category,
// preserving first-seen category order.
func GroupByCategory(tasks []*DownloadTask) []Group {
	order := []string{}
	byCat := map[string][]*DownloadTask{}
	for _, t := range tasks {
		if _, ok := byCat[t.Category]; !ok {
			order = append(order, t.Category)
		}
		byCat[t.Category] = append(byCat[t.Category], t)
	}

	groups := make([]Group, 0, len(order))
	for _, cat := range order {
		groups = append(groups, buildGroup(cat, byCat[cat]))
	}
	return groups
}

func buildGroup(category string, tasks []*DownloadTask) Group {
	g := Group{
		Category:      category,
		Tasks:         tasks,
		CountByStatus: map[Status]int{},
	}

	var weightedBytes, weightedTotal float64
	anyFailed, anyActive, anyPaused, anyPending := false, false, false, false

	for _, t := range tasks {
		g.CountByStatus[t.Status]++
		g.BytesDownloaded += t.BytesDownloaded
		g.TotalBytes += t.TotalBytes
		weightedBytes += float64(t.BytesDownloaded)
		weightedTotal += float64(t.TotalBytes)

		switch t.Status {
		case StatusFailed:
			anyFailed = true
		case StatusPaused:
			anyPaused = true
		case StatusPending:
			anyPending = true
		}
		if t.Status.IsActive() {
			anyActive = true
		}
	}

	if g.TotalBytes > 0 {
		g.Progress = weightedBytes / weightedTotal
	} else if len(tasks) > 0 {
		sum := 0.0
		for _, t := range tasks {
			sum += t.Progress
		}
		g.Progress = sum / float64(len(tasks))
	}

	g.OverallStatus = overallStatus(tasks, anyFailed, anyActive, anyPaused, anyPending)
	return g
}

// overallStatus derives a DownloadTaskGroup's aggregate status:
// completed if all complete; else failed if any failed and none active;
// else downloading if any active; else paused if any paused and none
// pending; else pending.
func overallStatus(tasks []*DownloadTask, anyFailed, anyActive, anyPaused, anyPending bool) Status {
	allComplete := true
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			allComplete = false
			break
		}
	}
	switch {
	case allComplete:
		return StatusCompleted
	case anyFailed && !anyActive:
		return StatusFailed
	case anyActive:
		return StatusDownloading
	case anyPaused && !anyPending:
		return StatusPaused
	default:
		return StatusPending
	}
}
