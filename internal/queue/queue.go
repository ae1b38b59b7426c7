// Package queue implements the whole-task admission queue: the single
// authoritative store of tasks, guarding ordering and uniqueness behind
// one serializing mutex so observers always see a consistent view.
//
// This is the outer, per-whole-task admission queue driven by the
// Scheduler — distinct from a work-stealing queue of byte-range chunks
// inside a single download, which internal/transport handles instead.
package queue

import (
	"sync"

	"github.com/ingestlab/fetchd/internal/task"
)

// Queue is the ordered list of tasks plus an index by id. It maintains
// the invariant set(order) = set(byID.keys) and len(order) = len(byID).
type Queue struct {
	mu            sync.Mutex
	order         []string
	byID          map[string]*task.DownloadTask
	isPaused      bool
	maxConcurrent int
}

func New(maxConcurrent int) *Queue {
	return &Queue{
		byID:          map[string]*task.DownloadTask{},
		maxConcurrent: maxConcurrent,
	}
}

// Enqueue appends to the tail if task.ID is new; otherwise a no-op.
func (q *Queue) Enqueue(t *task.DownloadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(t)
}

func (q *Queue) enqueueLocked(t *task.DownloadTask) {
	if _, exists := q.byID[t.ID]; exists {
		return
	}
	q.byID[t.ID] = t
	q.order = append(q.order, t.ID)
}

// EnqueueAll enqueues a batch, preserving input order; duplicates are
// skipped individually rather than aborting the whole batch.
func (q *Queue) EnqueueAll(tasks []*task.DownloadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		q.enqueueLocked(t)
	}
}

// Remove drops the task and its queue-order entry. Unknown ids are a
// no-op.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; !ok {
		return
	}
	delete(q.byID, id)
	q.order = removeString(q.order, id)
}

// Reorder removes id and reinserts it at newIndex, clamped to
// [0, len-1]. Unknown ids are a no-op.
func (q *Queue) Reorder(id string, newIndex int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; !ok {
		return
	}
	q.order = removeString(q.order, id)
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(q.order) {
		newIndex = len(q.order)
	}
	q.order = append(q.order[:newIndex], append([]string{id}, q.order[newIndex:]...)...)
}

// Prioritize is equivalent to Reorder(id, 0).
func (q *Queue) Prioritize(id string) {
	q.Reorder(id, 0)
}

// Clear empties tasks and queue order.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byID = map[string]*task.DownloadTask{}
	q.order = nil
}

// Update applies mutator to the task if present; unknown ids are a
// no-op. mutator runs under the queue's lock, so it must not re-enter
// the Queue.
func (q *Queue) Update(id string, mutator func(*task.DownloadTask)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.byID[id]; ok {
		mutator(t)
	}
}

func (q *Queue) Get(id string) (*task.DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	return t, ok
}

// All returns tasks in queue order.
func (q *Queue) All() []*task.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.DownloadTask, 0, len(q.order))
	for _, id := range q.order {
		if t, ok := q.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (q *Queue) ByStatus(s task.Status) []*task.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*task.DownloadTask
	for _, id := range q.order {
		if t := q.byID[id]; t != nil && t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

func (q *Queue) ByCategory(category string) []*task.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*task.DownloadTask
	for _, id := range q.order {
		if t := q.byID[id]; t != nil && t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// Counts returns the number of tasks per status plus the active count
// (queued + downloading + extracting).
func (q *Queue) Counts() (byStatus map[task.Status]int, active, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	byStatus = map[task.Status]int{}
	for _, t := range q.byID {
		byStatus[t.Status]++
		if t.Status.IsActive() {
			active++
		}
		if t.Status == task.StatusPending {
			pending++
		}
	}
	return
}

func (q *Queue) ActiveCount() int {
	_, active, _ := q.Counts()
	return active
}

// NextPending returns the first task in queue order with status
// pending, iff active_count < max_concurrent_downloads and the queue is
// not globally paused. This is the admission queue's only selection
// policy.
func (q *Queue) NextPending() (*task.DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isPaused {
		return nil, false
	}
	active := 0
	for _, t := range q.byID {
		if t.Status.IsActive() {
			active++
		}
	}
	if active >= q.maxConcurrent {
		return nil, false
	}
	for _, id := range q.order {
		if t := q.byID[id]; t != nil && t.Status == task.StatusPending {
			return t, true
		}
	}
	return nil, false
}

func (q *Queue) SetPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.isPaused = paused
}

func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isPaused
}

func (q *Queue) SetMaxConcurrent(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxConcurrent = n
}

func (q *Queue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

// Order returns a copy of the current queue_order, for persistence
// encoding.
func (q *Queue) Order() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
