// Package manager implements the Manager Facade: the single public
// entry point that owns the Task Queue, drives the Scheduler's
// admission loop, applies Lifecycle transitions, and schedules State
// Persistence — all from one goroutine, a single serializing guard
// across those four components.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/diskprobe"
	"github.com/ingestlab/fetchd/internal/lifecycle"
	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/manifest"
	"github.com/ingestlab/fetchd/internal/metrics"
	"github.com/ingestlab/fetchd/internal/network"
	"github.com/ingestlab/fetchd/internal/progress"
	"github.com/ingestlab/fetchd/internal/queue"
	"github.com/ingestlab/fetchd/internal/resumetoken"
	"github.com/ingestlab/fetchd/internal/retry"
	"github.com/ingestlab/fetchd/internal/scheduler"
	"github.com/ingestlab/fetchd/internal/state"
	"github.com/ingestlab/fetchd/internal/task"
	"github.com/ingestlab/fetchd/internal/transport"
)

var log = logging.For("manager")

// Config wires everything the Manager needs to construct its
// dependencies (directories, runtime tuning, optional metrics).
type Config struct {
	DownloadsDir  string
	StateDir      string
	MaxConcurrent int // whole-task concurrency cap; 0 defaults to 3
	Runtime       *config.RuntimeConfig
	Metrics       *metrics.Metrics // optional; nil disables metric updates
	DiskProber    diskprobe.Prober // optional; defaults to diskprobe.Gopsutil{}
}

type Manager struct {
	cfg Config

	q           *queue.Queue
	sched       *scheduler.Scheduler
	resumeStore *resumetoken.Store
	stateStore  *state.Store
	retryPolicy *retry.Policy
	netMonitor  *network.Monitor

	samplers     map[string]*progress.TaskSampler
	pauseTrigger map[string]lifecycle.Trigger

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	listeners     []Listener
	completionSub CompletionListener
}

func New(cfg Config) (*Manager, error) {
	if cfg.Runtime == nil {
		cfg.Runtime = &config.RuntimeConfig{}
	}
	if cfg.DiskProber == nil {
		cfg.DiskProber = diskprobe.Gopsutil{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	for _, dir := range []string{
		config.DownloadsTmpDir(cfg.DownloadsDir),
		config.DownloadsCompletedDir(cfg.DownloadsDir),
		config.DownloadsResumeDir(cfg.DownloadsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	resumeStore := resumetoken.NewStore(config.DownloadsResumeDir(cfg.DownloadsDir))
	stateStore, err := state.NewStore(cfg.StateDir, time.Second)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		q:            queue.New(cfg.MaxConcurrent),
		sched:        scheduler.New(cfg.Runtime, config.DownloadsTmpDir(cfg.DownloadsDir), resumeStore),
		resumeStore:  resumeStore,
		stateStore:   stateStore,
		retryPolicy:  retry.NewPolicy(cfg.Runtime.GetMaxTaskRetries(), config.RetryBaseDelay),
		netMonitor:   network.NewMonitor(network.DialProber("1.1.1.1:443", 5*time.Second), 10*time.Second),
		samplers:     map[string]*progress.TaskSampler{},
		pauseTrigger: map[string]lifecycle.Trigger{},
		cmds:         make(chan func(), 64),
	}
	return m, nil
}

// Run starts the event loop and the network monitor; it blocks until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.ctx = loopCtx
	m.cancel = cancel
	go m.netMonitor.Run(loopCtx)

	if qs, err := m.stateStore.Load(); err != nil {
		log.Error().Err(err).Msg("failed to load persisted state")
	} else if qs != nil {
		m.restore(qs)
	}

	for {
		select {
		case <-loopCtx.Done():
			return
		case fn := <-m.cmds:
			fn()
		case ev := <-m.sched.Events():
			m.handleEvent(ev)
		case avail := <-m.netMonitor.Changes():
			m.handleNetworkChange(avail)
		}
		m.tryAdmit()
		m.schedulePersist()
	}
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// do runs fn on the event loop goroutine and waits for it to finish,
// giving every public method exclusive access to Manager/Queue state
// without a separate lock.
func (m *Manager) do(fn func()) {
	done := make(chan struct{})
	m.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

func (m *Manager) restore(qs *state.QueueState) {
	m.q.SetPaused(qs.IsPaused)
	m.q.SetMaxConcurrent(qs.MaxConcurrentDownloads)
	tasks := make([]*task.DownloadTask, 0, len(qs.Tasks))
	byID := map[string]*task.DownloadTask{}
	for _, t := range qs.Tasks {
		byID[t.ID] = t
	}
	for _, id := range qs.QueueOrder {
		if t, ok := byID[id]; ok {
			// A task persisted mid-flight (queued/downloading/extracting)
			// re-materializes as pending: its Transport job died with the
			// process, so it must be re-admitted from scratch or from its
			// resume token.
			if t.Status == task.StatusQueued || t.Status == task.StatusDownloading || t.Status == task.StatusExtracting {
				t.Status = task.StatusPending
			}
			tasks = append(tasks, t)
		}
	}
	m.q.EnqueueAll(tasks)
}

// LoadManifest replaces current tasks with ones derived from entries.
func (m *Manager) LoadManifest(entries []task.ManifestEntry, datasetName string) error {
	if errs := manifest.Validate(entries); len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %v", errs)
	}
	m.do(func() {
		m.q.Clear()
		now := time.Now()
		tasks := make([]*task.DownloadTask, 0, len(entries))
		for _, e := range entries {
			if e.DatasetName == "" {
				e.DatasetName = datasetName
			}
			tasks = append(tasks, task.NewFromManifestEntry(uuid.NewString(), e, now))
		}
		m.q.EnqueueAll(tasks)
	})
	return nil
}

func (m *Manager) Start()       { m.do(func() { m.q.SetPaused(false) }) }
func (m *Manager) PauseAll()    { m.do(m.pauseAllLocked) }
func (m *Manager) ResumeAll()   { m.do(m.resumeAllLocked) }
func (m *Manager) RetryFailed() { m.do(m.retryFailedLocked) }
func (m *Manager) Clear()       { m.do(func() { m.q.Clear() }) }

func (m *Manager) pauseAllLocked() {
	m.q.SetPaused(true)
	for _, t := range m.q.ByStatus(task.StatusDownloading) {
		m.pauseOneLocked(t.ID, lifecycle.TriggerGlobalPause)
	}
	for _, t := range m.q.ByStatus(task.StatusQueued) {
		m.pauseOneLocked(t.ID, lifecycle.TriggerGlobalPause)
	}
}

func (m *Manager) resumeAllLocked() {
	m.q.SetPaused(false)
	for _, t := range m.q.ByStatus(task.StatusPaused) {
		lifecycle.Transition(t, task.StatusPending, time.Now(), lifecycle.TriggerReset)
	}
}

func (m *Manager) retryFailedLocked() {
	for _, t := range m.q.ByStatus(task.StatusFailed) {
		lifecycle.Reset(t, lifecycle.TriggerReset)
	}
}

func (m *Manager) Pause(id string)      { m.do(func() { m.pauseOneLocked(id, lifecycle.TriggerUserPause) }) }
func (m *Manager) Resume(id string)     { m.do(func() { m.resumeOneLocked(id) }) }
func (m *Manager) Cancel(id string)     { m.do(func() { m.cancelOneLocked(id) }) }
func (m *Manager) Retry(id string)      { m.do(func() { m.retryOneLocked(id) }) }
func (m *Manager) Prioritize(id string) { m.do(func() { m.q.Prioritize(id) }) }

func (m *Manager) Remove(id string) {
	m.do(func() {
		m.sched.Cancel(id)
		m.resumeStore.Delete(id)
		m.q.Remove(id)
	})
}

func (m *Manager) pauseOneLocked(id string, trigger lifecycle.Trigger) {
	t, ok := m.q.Get(id)
	if !ok || !t.Status.CanPause() {
		return
	}
	if !m.sched.RequestPause(id) {
		// Never started running (still queued, no job yet): pause directly.
		lifecycle.Transition(t, task.StatusPaused, time.Now(), trigger)
		return
	}
	m.pauseTrigger[id] = trigger
}

func (m *Manager) resumeOneLocked(id string) {
	t, ok := m.q.Get(id)
	if !ok || t.Status != task.StatusPaused {
		return
	}
	lifecycle.Transition(t, task.StatusPending, time.Now(), lifecycle.TriggerReset)
}

func (m *Manager) cancelOneLocked(id string) {
	if _, ok := m.q.Get(id); !ok {
		return
	}
	if !m.sched.Cancel(id) {
		// Not running yet (no job spawned): nothing for the scheduler to
		// tear down, so remove immediately.
		m.resumeStore.Delete(id)
		m.q.Remove(id)
		return
	}
	// Still running: wait for EventCancelled, which removes the task once
	// the scheduler has cleaned up the temp file.
}

func (m *Manager) retryOneLocked(id string) {
	t, ok := m.q.Get(id)
	if !ok || t.Status != task.StatusFailed {
		return
	}
	lifecycle.Reset(t, lifecycle.TriggerReset)
}

// tryAdmit starts as many pending tasks as the concurrency cap allows,
// consulting the Disk Probe before each admission.
func (m *Manager) tryAdmit() {
	for {
		t, ok := m.q.NextPending()
		if !ok {
			return
		}

		if t.TotalBytes <= 0 {
			// Manifest didn't know the size; learn it (and range support)
			// with a cheap Range probe before trusting the disk check below.
			if res, err := transport.Probe(m.ctx, t.URL, m.cfg.Runtime); err != nil {
				log.Warn().Err(err).Str("task_id", t.ID).Msg("size probe failed, admitting with unknown size")
			} else {
				t.TotalBytes = res.SizeBytes
				t.RecomputeProgress()
			}
		}

		if ok, err := diskprobe.HasRoom(m.cfg.DiskProber, m.cfg.DownloadsDir, t.TotalBytes, m.cfg.Runtime.GetDiskSafetyMarginBytes()); err != nil {
			log.Warn().Err(err).Str("task_id", t.ID).Msg("disk probe failed, admitting anyway")
		} else if !ok {
			lifecycle.Fail(t, time.Now(), "insufficient storage", false, lifecycle.TriggerUnrecoverable)
			m.bumpMetric(func(mm *metrics.Metrics) { mm.TasksFailed.Inc() })
			m.notifyFailed(t)
			continue
		}

		lifecycle.Transition(t, task.StatusQueued, time.Now(), lifecycle.TriggerSchedulerPickup)
		var tokPtr *resumetoken.Token
		if tok, ok := m.resumeStore.Load(t.ID); ok {
			tokPtr = &tok
		}
		m.sched.Start(t, tokPtr)
		lifecycle.Transition(t, task.StatusDownloading, time.Now(), lifecycle.TriggerFirstByte)
	}
}

func (m *Manager) handleEvent(ev scheduler.Event) {
	t, ok := m.q.Get(ev.TaskID)
	if !ok {
		return
	}

	switch ev.Kind {
	case scheduler.EventProgress:
		lifecycle.UpdateBytes(t, ev.BytesWritten, ev.TotalBytes)
		m.sampler(t.ID).Observe(time.Now(), ev.BytesWritten)
		m.notifyUpdate(t)

	case scheduler.EventDone:
		m.finishTask(t, ev)

	case scheduler.EventPaused:
		lifecycle.UpdateBytes(t, ev.BytesWritten, ev.TotalBytes)
		path, err := m.resumeStore.Save(t.ID, resumetoken.Token{Validator: ev.Validator, NextOffset: ev.BytesWritten})
		if err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("saving resume token")
		} else {
			t.ResumeTokenRef = &path
		}
		trigger := m.pauseTrigger[t.ID]
		delete(m.pauseTrigger, t.ID)
		if trigger == "" {
			trigger = lifecycle.TriggerUserPause
		}
		lifecycle.Transition(t, task.StatusPaused, time.Now(), trigger)
		m.notifyUpdate(t)

	case scheduler.EventCancelled:
		m.resumeStore.Delete(t.ID)
		m.q.Remove(t.ID)

	case scheduler.EventFailed:
		m.handleFailure(t, ev)
	}
}

func (m *Manager) finishTask(t *task.DownloadTask, ev scheduler.Event) {
	now := time.Now()
	lifecycle.Transition(t, task.StatusExtracting, now, lifecycle.TriggerBytesComplete)

	src := filepath.Join(config.DownloadsTmpDir(m.cfg.DownloadsDir), t.ID+".part")
	dstName := fmt.Sprintf("%s_%s", t.ID, t.Filename)
	dst := filepath.Join(config.DownloadsCompletedDir(m.cfg.DownloadsDir), dstName)
	if err := os.Rename(src, dst); err != nil {
		lifecycle.Fail(t, now, "failed to finalize download", false, lifecycle.TriggerUnrecoverable)
		m.bumpMetric(func(mm *metrics.Metrics) { mm.TasksFailed.Inc() })
		m.notifyFailed(t)
		return
	}

	m.resumeStore.Delete(t.ID)
	lifecycle.Transition(t, task.StatusCompleted, now, lifecycle.TriggerHandoffAck)
	t.Attempt = 0
	t.ValidatorResets = 0
	delete(m.samplers, t.ID)

	m.bumpMetric(func(mm *metrics.Metrics) {
		mm.TasksCompleted.Inc()
		mm.BytesDownloaded.Add(float64(ev.BytesWritten))
	})

	m.mu.Lock()
	sub := m.completionSub
	m.mu.Unlock()
	if sub != nil {
		sub.OnTaskCompleted(t)
	}
	m.notifyComplete(t)

	if m.allDone() {
		m.notifyAllDone()
	}
}

func (m *Manager) handleFailure(t *task.DownloadTask, ev scheduler.Event) {
	now := time.Now()
	t.Attempt++

	decision := m.retryPolicy.Decide(ev.Err, t.Attempt, t.ValidatorResets)

	if !decision.Retry {
		lifecycle.Fail(t, now, decision.Message, false, lifecycle.TriggerUnrecoverable)
		m.resumeStore.Delete(t.ID)
		m.bumpMetric(func(mm *metrics.Metrics) { mm.TasksFailed.Inc() })
		m.notifyFailed(t)
		return
	}
	m.bumpMetric(func(mm *metrics.Metrics) { mm.Retries.Inc() })

	if decision.ResetOffset {
		t.ValidatorResets++
		m.resumeStore.Delete(t.ID)
		t.ResumeTokenRef = nil
	} else if ev.BytesWritten > 0 {
		path, err := m.resumeStore.Save(t.ID, resumetoken.Token{Validator: ev.Validator, NextOffset: ev.BytesWritten})
		if err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("saving resume token")
		} else {
			t.ResumeTokenRef = &path
		}
	}
	// parked until the backoff timer fires
	lifecycle.Transition(t, task.StatusPaused, now, lifecycle.TriggerUnrecoverable)

	delay := decision.After
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		m.do(func() {
			if cur, ok := m.q.Get(t.ID); ok && cur.Status == task.StatusPaused {
				lifecycle.Transition(cur, task.StatusPending, time.Now(), lifecycle.TriggerReset)
			}
		})
	}()
}

func (m *Manager) handleNetworkChange(available bool) {
	if available {
		for _, t := range m.q.ByStatus(task.StatusPaused) {
			// Only re-admit tasks this monitor itself parked; a
			// user-initiated pause is left alone until explicitly resumed.
			if t.ResumeTokenRef != nil {
				lifecycle.Transition(t, task.StatusPending, time.Now(), lifecycle.TriggerReset)
			}
		}
		return
	}
	for _, t := range m.q.ByStatus(task.StatusDownloading) {
		m.pauseOneLocked(t.ID, lifecycle.TriggerNetworkLoss)
	}
}

func (m *Manager) allDone() bool {
	byStatus, active, pending := m.q.Counts()
	return active == 0 && pending == 0 && byStatus[task.StatusFailed] == 0
}

func (m *Manager) sampler(id string) *progress.TaskSampler {
	s, ok := m.samplers[id]
	if !ok {
		s = progress.NewTaskSampler()
		m.samplers[id] = s
	}
	return s
}

func (m *Manager) bumpMetric(fn func(*metrics.Metrics)) {
	if m.cfg.Metrics != nil {
		fn(m.cfg.Metrics)
	}
}

func (m *Manager) schedulePersist() {
	byStatus, active, pending := m.q.Counts()
	m.bumpMetric(func(mm *metrics.Metrics) {
		mm.ActiveTasks.Set(float64(active))
		mm.PendingTasks.Set(float64(pending))
		mm.QueueDepth.Set(float64(active + pending + byStatus[task.StatusPaused] + byStatus[task.StatusCompleted] + byStatus[task.StatusFailed]))
	})

	qs := &state.QueueState{
		IsPaused:               m.q.IsPaused(),
		MaxConcurrentDownloads: m.q.MaxConcurrent(),
		QueueOrder:             m.q.Order(),
		Tasks:                  m.q.All(),
	}
	m.stateStore.ScheduleSave(qs)
}

// Snapshot returns the observable view of the queue and its tasks.
func (m *Manager) Snapshot() Snapshot {
	var snap Snapshot
	m.do(func() {
		tasks := m.q.All()
		byStatus, active, pending := m.q.Counts()
		agg := progress.Compute(tasks, m.samplers)
		snap = Snapshot{
			Tasks:              tasks,
			GroupedByCategory:  task.GroupByCategory(tasks),
			OverallProgress:    agg.OverallProgress,
			OverallRateBps:     agg.OverallRate,
			ActiveCount:        active,
			FailedCount:        byStatus[task.StatusFailed],
			PendingCount:       pending,
			IsPaused:           m.q.IsPaused(),
			IsNetworkAvailable: m.netMonitor.IsAvailable(),
		}
	})
	return snap
}

// Subscribe registers listener for per-task updates and a "finished
// all" signal; the returned func unsubscribes.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = NopListener{}
		}
	}
}

// SetCompletionListener wires the narrow external "persisted catalog"
// consumer interface.
func (m *Manager) SetCompletionListener(l CompletionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionSub = l
}

func (m *Manager) listenerSnapshot() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

// Listener fan-out is fire-and-forget: notifications never block the
// event loop on a slow subscriber.
func (m *Manager) notifyUpdate(t *task.DownloadTask) {
	snap := t.Clone()
	for _, l := range m.listenerSnapshot() {
		go l.OnUpdate(snap)
	}
}
func (m *Manager) notifyComplete(t *task.DownloadTask) {
	snap := t.Clone()
	for _, l := range m.listenerSnapshot() {
		go l.OnComplete(snap)
	}
}
func (m *Manager) notifyFailed(t *task.DownloadTask) {
	snap := t.Clone()
	for _, l := range m.listenerSnapshot() {
		go l.OnFailed(snap)
	}
}
func (m *Manager) notifyAllDone() {
	for _, l := range m.listenerSnapshot() {
		go l.OnAllDone()
	}
}
