// Package state implements debounced, atomic JSON snapshot persistence:
// the entire QueueState written to a single file via
// temp-file-then-rename, with a `.bak` backup and a flock-guarded
// writer lock.
package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/task"
)

const SchemaVersion = 1

// QueueState is the persistence root.
type QueueState struct {
	SchemaVersion          int                  `json:"schema_version"`
	IsPaused               bool                 `json:"is_paused"`
	MaxConcurrentDownloads int                  `json:"max_concurrent_downloads"`
	QueueOrder             []string             `json:"queue_order"`
	Tasks                  []*task.DownloadTask `json:"tasks"`
}

var log = logging.For("state")

// Store manages the single queue_state file plus its .bak backup and a
// debounce timer coalescing rapid schedule_save calls into one write.
type Store struct {
	path     string
	lock     *flock.Flock
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	pending  *QueueState
	lastHash [32]byte
}

func NewStore(stateDir string, debounce time.Duration) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	path := filepath.Join(stateDir, "download_queue.json")
	return &Store{
		path:     path,
		lock:     flock.New(path + ".lock"),
		debounce: debounce,
	}, nil
}

// ScheduleSave coalesces calls within the debounce window into a
// single write.
func (s *Store) ScheduleSave(qs *QueueState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = qs
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		qs := s.pending
		s.pending = nil
		s.timer = nil
		s.mu.Unlock()
		if qs != nil {
			if err := s.saveNow(qs); err != nil {
				log.Error().Err(err).Msg("debounced save failed")
			}
		}
	})
}

// SaveNow bypasses the debounce window and writes immediately.
func (s *Store) SaveNow(qs *QueueState) error {
	s.mu.Lock()
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.saveNow(qs)
}

func (s *Store) saveNow(qs *QueueState) error {
	qs.SchemaVersion = SchemaVersion
	body, err := json.MarshalIndent(qs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue state: %w", err)
	}

	hash := sha256.Sum256(body)
	s.mu.Lock()
	unchanged := hash == s.lastHash
	s.mu.Unlock()
	if unchanged {
		return nil // idempotence: skip writes when state is unchanged
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("state file is locked by another process")
	}
	defer s.lock.Unlock()

	if err := s.createBackup(); err != nil {
		log.Warn().Err(err).Msg("failed to back up previous state file")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming state file: %w", err)
	}

	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()
	return nil
}

// createBackup duplicates the current state file to {path}.bak.
func (s *Store) createBackup() error {
	body, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(s.path+".bak", body, 0o644)
}

// Load reads and validates the state file, repairing unambiguous
// problems (dangling queue_order ids) and falling back to the .bak copy
// if the primary file is unreadable or unrepairable. Returns (nil, nil)
// for "no state".
func (s *Store) Load() (*QueueState, error) {
	qs, err := s.loadFrom(s.path)
	if err == nil {
		return qs, nil
	}
	log.Warn().Err(err).Msg("primary state file invalid, trying backup")

	qs, berr := s.loadFrom(s.path + ".bak")
	if berr == nil {
		return qs, nil
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("no usable state file: primary=%v backup=%v", err, berr)
}

func (s *Store) loadFrom(path string) (*QueueState, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var qs QueueState
	if err := json.Unmarshal(body, &qs); err != nil {
		return nil, fmt.Errorf("decoding state file: %w", err)
	}
	if qs.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("schema_version mismatch: got %d, want %d", qs.SchemaVersion, SchemaVersion)
	}
	repairDanglingOrder(&qs)
	return &qs, nil
}

// repairDanglingOrder drops queue_order ids with no matching task,
// restoring the bijection invariant rather than rejecting the whole
// file: an unambiguous repair keeps the rest of the file usable.
func repairDanglingOrder(qs *QueueState) {
	byID := make(map[string]bool, len(qs.Tasks))
	for _, t := range qs.Tasks {
		byID[t.ID] = true
	}
	order := qs.QueueOrder[:0]
	for _, id := range qs.QueueOrder {
		if byID[id] {
			order = append(order, id)
		}
	}
	qs.QueueOrder = order

	inOrder := make(map[string]bool, len(order))
	for _, id := range order {
		inOrder[id] = true
	}
	for _, t := range qs.Tasks {
		if !inOrder[t.ID] {
			qs.QueueOrder = append(qs.QueueOrder, t.ID)
		}
	}
}

// RestoreFromBackup swaps the .bak file in as the primary state file.
func (s *Store) RestoreFromBackup() error {
	body, err := os.ReadFile(s.path + ".bak")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
