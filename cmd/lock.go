package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ingestlab/fetchd/internal/config"
)

// InstanceLock wraps the single-instance advisory lock guarding
// fetchd's base directory.
type InstanceLock struct {
	flock *flock.Flock
}

var instanceLock *InstanceLock

// AcquireLock attempts to become the single running `fetchd run`
// instance. A false return (no error) means another instance already
// holds the lock.
func AcquireLock() (bool, error) {
	dir := config.BaseDir()
	if err := ensureDir(dir); err != nil {
		return false, fmt.Errorf("creating %s: %w", dir, err)
	}

	fileLock := flock.New(filepath.Join(dir, "fetchd.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = &InstanceLock{flock: fileLock}
	return true, nil
}

// ReleaseLock releases the lock if this process holds it.
func ReleaseLock() error {
	if instanceLock != nil && instanceLock.flock != nil {
		return instanceLock.flock.Unlock()
	}
	return nil
}
