// Package diskprobe checks available free space before the Scheduler
// admits a task. Wrapped behind a narrow interface so tests can fake
// it without touching the filesystem.
package diskprobe

import "github.com/shirou/gopsutil/v3/disk"

// Prober reports free bytes available at path.
type Prober interface {
	FreeBytes(path string) (uint64, error)
}

// Gopsutil is the production Prober, backed by shirou/gopsutil's
// cross-platform disk usage query.
type Gopsutil struct{}

func (Gopsutil) FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// HasRoom reports whether path has at least estimatedSize+margin bytes
// free. estimatedSize of 0 (unknown size) always passes, since the
// Scheduler cannot evaluate a margin against an unknown quantity.
func HasRoom(p Prober, path string, estimatedSize, margin int64) (bool, error) {
	if estimatedSize <= 0 {
		return true, nil
	}
	free, err := p.FreeBytes(path)
	if err != nil {
		return false, err
	}
	need := estimatedSize + margin
	return need <= 0 || uint64(need) <= free, nil
}
