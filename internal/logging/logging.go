// Package logging provides the structured, leveled logger used across
// fetchd, built on rs/zerolog.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(io.Discard).With().Timestamp().Logger()

// Configure points the package logger at {dir}/fetchd-<timestamp>.log,
// additionally echoing at info level and above to stderr when
// consoleEcho is set.
func Configure(dir string, consoleEcho bool) (func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "fetchd-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var w io.Writer = f
	if consoleEcho {
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		w = zerolog.MultiLevelWriter(f, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  zerolog.InfoLevel,
		})
	}
	base = zerolog.New(w).With().Timestamp().Logger()
	return f.Close, nil
}

// For returns a child logger tagged with a component name, the style
// used throughout the engine's packages (scheduler, transport, state,
// ...).
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// CleanupLogs prunes all but the `keep` most recent fetchd-*.log files
// in dir.
func CleanupLogs(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var logs []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "fetchd-") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e)
		}
	}
	if len(logs) <= keep {
		return nil
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].Name() < logs[j].Name() })
	for _, e := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
