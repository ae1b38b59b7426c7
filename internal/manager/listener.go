package manager

import "github.com/ingestlab/fetchd/internal/task"

// Listener is the delegate protocol subscribers implement to receive
// per-task updates and a "finished all" signal.
type Listener interface {
	OnUpdate(t *task.DownloadTask)
	OnComplete(t *task.DownloadTask)
	OnFailed(t *task.DownloadTask)
	OnAllDone()
}

// NopListener implements Listener with no-op methods so callers only
// override what they need by embedding it.
type NopListener struct{}

func (NopListener) OnUpdate(*task.DownloadTask)   {}
func (NopListener) OnComplete(*task.DownloadTask) {}
func (NopListener) OnFailed(*task.DownloadTask)   {}
func (NopListener) OnAllDone()                    {}

// CompletionListener is the narrow external interface for a
// persisted-catalog consumer: the façade reports completion; it does
// not read from or write to any database directly.
type CompletionListener interface {
	OnTaskCompleted(t *task.DownloadTask)
}
