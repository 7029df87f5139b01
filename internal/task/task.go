package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the task lifecycle phase.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time snapshot of a task.
type Status struct {
	ID         string  `json:"id"`
	State      State   `json:"status"`
	Progress   float64 `json:"progress"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
	Stage      string  `json:"stage,omitempty"`
	ErrorCode  Code    `json:"error_code,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
}

// Handle drives one asynchronous task. Progress and Cancel may be called
// from any goroutine; Await blocks until the task settles.
type Handle struct {
	id     string
	cancel atomic.Bool
	done   chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

func newHandle() *Handle {
	id := uuid.NewString()
	return &Handle{
		id:   id,
		done: make(chan struct{}),
		status: Status{
			ID:    id,
			State: StateQueued,
		},
	}
}

// ID returns the task identifier.
func (h *Handle) ID() string {
	return h.id
}

// Progress returns the current status snapshot.
func (h *Handle) Progress() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Cancel requests cooperative cancellation. It may take one in-flight frame
// per worker before the pipeline observes the flag.
func (h *Handle) Cancel() {
	h.cancel.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (h *Handle) Cancelled() bool {
	return h.cancel.Load()
}

// Await blocks until the task settles and returns the output path or the
// terminal error.
func (h *Handle) Await() (string, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.OutputPath, h.err
}

// Done exposes the completion channel for select-based callers.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) setRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.State = StateRunning
}

func (h *Handle) setStage(stage string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.Stage = stage
}

func (h *Handle) setProgress(progress, etaSeconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if progress > 100 {
		progress = 100
	}
	h.status.Progress = progress
	h.status.ETASeconds = etaSeconds
}

func (h *Handle) finish(outputPath string, err error) {
	h.mu.Lock()
	switch {
	case err == nil:
		h.status.State = StateSucceeded
		h.status.Progress = 100
		h.status.ETASeconds = 0
		h.status.OutputPath = outputPath
	case CodeOf(err) == CodeCancelled:
		h.status.State = StateCancelled
		h.status.ErrorCode = CodeCancelled
		h.err = err
	default:
		h.status.State = StateFailed
		h.status.ErrorCode = CodeOf(err)
		h.err = err
	}
	h.mu.Unlock()
	close(h.done)
}
