package registry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// ErrNotFound is returned when a job id is unknown or already swept.
var ErrNotFound = errors.New("job not found")

// JobRecord is the authoritative state of one submitted job. Callers always
// receive copies; the record inside the registry is only mutated through
// registry methods.
type JobRecord struct {
	ID          string
	State       types.State
	Progress    int
	Message     string
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
	Summary     *types.ResultSummary
	// Result is only populated for completed jobs submitted without a
	// result URL (inline mode).
	Result *types.TranscriptResult
}

// Registry is the in-memory job table shared by the dispatcher and the
// status endpoint. A single lock guards the whole map.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*JobRecord
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		jobs:     make(map[string]*JobRecord),
		stopChan: make(chan struct{}),
	}
}

// Create allocates a new queued record. The returned id is resolvable by
// Get before Create returns.
func (r *Registry) Create() JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &JobRecord{
		ID:        uuid.New().String(),
		State:     types.StateQueued,
		Message:   "queued",
		CreatedAt: time.Now(),
	}
	r.jobs[rec.ID] = rec
	return *rec
}

// Get returns a copy of the record, or false for unknown/swept ids.
func (r *Registry) Get(id string) (JobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// Remove deletes a record outright. Used by the dispatcher to undo Create
// when the job could not be enqueued.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Transition moves a job to a new state, validating the edge. StartedAt is
// stamped when the job leaves queued; terminal timestamps are stamped on
// arrival and never changed afterwards.
func (r *Registry) Transition(id string, to types.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !validTransition(rec.State, to) {
		return fmt.Errorf("invalid transition: %s -> %s", rec.State, to)
	}

	if rec.State == types.StateQueued {
		rec.StartedAt = time.Now()
	}
	rec.State = to

	switch to {
	case types.StateDownloading:
		rec.Message = "downloading audio"
	case types.StateProcessing:
		rec.Message = "transcribing audio"
	case types.StateUploading:
		rec.Message = "uploading transcript"
	}
	return nil
}

// SetProgress updates the advisory progress/message fields. Progress never
// decreases and terminal records are left untouched.
func (r *Registry) SetProgress(id string, progress int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok || rec.State.Terminal() {
		return
	}
	if progress > rec.Progress {
		if progress > 100 {
			progress = 100
		}
		rec.Progress = progress
	}
	if message != "" {
		rec.Message = message
	}
}

// MarkCompleted moves the job to its completed terminal state with the
// derived summary. result is non-nil only in inline mode.
func (r *Registry) MarkCompleted(id string, summary *types.ResultSummary, result *types.TranscriptResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !validTransition(rec.State, types.StateCompleted) {
		return fmt.Errorf("invalid transition: %s -> %s", rec.State, types.StateCompleted)
	}

	rec.State = types.StateCompleted
	rec.Progress = 100
	rec.Message = "transcription complete"
	rec.Summary = summary
	rec.Result = result
	rec.CompletedAt = time.Now()
	return nil
}

// MarkFailed moves the job to its failed terminal state, recording the cause.
func (r *Registry) MarkFailed(id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.State.Terminal() {
		return fmt.Errorf("invalid transition: %s -> %s", rec.State, types.StateFailed)
	}

	if rec.State == types.StateQueued {
		rec.StartedAt = time.Now()
	}
	rec.State = types.StateFailed
	rec.Message = "transcription failed"
	if cause != nil {
		rec.Error = cause.Error()
	}
	rec.FailedAt = time.Now()
	return nil
}

// Sweep removes terminal records whose terminal timestamp is older than
// retention and returns how many were dropped.
func (r *Registry) Sweep(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, rec := range r.jobs {
		if !rec.State.Terminal() {
			continue
		}
		finished := rec.CompletedAt
		if rec.State == types.StateFailed {
			finished = rec.FailedAt
		}
		if finished.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// StartSweeper runs Sweep on a fixed interval until StopSweeper is called.
func (r *Registry) StartSweeper(interval, retention time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(retention); n > 0 {
					log.Printf("Registry sweep: removed %d terminal jobs", n)
				}
			case <-r.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Registry sweeper started (interval: %s, retention: %s)", interval, retention)
}

// StopSweeper stops the sweep goroutine.
func (r *Registry) StopSweeper() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// validTransition enforces the allowed state machine edges. Any non-terminal
// state may fail; the success path never skips a stage.
func validTransition(from, to types.State) bool {
	if to == types.StateFailed {
		return !from.Terminal()
	}
	switch from {
	case types.StateQueued:
		return to == types.StateDownloading
	case types.StateDownloading:
		return to == types.StateProcessing
	case types.StateProcessing:
		return to == types.StateUploading
	case types.StateUploading:
		return to == types.StateCompleted
	default:
		return false
	}
}
