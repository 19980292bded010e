package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/davidbmar/whisperX-runpod/internal/registry"
	"github.com/davidbmar/whisperX-runpod/internal/storage"
	"github.com/davidbmar/whisperX-runpod/internal/transfer"
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// ErrQueueFull is returned synchronously when the job queue cannot accept
// another submission. Everything that goes wrong after Submit returns is
// only observable through status polling.
var ErrQueueFull = errors.New("job queue is full")

// ErrNoSource is returned when a submission names no audio source.
var ErrNoSource = errors.New("audio source is required")

// Engine is the processing collaborator. The dispatcher treats it as a
// black box from local audio file to structured transcript.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts types.Options) (*types.TranscriptResult, error)
}

// Transfer moves bulk payloads against signed URLs.
type Transfer interface {
	Download(ctx context.Context, signedURL, destPath string) (int64, error)
	Upload(ctx context.Context, signedURL, contentType string, body io.Reader, size int64) error
}

// Dispatcher accepts jobs and runs them on a fixed worker pool. Submit
// returns in bounded time regardless of payload size or processing duration.
type Dispatcher struct {
	registry   *registry.Registry
	engine     Engine
	transfer   Transfer
	local      *storage.LocalStorage
	archive    *storage.ArchiveDB
	scratchDir string
	jobQueue   chan Job
	workers    int
	wg         sync.WaitGroup
}

// Config sizes the worker pool and locates scratch storage.
type Config struct {
	Workers    int
	QueueDepth int
	ScratchDir string
}

// NewDispatcher creates a dispatcher. local and archive may be nil; their
// absence only disables inline-transcript persistence and the terminal-job
// archive.
func NewDispatcher(reg *registry.Registry, engine Engine, tc Transfer, local *storage.LocalStorage, archive *storage.ArchiveDB, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 100
	}
	return &Dispatcher{
		registry:   reg,
		engine:     engine,
		transfer:   tc,
		local:      local,
		archive:    archive,
		scratchDir: cfg.ScratchDir,
		jobQueue:   make(chan Job, cfg.QueueDepth),
		workers:    cfg.Workers,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	log.Printf("Starting worker pool with %d workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	close(d.jobQueue)
	d.wg.Wait()
}

// SubmitRequest describes a new job. Exactly one of AudioURL or LocalPath
// must be set.
type SubmitRequest struct {
	AudioURL   string
	ResultURL  string
	LocalPath  string
	SourceType string
	Options    types.Options
}

// Submit validates the request, creates the registry record and enqueues the
// job. It never blocks on I/O: a full queue fails synchronously and the
// record is removed before returning.
func (d *Dispatcher) Submit(req SubmitRequest) (string, error) {
	if req.AudioURL == "" && req.LocalPath == "" {
		return "", ErrNoSource
	}

	rec := d.registry.Create()
	job := Job{
		ID:         rec.ID,
		SourceType: req.SourceType,
		AudioURL:   req.AudioURL,
		ResultURL:  req.ResultURL,
		LocalPath:  req.LocalPath,
		Options:    req.Options,
	}

	select {
	case d.jobQueue <- job:
		log.Printf("Job %s enqueued (source: %s, inline: %v)", job.ID, job.SourceType, job.ResultURL == "")
		return rec.ID, nil
	default:
		d.registry.Remove(rec.ID)
		return "", ErrQueueFull
	}
}

// worker processes jobs from the queue until it is closed.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log.Printf("Worker %d started", id)

	for job := range d.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
						id, job.ID, r, string(debug.Stack()))
					d.fail(job, fmt.Errorf("worker panic: %v", r))
				}
			}()

			d.runJob(id, job)
		}()
	}
}

// runJob is the execution unit: download, transcribe, upload, complete.
// Every error path records the cause on the registry record; the scratch
// file never survives past this function.
func (d *Dispatcher) runJob(workerID int, job Job) {
	log.Printf("Worker %d: Processing job %s", workerID, job.ID)
	ctx := context.Background()

	// Step 1: fetch input to scratch storage.
	if err := d.registry.Transition(job.ID, types.StateDownloading); err != nil {
		log.Printf("Worker %d: job %s: %v", workerID, job.ID, err)
		return
	}
	d.registry.SetProgress(job.ID, 10, "")

	scratchPath := job.LocalPath
	if job.SourceType == types.SourceURL {
		scratchPath = filepath.Join(d.scratchDir, job.ID+transfer.ExtFromURL(job.AudioURL))
		written, err := d.transfer.Download(ctx, job.AudioURL, scratchPath)
		if err != nil {
			d.fail(job, err)
			return
		}
		d.registry.SetProgress(job.ID, 30, fmt.Sprintf("downloaded %d bytes", written))
	} else {
		d.registry.SetProgress(job.ID, 30, "using uploaded audio")
	}
	defer d.cleanupScratch(scratchPath)

	// Step 2: transcribe.
	if err := d.registry.Transition(job.ID, types.StateProcessing); err != nil {
		log.Printf("Worker %d: job %s: %v", workerID, job.ID, err)
		return
	}
	d.registry.SetProgress(job.ID, 40, "")

	processingStart := time.Now()
	result, err := d.engine.Transcribe(ctx, scratchPath, job.Options)
	if err != nil {
		d.fail(job, fmt.Errorf("transcription failed: %w", err))
		return
	}
	processingSeconds := math.Round(time.Since(processingStart).Seconds()*100) / 100
	summary := types.Summarize(result, processingSeconds)

	// Step 3: deliver the transcript. With a result URL it is uploaded to
	// the object store; otherwise it stays inline on the record (and is
	// saved locally when local storage is configured).
	if err := d.registry.Transition(job.ID, types.StateUploading); err != nil {
		log.Printf("Worker %d: job %s: %v", workerID, job.ID, err)
		return
	}
	d.registry.SetProgress(job.ID, 80, "")

	var inline *types.TranscriptResult
	var localPath string
	if job.ResultURL != "" {
		payload, err := json.Marshal(result)
		if err != nil {
			d.fail(job, fmt.Errorf("serialize transcript: %w", err))
			return
		}
		if err := d.transfer.Upload(ctx, job.ResultURL, "application/json", bytes.NewReader(payload), int64(len(payload))); err != nil {
			d.fail(job, err)
			return
		}
	} else {
		inline = result
		if d.local != nil {
			path, err := d.local.SaveTranscript(job.ID, result)
			if err != nil {
				log.Printf("Worker %d: local save failed for job %s: %v", workerID, job.ID, err)
			} else {
				localPath = path
			}
		}
	}

	// Step 4: terminal state.
	if err := d.registry.MarkCompleted(job.ID, summary, inline); err != nil {
		log.Printf("Worker %d: job %s: %v", workerID, job.ID, err)
		return
	}
	d.archiveTerminal(job, localPath)

	log.Printf("Worker %d: Job %s completed (%d segments, %.2fs audio, %.2fs processing)",
		workerID, job.ID, summary.SegmentsCount, summary.DurationSeconds, processingSeconds)
}

// fail records the cause on the registry and releases scratch storage.
func (d *Dispatcher) fail(job Job, cause error) {
	log.Printf("Job %s failed: %v", job.ID, cause)
	if err := d.registry.MarkFailed(job.ID, cause); err != nil {
		log.Printf("Job %s: could not record failure: %v", job.ID, err)
	}
	d.archiveTerminal(job, "")

	if job.SourceType == types.SourceURL {
		d.cleanupScratch(filepath.Join(d.scratchDir, job.ID+transfer.ExtFromURL(job.AudioURL)))
	} else {
		d.cleanupScratch(job.LocalPath)
	}
}

// archiveTerminal mirrors the terminal record into the archive. Archive
// failures are logged, never fatal to the job outcome.
func (d *Dispatcher) archiveTerminal(job Job, localPath string) {
	if d.archive == nil {
		return
	}
	rec, ok := d.registry.Get(job.ID)
	if !ok {
		return
	}
	if err := d.archive.SaveJob(rec, job.SourceType, localPath); err != nil {
		log.Printf("Job %s: archive save failed: %v", job.ID, err)
	}
}

// cleanupScratch removes a scratch file, tolerating it being already gone.
func (d *Dispatcher) cleanupScratch(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to cleanup scratch file %s: %v", path, err)
	}
}
