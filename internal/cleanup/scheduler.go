package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scheduler removes orphaned scratch files. The dispatcher deletes its own
// files after every job; this sweeper only catches leftovers from crashes
// and abandoned uploads that never reached Submit.
type Scheduler struct {
	scratchDir string
	interval   time.Duration
	maxAge     time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewScheduler creates a scratch sweeper for scratchDir.
func NewScheduler(scratchDir string, interval, maxAge time.Duration) *Scheduler {
	return &Scheduler{
		scratchDir: scratchDir,
		interval:   interval,
		maxAge:     maxAge,
		stopChan:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then sweeps on the configured interval.
func (s *Scheduler) Start() {
	s.SweepOnce()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.SweepOnce()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Scratch sweeper started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop stops the sweeper.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// SweepOnce removes scratch files older than maxAge and reports how many
// files were deleted.
func (s *Scheduler) SweepOnce() int {
	now := time.Now()
	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.scratchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > s.maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete orphaned scratch file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Error during scratch sweep: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Scratch sweep: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount
}

// EnsureDir creates the scratch directory if it doesn't exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
