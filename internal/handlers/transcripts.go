package handlers

import (
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/davidbmar/whisperX-runpod/internal/storage"
)

// TranscriptsHandler exposes the durable archive of finished jobs and the
// locally stored transcript text for inline-mode jobs.
type TranscriptsHandler struct {
	archive *storage.ArchiveDB
}

// NewTranscriptsHandler creates a new transcripts handler
func NewTranscriptsHandler(archive *storage.ArchiveDB) *TranscriptsHandler {
	return &TranscriptsHandler{archive: archive}
}

// List returns recently finished jobs, newest first.
func (h *TranscriptsHandler) List(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := h.archive.ListJobs(limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to list transcripts",
			"code":  "ERR_LIST_FAILED",
		})
	}
	if jobs == nil {
		jobs = []map[string]interface{}{}
	}
	return c.JSON(fiber.Map{
		"count":       len(jobs),
		"transcripts": jobs,
	})
}

// Text serves the plain-text transcript saved for an inline-mode job.
func (h *TranscriptsHandler) Text(c *fiber.Ctx) error {
	jobID := c.Params("job_id")

	job, err := h.archive.GetJob(jobID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}

	localPath, _ := job["local_path"].(string)
	if localPath == "" {
		return c.Status(404).JSON(fiber.Map{
			"error": "No local transcript for this job",
			"code":  "ERR_NO_TRANSCRIPT",
		})
	}

	text, err := os.ReadFile(localPath)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Transcript file is gone",
			"code":  "ERR_NO_TRANSCRIPT",
		})
	}

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.Send(text)
}
