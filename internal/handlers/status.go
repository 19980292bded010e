package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/davidbmar/whisperX-runpod/internal/registry"
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// StatusHandler serves the polling contract: every field a caller may branch
// on is derived from the registry record at request time.
type StatusHandler struct {
	registry *registry.Registry
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(reg *registry.Registry) *StatusHandler {
	return &StatusHandler{registry: reg}
}

// Handle returns the current status of a job
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	jobID := c.Params("job_id")

	rec, ok := h.registry.Get(jobID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}

	payload := fiber.Map{
		"job_id":   rec.ID,
		"status":   string(rec.State),
		"progress": rec.Progress,
		"message":  rec.Message,
	}
	if !rec.StartedAt.IsZero() {
		payload["started_at"] = rec.StartedAt
	}

	switch rec.State {
	case types.StateCompleted:
		payload["completed_at"] = rec.CompletedAt
		if rec.Summary != nil {
			payload["segments_count"] = rec.Summary.SegmentsCount
			payload["speakers_count"] = rec.Summary.SpeakersCount
			payload["duration_seconds"] = rec.Summary.DurationSeconds
			payload["processing_time_seconds"] = rec.Summary.ProcessingTimeSeconds
		}
		// Inline mode: the transcript travels on the status payload.
		if rec.Result != nil {
			payload["result"] = rec.Result
		}
	case types.StateFailed:
		payload["failed_at"] = rec.FailedAt
		payload["error"] = rec.Error
	}

	return c.JSON(payload)
}
