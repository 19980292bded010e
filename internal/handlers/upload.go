package handlers

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/davidbmar/whisperX-runpod/internal/queue"
	"github.com/davidbmar/whisperX-runpod/internal/transcription"
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// UploadHandler handles direct multipart uploads, bypassing the signed-URL
// download leg for callers that already hold the audio bytes.
type UploadHandler struct {
	submitter  Submitter
	scratchDir string
	maxSizeMB  int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(submitter Submitter, scratchDir string, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		submitter:  submitter,
		scratchDir: scratchDir,
		maxSizeMB:  maxSizeMB,
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !transcription.ValidateAudioFormat(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	diarize := true
	if v := c.FormValue("diarize"); v == "false" {
		diarize = false
	}

	scratchPath := filepath.Join(h.scratchDir,
		fmt.Sprintf("%s%s", uuid.New().String(), filepath.Ext(file.Filename)))
	if err := c.SaveFile(file, scratchPath); err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	jobID, err := h.submitter.Submit(queue.SubmitRequest{
		LocalPath:  scratchPath,
		ResultURL:  c.FormValue("result_url"),
		SourceType: types.SourceUpload,
		Options: types.Options{
			Language: c.FormValue("language"),
			Diarize:  diarize,
		},
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return c.Status(503).JSON(fiber.Map{
				"error": "Server is at capacity, try again later",
				"code":  "ERR_QUEUE_FULL",
			})
		}
		log.Printf("Failed to submit uploaded job: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to submit job",
			"code":  "ERR_SUBMIT_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "queued",
		"message": "File uploaded successfully, processing started",
	})
}
