package handlers

import (
	"errors"
	"log"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/davidbmar/whisperX-runpod/internal/queue"
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// Submitter accepts jobs for background execution.
type Submitter interface {
	Submit(req queue.SubmitRequest) (string, error)
}

// TranscribeRequest is the body of POST /transcribe. audio_url is required;
// result_url selects offloaded delivery, omitting it keeps the transcript
// inline on the status payload.
type TranscribeRequest struct {
	AudioURL    string `json:"audio_url"`
	ResultURL   string `json:"result_url"`
	Language    string `json:"language"`
	Diarize     *bool  `json:"diarize"`
	MinSpeakers int    `json:"min_speakers"`
	MaxSpeakers int    `json:"max_speakers"`
}

// TranscribeHandler handles URL-sourced transcription submissions.
type TranscribeHandler struct {
	submitter Submitter
}

// NewTranscribeHandler creates a new transcribe handler
func NewTranscribeHandler(submitter Submitter) *TranscribeHandler {
	return &TranscribeHandler{submitter: submitter}
}

// Handle processes the transcription request
func (h *TranscribeHandler) Handle(c *fiber.Ctx) error {
	var req TranscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_BAD_REQUEST",
		})
	}

	if req.AudioURL == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "audio_url is required",
			"code":  "ERR_NO_SOURCE",
		})
	}
	if u, err := url.Parse(req.AudioURL); err != nil || u.Scheme == "" || u.Host == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "audio_url is not a valid URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	// Diarization defaults to on; the request can switch it off.
	diarize := true
	if req.Diarize != nil {
		diarize = *req.Diarize
	}

	jobID, err := h.submitter.Submit(queue.SubmitRequest{
		AudioURL:   req.AudioURL,
		ResultURL:  req.ResultURL,
		SourceType: types.SourceURL,
		Options: types.Options{
			Language:    req.Language,
			Diarize:     diarize,
			MinSpeakers: req.MinSpeakers,
			MaxSpeakers: req.MaxSpeakers,
		},
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return c.Status(503).JSON(fiber.Map{
				"error": "Server is at capacity, try again later",
				"code":  "ERR_QUEUE_FULL",
			})
		}
		if errors.Is(err, queue.ErrNoSource) {
			return c.Status(400).JSON(fiber.Map{
				"error": "audio_url is required",
				"code":  "ERR_NO_SOURCE",
			})
		}
		log.Printf("Failed to submit job: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to submit job",
			"code":  "ERR_SUBMIT_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "queued",
		"message": "Transcription job accepted",
	})
}
