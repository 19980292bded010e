package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// ErrJobNotFound is returned when the server does not know the job id,
// typically because its record was already swept.
var ErrJobNotFound = errors.New("job not found on server")

// ErrPollBudget is returned when a job is still running after the caller's
// wall-clock budget. The job itself keeps running server-side.
var ErrPollBudget = errors.New("poll budget exhausted")

// SubmitRequest is the submission payload.
type SubmitRequest struct {
	AudioURL    string `json:"audio_url"`
	ResultURL   string `json:"result_url,omitempty"`
	Language    string `json:"language,omitempty"`
	Diarize     *bool  `json:"diarize,omitempty"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

// JobStatus is one snapshot of the polling payload.
type JobStatus struct {
	JobID                 string                  `json:"job_id"`
	Status                string                  `json:"status"`
	Progress              int                     `json:"progress"`
	Message               string                  `json:"message"`
	Error                 string                  `json:"error"`
	SegmentsCount         int                     `json:"segments_count"`
	SpeakersCount         int                     `json:"speakers_count"`
	DurationSeconds       float64                 `json:"duration_seconds"`
	ProcessingTimeSeconds float64                 `json:"processing_time_seconds"`
	Result                *types.TranscriptResult `json:"result"`
}

// Terminal reports whether the job has finished either way.
func (s *JobStatus) Terminal() bool {
	return s.Status == string(types.StateCompleted) || s.Status == string(types.StateFailed)
}

// Client drives the submit-then-poll contract against a transcription server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retries     int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// Config tunes the retry and backoff behaviour. Zero values get defaults.
type Config struct {
	Retries     int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Timeout     time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, cfg Config) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 8 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retries:     cfg.Retries,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
	}
}

// Submit posts a job and returns its id. Transport errors and 5xx responses
// are retried with doubling backoff; 4xx responses fail immediately since
// retrying the same bad request cannot help.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	backoff := c.backoffBase
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
			if backoff > c.backoffCap {
				backoff = c.backoffCap
			}
		}

		jobID, retryable, err := c.trySubmit(ctx, payload)
		if err == nil {
			return jobID, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("submit failed after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) trySubmit(ctx context.Context, payload []byte) (jobID string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("server error: HTTP %d: %s", resp.StatusCode, body)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("submission rejected: HTTP %d: %s", resp.StatusCode, body)
	}

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if decoded.JobID == "" {
		return "", false, fmt.Errorf("server returned no job id: %s", body)
	}
	return decoded.JobID, false, nil
}

// Status fetches one status snapshot.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status check failed: HTTP %d: %s", resp.StatusCode, body)
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// PollUntilDone polls at the given interval until the job reaches a terminal
// state or the wall-clock budget runs out. The returned status is the last
// snapshot seen; on ErrPollBudget it describes a still-running job.
func (c *Client) PollUntilDone(ctx context.Context, jobID string, interval, budget time.Duration) (*JobStatus, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *JobStatus
	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = status
		if status.Terminal() {
			return status, nil
		}
		if time.Now().After(deadline) {
			return last, ErrPollBudget
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}
