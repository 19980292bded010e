package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "abc", "status": "queued"})
	}))
	defer srv.Close()

	c := New(srv.URL, Config{Retries: 3, BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond})
	jobID, err := c.Submit(context.Background(), SubmitRequest{AudioURL: "https://s/in.wav"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "abc" {
		t.Fatalf("job id = %q", jobID)
	}
	if calls.Load() != 3 {
		t.Fatalf("server saw %d calls, want 3", calls.Load())
	}
}

func TestSubmitDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "audio_url is required"})
	}))
	defer srv.Close()

	c := New(srv.URL, Config{Retries: 3, BackoffBase: time.Millisecond})
	if _, err := c.Submit(context.Background(), SubmitRequest{}); err == nil {
		t.Fatal("expected error for rejected submission")
	}
	if calls.Load() != 1 {
		t.Fatalf("server saw %d calls, want 1 (4xx must not be retried)", calls.Load())
	}
}

func TestSubmitGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, Config{Retries: 2, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	if _, err := c.Submit(context.Background(), SubmitRequest{AudioURL: "https://s/in.wav"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Job not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, Config{})
	if _, err := c.Status(context.Background(), "gone"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
}

func TestPollUntilDoneSeesCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		status := "processing"
		if n >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": "abc", "status": status, "progress": int(n) * 30,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, Config{})
	status, err := c.PollUntilDone(context.Background(), "abc", time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if status.Status != "completed" {
		t.Fatalf("status = %s", status.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("polled %d times, want at least 3", calls.Load())
	}
}

func TestPollUntilDoneRespectsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"job_id": "abc", "status": "processing", "progress": 40})
	}))
	defer srv.Close()

	c := New(srv.URL, Config{})
	status, err := c.PollUntilDone(context.Background(), "abc", time.Millisecond, 20*time.Millisecond)
	if !errors.Is(err, ErrPollBudget) {
		t.Fatalf("error = %v, want ErrPollBudget", err)
	}
	if status == nil || status.Status != "processing" {
		t.Fatalf("last snapshot = %+v", status)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		"queued": false, "downloading": false, "processing": false,
		"uploading": false, "completed": true, "failed": true,
	} {
		s := &JobStatus{Status: status}
		if s.Terminal() != terminal {
			t.Fatalf("Terminal(%s) = %v", status, s.Terminal())
		}
	}
}
