package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDownloadWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte("fake audio bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "input.wav")
	c := NewClient(5*time.Second, 5*time.Second)

	n, err := c.Download(context.Background(), srv.URL+"/audio.wav", dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != int64(len("fake audio bytes")) {
		t.Fatalf("written = %d, want %d", n, len("fake audio bytes"))
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "fake audio bytes" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

// TestDownloadForbidden simulates an expired signature. The 403 must be
// visible in the error and no partial file may remain.
func TestDownloadForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "signature expired", http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "input.wav")
	c := NewClient(5*time.Second, 5*time.Second)

	_, err := c.Download(context.Background(), srv.URL, dest)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}

	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *TransferError", err)
	}
	if terr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", terr.StatusCode)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error does not mention 403: %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("partial file left behind after failed download")
	}
}

func TestDownloadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "input.wav")
	c := NewClient(50*time.Millisecond, 5*time.Second)

	_, err := c.Download(context.Background(), srv.URL, dest)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded in chain", err)
	}
}

func TestUploadPutsBody(t *testing.T) {
	var gotMethod, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, 5*time.Second)
	payload := `{"segments":[]}`
	err := c.Upload(context.Background(), srv.URL, "application/json", strings.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %s", gotType)
	}
	if string(gotBody) != payload {
		t.Fatalf("body = %q, want %q", gotBody, payload)
	}
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, 5*time.Second)
	err := c.Upload(context.Background(), srv.URL, "application/json", strings.NewReader("{}"), 2)

	var terr *TransferError
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusForbidden {
		t.Fatalf("error = %v, want TransferError with 403", err)
	}
	if terr.Op != "upload" {
		t.Fatalf("op = %s, want upload", terr.Op)
	}
}

func TestExtFromURL(t *testing.T) {
	cases := map[string]string{
		"https://bucket.s3.amazonaws.com/sessions/abc/input.mp3?X-Amz-Signature=xyz": ".mp3",
		"https://bucket.s3.amazonaws.com/audio.FLAC?X-Amz-Expires=900":               ".flac",
		"https://store.example.com/obj/meeting.m4a":                                  ".m4a",
		"https://store.example.com/obj/raw-blob":                                     ".wav",
		"://bad":                                                                     ".wav",
	}
	for input, want := range cases {
		if got := ExtFromURL(input); got != want {
			t.Errorf("ExtFromURL(%q) = %s, want %s", input, got, want)
		}
	}
}
