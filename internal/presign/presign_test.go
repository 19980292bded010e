package presign

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestPresignReadURL(t *testing.T) {
	s := testSigner(t)

	signed, err := s.Presign(context.Background(), "audio-jobs", "sessions/abc/input.mp3", VerbRead, 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}

	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if !strings.Contains(parsed.Path, "sessions/abc/input.mp3") {
		t.Fatalf("url path %q not scoped to object key", parsed.Path)
	}

	q := parsed.Query()
	if q.Get("X-Amz-Signature") == "" {
		t.Fatal("signed url missing signature")
	}
	if q.Get("X-Amz-Expires") != "900" {
		t.Fatalf("expires = %s, want 900", q.Get("X-Amz-Expires"))
	}
	if strings.Contains(signed, "test-secret-key") {
		t.Fatal("signed url leaks the secret key")
	}
}

// TestReadAndWriteURLsDiffer verifies that verbs produce distinct signatures,
// so a leaked read URL cannot be replayed as a write.
func TestReadAndWriteURLsDiffer(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	readURL, err := s.Presign(ctx, "audio-jobs", "sessions/abc/result.json", VerbRead, time.Hour)
	if err != nil {
		t.Fatalf("presign read: %v", err)
	}
	writeURL, err := s.Presign(ctx, "audio-jobs", "sessions/abc/result.json", VerbWrite, time.Hour)
	if err != nil {
		t.Fatalf("presign write: %v", err)
	}

	readSig := url.Values{}
	if p, err := url.Parse(readURL); err == nil {
		readSig = p.Query()
	}
	writeSig := url.Values{}
	if p, err := url.Parse(writeURL); err == nil {
		writeSig = p.Query()
	}
	if readSig.Get("X-Amz-Signature") == writeSig.Get("X-Amz-Signature") {
		t.Fatal("read and write URLs share a signature")
	}
}

func TestPresignRejectsBadInput(t *testing.T) {
	s := testSigner(t)
	ctx := context.Background()

	if _, err := s.Presign(ctx, "", "key", VerbRead, time.Minute); err == nil {
		t.Fatal("expected error for empty bucket")
	}
	if _, err := s.Presign(ctx, "bucket", "key", Verb("delete"), time.Minute); err == nil {
		t.Fatal("expected error for unsupported verb")
	}
	if _, err := s.Presign(ctx, "bucket", "key", VerbRead, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
}
