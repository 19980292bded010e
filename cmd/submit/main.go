package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/davidbmar/whisperX-runpod/internal/client"
	"github.com/davidbmar/whisperX-runpod/internal/presign"
)

// submit drives one job end to end: it signs read/write URLs against the
// object store, posts the job to the transcription server, and polls until
// the job finishes. The server itself never sees the store credentials.
func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "transcription server base URL")
		bucket    = flag.String("bucket", "", "object store bucket holding the audio")
		audioKey  = flag.String("audio-key", "", "object key of the input audio")
		resultKey = flag.String("result-key", "", "object key for the transcript (empty: inline mode)")
		ttl       = flag.Duration("url-ttl", 15*time.Minute, "signed URL lifetime")
		language  = flag.String("language", "", "language hint (empty: auto-detect)")
		diarize   = flag.Bool("diarize", true, "label speakers")
		interval  = flag.Duration("poll-interval", 2*time.Second, "status poll interval")
		budget    = flag.Duration("poll-budget", 30*time.Minute, "wall-clock budget for polling")
	)
	flag.Parse()

	if *bucket == "" || *audioKey == "" {
		flag.Usage()
		log.Fatal("-bucket and -audio-key are required")
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	ctx := context.Background()

	signer, err := presign.New(ctx, presign.FromEnv())
	if err != nil {
		log.Fatalf("Object store signer: %v", err)
	}

	audioURL, err := signer.Presign(ctx, *bucket, *audioKey, presign.VerbRead, *ttl)
	if err != nil {
		log.Fatalf("Sign audio URL: %v", err)
	}

	var resultURL string
	if *resultKey != "" {
		resultURL, err = signer.Presign(ctx, *bucket, *resultKey, presign.VerbWrite, *ttl)
		if err != nil {
			log.Fatalf("Sign result URL: %v", err)
		}
	}

	c := client.New(*serverURL, client.Config{})

	jobID, err := c.Submit(ctx, client.SubmitRequest{
		AudioURL:  audioURL,
		ResultURL: resultURL,
		Language:  *language,
		Diarize:   diarize,
	})
	if err != nil {
		log.Fatalf("Submit: %v", err)
	}
	log.Printf("Job %s submitted, polling every %s", jobID, *interval)

	status, err := c.PollUntilDone(ctx, jobID, *interval, *budget)
	if err != nil {
		if errors.Is(err, client.ErrPollBudget) {
			log.Fatalf("Job %s still running after %s (last status: %s, %d%%)",
				jobID, *budget, status.Status, status.Progress)
		}
		log.Fatalf("Poll: %v", err)
	}

	if status.Status == "failed" {
		log.Fatalf("Job %s failed: %s", jobID, status.Error)
	}

	fmt.Printf("Job %s completed: %d segments, %d speakers, %.2fs audio, %.2fs processing\n",
		jobID, status.SegmentsCount, status.SpeakersCount,
		status.DurationSeconds, status.ProcessingTimeSeconds)

	if *resultKey != "" {
		fmt.Printf("Transcript written to s3://%s/%s\n", *bucket, *resultKey)
		return
	}

	// Inline mode: the transcript rode back on the final status payload.
	if status.Result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status.Result); err != nil {
			log.Fatalf("Print transcript: %v", err)
		}
	}
}
