package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// WhisperXTranscriber wraps the WhisperX CLI for transcription with
// word-level alignment and optional speaker diarization.
type WhisperXTranscriber struct {
	modelName   string
	device      string
	computeType string
	batchSize   int
	hfToken     string
	diarization bool
	mu          sync.Mutex // one transcription at a time per GPU
}

// NewWhisperXTranscriber creates a transcriber that shells out to
// python -m whisperx. Diarization requires a HuggingFace token; without one
// it is skipped.
func NewWhisperXTranscriber(modelName, device, computeType string, batchSize int, hfToken string, enableDiarization bool) *WhisperXTranscriber {
	if enableDiarization && hfToken == "" {
		log.Println("WARNING: diarization enabled but HF token not provided - diarization will be skipped")
		enableDiarization = false
	}

	log.Printf("Initializing WhisperX: model=%s device=%s compute=%s diarization=%v",
		modelName, device, computeType, enableDiarization)

	return &WhisperXTranscriber{
		modelName:   modelName,
		device:      device,
		computeType: computeType,
		batchSize:   batchSize,
		hfToken:     hfToken,
		diarization: enableDiarization,
	}
}

// Model returns the configured whisper model size.
func (wt *WhisperXTranscriber) Model() string { return wt.modelName }

// Device returns the configured compute device.
func (wt *WhisperXTranscriber) Device() string { return wt.device }

// DiarizationEnabled reports whether speaker diarization is available.
func (wt *WhisperXTranscriber) DiarizationEnabled() bool { return wt.diarization }

// Transcribe processes an audio file and returns the structured transcript.
func (wt *WhisperXTranscriber) Transcribe(ctx context.Context, audioPath string, opts types.Options) (*types.TranscriptResult, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	log.Printf("Transcribing with WhisperX: %s", audioPath)

	// WhisperX expects 16kHz mono input.
	normalizedPath, err := NormalizeAudio(audioPath)
	if err != nil {
		return nil, fmt.Errorf("audio normalization failed: %w", err)
	}
	defer os.Remove(normalizedPath)

	outDir, err := os.MkdirTemp("", "whisperx_out")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		"-m", "whisperx",
		normalizedPath,
		"--model", wt.modelName,
		"--device", wt.device,
		"--compute_type", wt.computeType,
		"--batch_size", strconv.Itoa(wt.batchSize),
		"--output_dir", outDir,
		"--output_format", "json",
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Diarize && wt.diarization {
		args = append(args, "--diarize", "--hf_token", wt.hfToken)
		if opts.MinSpeakers > 0 {
			args = append(args, "--min_speakers", strconv.Itoa(opts.MinSpeakers))
		}
		if opts.MaxSpeakers > 0 {
			args = append(args, "--max_speakers", strconv.Itoa(opts.MaxSpeakers))
		}
	}

	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisperx failed: %w\nOutput: %s", err, truncate(string(output), 2000))
	}

	baseName := strings.TrimSuffix(filepath.Base(normalizedPath), filepath.Ext(normalizedPath))
	jsonPath := filepath.Join(outDir, baseName+".json")

	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read whisperx output: %w", err)
	}

	var parsed whisperxOutput
	if err := json.Unmarshal(jsonData, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse whisperx JSON: %w", err)
	}

	segments := make([]types.Segment, len(parsed.Segments))
	for i, seg := range parsed.Segments {
		words := make([]types.Word, len(seg.Words))
		for j, w := range seg.Words {
			words[j] = types.Word{Start: w.Start, End: w.End, Word: w.Word, Speaker: w.Speaker}
		}
		segments[i] = types.Segment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    strings.TrimSpace(seg.Text),
			Speaker: seg.Speaker,
			Words:   words,
		}
	}

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	result := &types.TranscriptResult{
		Segments: segments,
		Language: parsed.Language,
		Speakers: ExtractSpeakers(segments),
		Duration: duration,
	}

	log.Printf("Transcription completed: %d segments, %d speakers, %.2fs duration",
		len(segments), len(result.Speakers), duration)
	return result, nil
}

// whisperxOutput matches the WhisperX JSON output format.
type whisperxOutput struct {
	Segments []whisperxSegment `json:"segments"`
	Language string            `json:"language"`
}

type whisperxSegment struct {
	Start   float64        `json:"start"`
	End     float64        `json:"end"`
	Text    string         `json:"text"`
	Speaker string         `json:"speaker"`
	Words   []whisperxWord `json:"words"`
}

type whisperxWord struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Word    string  `json:"word"`
	Speaker string  `json:"speaker"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
