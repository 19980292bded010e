package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// LocalStorage persists inline-mode transcripts to the local filesystem so
// they can be fetched later through the transcripts endpoints.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// SaveTranscript writes the transcript text and full JSON to a dated
// directory and returns the text file path.
func (ls *LocalStorage) SaveTranscript(jobID string, result *types.TranscriptResult) (string, error) {
	// Dated directory structure: outputs/2025/01/23/
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	txtPath := filepath.Join(dateDir, jobID+".txt")
	jsonPath := filepath.Join(dateDir, jobID+".json")

	if err := os.WriteFile(txtPath, []byte(TranscriptText(result)), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript text: %w", err)
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(jsonPath, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript JSON: %w", err)
	}

	return txtPath, nil
}

// TranscriptText flattens segments into plain text, prefixing speaker turns
// when diarization labels are present.
func TranscriptText(result *types.TranscriptResult) string {
	var b strings.Builder
	lastSpeaker := ""
	for _, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != "" && seg.Speaker != lastSpeaker {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[" + seg.Speaker + "] ")
			lastSpeaker = seg.Speaker
		} else if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	return b.String()
}
