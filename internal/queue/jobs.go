package queue

import (
	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// Job is one unit of transcription work flowing through the worker pool.
// The registry record keyed by ID is the authoritative status; Job only
// carries the inputs the execution unit needs.
type Job struct {
	ID         string
	SourceType string // types.SourceURL or types.SourceUpload
	AudioURL   string // signed GET URL (url source)
	ResultURL  string // signed PUT URL, empty for inline mode
	LocalPath  string // pre-saved audio path (upload source)
	Options    types.Options
}
