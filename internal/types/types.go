package types

// State is the lifecycle stage of a transcription job.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateProcessing  State = "processing"
	StateUploading   State = "uploading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Source type constants
const (
	SourceURL    = "url"
	SourceUpload = "upload"
)

// Options are the transcription knobs forwarded to the engine.
type Options struct {
	Language    string `json:"language,omitempty"`
	Diarize     bool   `json:"diarize"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

// Word is a single word with timing and optional speaker label.
type Word struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Word    string  `json:"word"`
	Speaker string  `json:"speaker,omitempty"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// TranscriptResult represents the output from the transcription engine
type TranscriptResult struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Speakers []string  `json:"speakers,omitempty"`
	Duration float64   `json:"duration_seconds"`
}

// ResultSummary carries counts and durations derived from a completed
// transcript. The transcript itself is written to the object store, so
// status responses only need these.
type ResultSummary struct {
	SegmentsCount         int     `json:"segments_count"`
	SpeakersCount         int     `json:"speakers_count"`
	DurationSeconds       float64 `json:"duration_seconds"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// Summarize derives summary fields from a completed transcript.
func Summarize(result *TranscriptResult, processingSeconds float64) *ResultSummary {
	if result == nil {
		return nil
	}
	return &ResultSummary{
		SegmentsCount:         len(result.Segments),
		SpeakersCount:         len(result.Speakers),
		DurationSeconds:       result.Duration,
		ProcessingTimeSeconds: processingSeconds,
	}
}
