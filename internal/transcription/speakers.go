package transcription

import (
	"sort"

	"github.com/davidbmar/whisperX-runpod/internal/types"
)

// ExtractSpeakers collects the unique speaker IDs assigned by diarization,
// checking both segment-level and word-level labels.
func ExtractSpeakers(segments []types.Segment) []string {
	seen := make(map[string]struct{})
	for _, seg := range segments {
		if seg.Speaker != "" {
			seen[seg.Speaker] = struct{}{}
		}
		for _, w := range seg.Words {
			if w.Speaker != "" {
				seen[w.Speaker] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	speakers := make([]string, 0, len(seen))
	for s := range seen {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)
	return speakers
}
