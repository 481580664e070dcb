package diarize

import (
	"strings"

	"github.com/docpen/scribe/pkg/types"
)

// Merge coalesces runs of consecutive segments with the same role. Content is
// joined with a single space; the run keeps the first segment's start and
// label and the last segment's end. Confidence is the mean over the run.
func Merge(segs []types.Segment) []types.Segment {
	out := make([]types.Segment, 0, len(segs))
	runLen := 0
	for _, s := range segs {
		if n := len(out); n > 0 && out[n-1].Role == s.Role {
			last := &out[n-1]
			last.Content += " " + s.Content
			last.EndTime = s.EndTime
			last.Confidence = (last.Confidence*float64(runLen) + s.Confidence) / float64(runLen+1)
			runLen++
			continue
		}
		out = append(out, s)
		runLen = 1
	}
	return out
}

// Render produces the transcript block handed to the note synthesizer: one
// "[label]: content" entry per segment, separated by blank lines. Whitespace
// inside content is collapsed so entries never contain blank lines.
func Render(segs []types.Segment) string {
	entries := make([]string, 0, len(segs))
	for _, s := range segs {
		entries = append(entries, "["+label(s)+"]: "+collapse(s.Content))
	}
	return strings.Join(entries, "\n\n")
}

// Result builds the aggregate transcription result. FullText has one
// "label: content" line per segment.
func Result(segs []types.Segment, duration float64, language string) types.TranscriptionResult {
	lines := make([]string, 0, len(segs))
	for _, s := range segs {
		lines = append(lines, label(s)+": "+collapse(s.Content))
	}
	if duration == 0 && len(segs) > 0 {
		duration = segs[len(segs)-1].EndTime
	}
	if segs == nil {
		segs = []types.Segment{}
	}
	return types.TranscriptionResult{
		Segments: segs,
		FullText: strings.Join(lines, "\n"),
		Duration: duration,
		Language: language,
	}
}

func label(s types.Segment) string {
	if s.Label != "" {
		return s.Label
	}
	switch s.Role {
	case types.RolePractitioner:
		return "Practitioner"
	case types.RolePatient:
		return "Patient"
	default:
		return "Other"
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
