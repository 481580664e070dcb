// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider takes a complete consultation recording and returns either a
// segmented transcript (per-segment text with start/end times and an average
// log-probability) or a flat text blob with an overall duration. Both shapes
// are valid; the diarizer handles each of them.
//
// Implementations must be safe for concurrent use and must not retry failed
// requests.
package stt

import (
	"context"
	"io"
	"strings"
)

// PCMContentType marks Request.Audio as raw 16-bit signed little-endian PCM.
// Providers that need a container wrap it with [EncodeWAV].
const PCMContentType = "audio/pcm"

// Request describes one transcription job.
type Request struct {
	// Audio is the recording. It is read to completion by Transcribe.
	Audio io.Reader

	// Filename is forwarded to providers that infer the format from it.
	// Defaults to "audio.wav".
	Filename string

	// ContentType is the MIME type of Audio. [PCMContentType] requires
	// SampleRate and Channels.
	ContentType string

	// SampleRate and Channels describe raw PCM input.
	SampleRate int
	Channels   int

	// Language is an ISO-639-1 hint such as "en". Empty lets the provider detect it.
	Language string
}

// IsPCM reports whether the request carries raw PCM.
func (r Request) IsPCM() bool {
	return strings.EqualFold(r.ContentType, PCMContentType)
}

// Segment is one time-stamped span of a verbose transcript.
type Segment struct {
	Text  string
	Start float64
	End   float64

	// AvgLogprob is reported by Whisper-family models.
	AvgLogprob float64

	// Confidence (0–1) is reported by providers that score segments directly.
	// Zero means unknown.
	Confidence float64
}

// Result is the provider output. Segments is empty for providers (or
// responses) that only return flat text.
type Result struct {
	Text     string
	Duration float64
	Language string
	Segments []Segment
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends the recording to the backend and waits for the result.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
