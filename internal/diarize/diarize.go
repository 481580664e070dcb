// Package diarize attributes transcribed utterances to the practitioner or the
// patient using lexical cues, and coalesces the result into a clean dialogue.
//
// There is no acoustic signal here: the classifier only sees text. Each
// utterance is scored against practitioner and patient pattern sets and the
// decision rule falls back to turn-taking when the scores are close. Because
// every decision may depend on the previous one, utterances of one session
// must be classified in transcript order.
package diarize

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/pkg/provider/stt"
	"github.com/docpen/scribe/pkg/types"
)

// Classifier assigns a speaker role to single utterances. It holds no
// per-session state and is safe for concurrent use.
type Classifier struct {
	patterns *PatternSet
	labels   Labels
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPatterns replaces the pattern set.
func WithPatterns(ps *PatternSet) Option {
	return func(c *Classifier) {
		c.patterns = ps
	}
}

// WithLabels replaces the display labels.
func WithLabels(l Labels) Option {
	return func(c *Classifier) {
		c.labels = l
	}
}

// New returns a Classifier using the embedded default table unless options
// say otherwise.
func New(opts ...Option) *Classifier {
	c := &Classifier{}
	for _, o := range opts {
		o(c)
	}
	if c.patterns == nil || c.labels.Practitioner == "" || c.labels.Patient == "" {
		t := DefaultTable()
		if c.patterns == nil {
			c.patterns = t.For("")
		}
		if c.labels.Practitioner == "" {
			c.labels.Practitioner = t.Labels.Practitioner
		}
		if c.labels.Patient == "" {
			c.labels.Patient = t.Labels.Patient
		}
	}
	return c
}

// Score returns the number of practitioner and patient patterns that match.
func (c *Classifier) Score(utterance string) (practitioner, patient int) {
	return score(c.patterns.Practitioner, utterance), score(c.patterns.Patient, utterance)
}

// Classify returns PRACTITIONER or PATIENT for utterance. previous is the role
// of the preceding utterance in the same session, or nil for the first one.
//
// Decision order:
//  1. practitioner score exceeds patient score by more than one: PRACTITIONER
//  2. patient score exceeds practitioner score by more than one: PATIENT
//  3. a previous role exists: the opposite of it
//  4. the utterance opens with an interrogative lead: PRACTITIONER
//  5. otherwise PRACTITIONER
//
// An exact tie and a difference of one both take the turn-taking branch.
func (c *Classifier) Classify(utterance string, previous *types.SpeakerRole) types.SpeakerRole {
	prac, pat := c.Score(utterance)
	switch {
	case prac-pat > 1:
		return types.RolePractitioner
	case pat-prac > 1:
		return types.RolePatient
	case previous != nil && (*previous == types.RolePractitioner || *previous == types.RolePatient):
		return previous.Opposite()
	case c.patterns.InterrogativeLead != nil && c.patterns.InterrogativeLead.MatchString(utterance):
		return types.RolePractitioner
	default:
		return types.RolePractitioner
	}
}

// Label returns the display label for role.
func (c *Classifier) Label(role types.SpeakerRole) string {
	switch role {
	case types.RolePractitioner:
		return c.labels.Practitioner
	case types.RolePatient:
		return c.labels.Patient
	default:
		return "Other"
	}
}

// Sequence classifies the utterances of one session in order, carrying the
// previous role across calls. Offset shifts the timestamps of everything it
// produces, so a recording transcribed in chunks keeps monotonic times.
type Sequence struct {
	c        *Classifier
	previous *types.SpeakerRole
	Offset   float64
}

// NewSequence starts a sequence. previous may be nil.
func (c *Classifier) NewSequence(previous *types.SpeakerRole, offset float64) *Sequence {
	s := &Sequence{c: c, Offset: offset}
	if previous != nil {
		p := *previous
		s.previous = &p
	}
	return s
}

// Previous returns the role of the last classified utterance, or nil.
func (s *Sequence) Previous() *types.SpeakerRole {
	return s.previous
}

// Next classifies one utterance. Blank text yields ok == false and does not
// advance the sequence.
func (s *Sequence) Next(text string, start, end, confidence float64) (seg types.Segment, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Segment{}, false
	}
	role := s.c.Classify(text, s.previous)
	s.previous = &role
	return types.Segment{
		Role:       role,
		Label:      s.c.Label(role),
		Content:    text,
		StartTime:  s.Offset + start,
		EndTime:    s.Offset + end,
		Confidence: confidence,
	}, true
}

// FromSegments classifies time-stamped provider segments.
func (s *Sequence) FromSegments(segs []stt.Segment) []types.Segment {
	out := make([]types.Segment, 0, len(segs))
	for _, in := range segs {
		if seg, ok := s.Next(in.Text, in.Start, in.End, confidence(in)); ok {
			out = append(out, seg)
		}
	}
	return out
}

// FromText splits a flat transcript into sentences, spaces them evenly over
// duration and classifies them. Empty sentences are dropped before the
// spacing is computed.
func (s *Sequence) FromText(text string, duration float64) []types.Segment {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return []types.Segment{}
	}
	step := 0.0
	if duration > 0 {
		step = duration / float64(len(sentences))
	}
	out := make([]types.Segment, 0, len(sentences))
	for i, sentence := range sentences {
		if seg, ok := s.Next(sentence, float64(i)*step, float64(i+1)*step, 0); ok {
			out = append(out, seg)
		}
	}
	return out
}

// FromResult picks the segment path when the provider returned segments and
// the text path otherwise. Malformed or empty output yields an empty slice.
func (s *Sequence) FromResult(ctx context.Context, res *stt.Result) []types.Segment {
	if err := ValidateResult(res); err != nil {
		observe.Logger(ctx).Warn("diarize: unusable transcription, returning no segments", slog.Any("err", err))
		return []types.Segment{}
	}
	if hasText(res.Segments) {
		return s.FromSegments(res.Segments)
	}
	return s.FromText(res.Text, res.Duration)
}

// FromSegments classifies provider segments as a new session.
func (c *Classifier) FromSegments(segs []stt.Segment) []types.Segment {
	return c.NewSequence(nil, 0).FromSegments(segs)
}

// FromText classifies a flat transcript as a new session.
func (c *Classifier) FromText(text string, duration float64) []types.Segment {
	return c.NewSequence(nil, 0).FromText(text, duration)
}

// FromResult classifies provider output as a new session.
func (c *Classifier) FromResult(ctx context.Context, res *stt.Result) []types.Segment {
	return c.NewSequence(nil, 0).FromResult(ctx, res)
}

// InputError describes provider output that cannot be diarized. It is
// recovered inside this package and only surfaces through [ValidateResult].
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "diarize: transcription input: " + e.Reason
}

// ValidateResult reports whether res carries anything to classify.
func ValidateResult(res *stt.Result) error {
	switch {
	case res == nil:
		return &InputError{Reason: "no result"}
	case !hasText(res.Segments) && strings.TrimSpace(res.Text) == "":
		return &InputError{Reason: "no text"}
	case math.IsNaN(res.Duration) || res.Duration < 0:
		return &InputError{Reason: "invalid duration"}
	}
	return nil
}

func hasText(segs []stt.Segment) bool {
	for _, s := range segs {
		if strings.TrimSpace(s.Text) != "" {
			return true
		}
	}
	return false
}

// confidence prefers a provider score and otherwise converts the average
// log-probability to a probability.
func confidence(s stt.Segment) float64 {
	if s.Confidence > 0 {
		return min(s.Confidence, 1)
	}
	if s.AvgLogprob == 0 {
		return 0
	}
	return max(0, min(1, math.Exp(s.AvgLogprob)))
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace. Blank pieces are discarded.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
