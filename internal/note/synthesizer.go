// Package note turns a merged consultation transcript into a structured SOAP
// note through one LLM completion, and regenerates single sections on demand.
package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/docpen/scribe/internal/diarize"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/prompts"
	"github.com/docpen/scribe/pkg/provider/llm"
	"github.com/docpen/scribe/pkg/types"
)

const (
	noteTemperature       = 0.2
	noteMaxTokens         = 3000
	regenerateTemperature = 0.2
	regenerateMaxTokens   = 1500
)

// ErrNoTranscript is returned when there is nothing to document.
var ErrNoTranscript = errors.New("note: transcript is empty")

// ErrEmptyNote means the model answered but no parser tier recovered any core
// section.
var ErrEmptyNote = errors.New("note: synthesized note is empty")

// Input is everything one synthesis needs. Segments should already be merged.
type Input struct {
	Segments         []types.Segment
	Profession       types.Profession
	CustomProfession string

	// PatientName is reduced to initials before it reaches the prompt.
	PatientName    string
	ChiefComplaint string

	// History is an optional digest of prior records.
	History string
}

// RegenerateInput asks for a replacement of one section.
type RegenerateInput struct {
	Section          types.Section
	Note             types.StructuredNote
	Segments         []types.Segment
	Feedback         string
	Profession       types.Profession
	CustomProfession string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithPrompts replaces the embedded prompt library.
func WithPrompts(lib *prompts.Library) Option {
	return func(s *Synthesizer) { s.prompts = lib }
}

// WithTiers replaces the default section parser tiers.
func WithTiers(tiers ...Tier) Option {
	return func(s *Synthesizer) { s.tiers = tiers }
}

// WithMetrics records synthesis outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// Synthesizer builds notes. It holds no per-call state and is safe for
// concurrent use.
type Synthesizer struct {
	llm     llm.Provider
	prompts *prompts.Library
	tiers   []Tier
	metrics *observe.Metrics
	now     func() time.Time
}

// New returns a Synthesizer backed by p.
func New(p llm.Provider, opts ...Option) *Synthesizer {
	s := &Synthesizer{llm: p, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.prompts == nil {
		s.prompts = prompts.Default()
	}
	if s.tiers == nil {
		s.tiers = DefaultTiers()
	}
	return s
}

// Synthesize produces a fresh note. A note whose core sections are all blank
// is returned without error; callers check [types.StructuredNote.IsEmpty].
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*types.StructuredNote, error) {
	if len(in.Segments) == 0 {
		return nil, ErrNoTranscript
	}
	ctx, span := observe.StartSpan(ctx, "note.Synthesize")
	defer span.End()

	start := s.now()
	instructions, err := s.prompts.NoteInstructions(in.Profession, in.CustomProfession)
	if err != nil {
		return nil, fmt.Errorf("note: synthesize: %w", err)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: instructions,
		Messages:     []llm.Message{{Role: "user", Content: buildUserPrompt(in)}},
		Temperature:  noteTemperature,
		MaxTokens:    noteMaxTokens,
	})
	if err != nil {
		s.record(ctx, "error")
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		s.record(ctx, "error")
		return nil, &SynthesisError{Op: "synthesize"}
	}

	n := Parse(resp.Content, s.tiers)
	n.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	n.Model = s.llm.Capabilities().Model
	n.PromptVersion = s.prompts.Version

	log := observe.Logger(ctx)
	if warnings := Warnings(&n); len(warnings) > 0 {
		sections := make([]string, len(warnings))
		for i, w := range warnings {
			sections[i] = string(w.Section)
		}
		log.Warn("note sections not recovered", "sections", sections, "profession", in.Profession)
	}
	if n.IsEmpty() {
		s.record(ctx, "empty")
	} else {
		s.record(ctx, "ok")
	}
	return &n, nil
}

// RegenerateSection asks for new content for one section and returns the
// trimmed model text as is. Substituting it and versioning is up to the caller.
func (s *Synthesizer) RegenerateSection(ctx context.Context, in RegenerateInput) (string, error) {
	title, ok := sectionTitles[in.Section]
	if !ok {
		return "", fmt.Errorf("note: regenerate: unknown section %q", in.Section)
	}
	ctx, span := observe.StartSpan(ctx, "note.RegenerateSection")
	defer span.End()

	instructions, err := prompts.Render(s.prompts.Note.Regenerate, map[string]any{
		"Label":   s.prompts.Label(in.Profession, in.CustomProfession),
		"Section": title,
	})
	if err != nil {
		return "", fmt.Errorf("note: regenerate: %w", err)
	}

	var b strings.Builder
	b.WriteString("Current note:\n\n")
	b.WriteString(Format(&in.Note))
	b.WriteString("\n\nConsultation transcript:\n\n")
	b.WriteString(diarize.Render(in.Segments))
	if fb := strings.TrimSpace(in.Feedback); fb != "" {
		b.WriteString("\n\nPractitioner feedback on the ")
		b.WriteString(title)
		b.WriteString(" section:\n")
		b.WriteString(fb)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: strings.TrimSpace(instructions),
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
		Temperature:  regenerateTemperature,
		MaxTokens:    regenerateMaxTokens,
	})
	if err != nil {
		return "", &SynthesisError{Op: "regenerate", Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &SynthesisError{Op: "regenerate"}
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Synthesizer) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordNote(ctx, outcome)
	}
}

var sectionTitles = map[types.Section]string{
	types.SectionSubjective:      "Subjective",
	types.SectionObjective:       "Objective",
	types.SectionAssessment:      "Assessment",
	types.SectionPlan:            "Plan",
	types.SectionAdditionalNotes: "Additional Notes",
}

// Format renders a note with the same bold headers the parser reads.
func Format(n *types.StructuredNote) string {
	sections := append(append([]types.Section{}, types.CoreSections...), types.SectionAdditionalNotes)
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		text := strings.TrimSpace(n.Get(sec))
		if text == "" && sec == types.SectionAdditionalNotes {
			continue
		}
		parts = append(parts, "**"+strings.ToUpper(sectionTitles[sec])+":** "+text)
	}
	return strings.Join(parts, "\n")
}

func buildUserPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Patient context:\n")
	if initials := Initials(in.PatientName); initials != "" {
		b.WriteString("- Patient: " + initials + "\n")
	} else {
		b.WriteString("- Patient: not identified\n")
	}
	if cc := strings.TrimSpace(in.ChiefComplaint); cc != "" {
		b.WriteString("- Chief complaint: " + cc + "\n")
	}
	if h := strings.TrimSpace(in.History); h != "" {
		b.WriteString("- Prior history:\n" + h + "\n")
	}
	b.WriteString("\nConsultation transcript:\n\n")
	b.WriteString(diarize.Render(in.Segments))
	return b.String()
}

// Initials reduces a full name to first and last initials, e.g.
// "Maria de la Cruz" becomes "M.C.". A single name yields one initial.
func Initials(name string) string {
	var words []string
	for _, f := range strings.Fields(name) {
		if r, ok := firstLetter(f); ok {
			words = append(words, string(unicode.ToUpper(r)))
		}
	}
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0] + "."
	default:
		return words[0] + "." + words[len(words)-1] + "."
	}
}

func firstLetter(s string) (rune, bool) {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return r, true
		}
	}
	return 0, false
}
