// Package history assembles a bounded text digest of a patient's prior
// records for injection into assistant prompts.
//
// Free-text notes and signed consultation notes are fetched concurrently.
// Draft and unsigned notes never appear in a digest.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/pkg/types"
)

// NoRecords is the digest used when there is no patient reference or the
// patient has nothing on file.
const NoRecords = "No previous records available for this patient."

const (
	defaultLeadNotes   = 10
	defaultSignedNotes = 5
	defaultMaxChars    = 6000
)

// Records is the raw material of a digest.
type Records struct {
	LeadNotes   []types.LeadNote
	SignedNotes []types.SignedNote

	// FetchDuration records how long [Assembler.Fetch] took.
	FetchDuration time.Duration
}

// Empty reports whether there is nothing to render.
func (r *Records) Empty() bool {
	return r == nil || (len(r.LeadNotes) == 0 && len(r.SignedNotes) == 0)
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithLimits caps how many free-text and signed notes are fetched.
// Non-positive values keep the defaults of 10 and 5.
func WithLimits(leadNotes, signedNotes int) Option {
	return func(a *Assembler) {
		if leadNotes > 0 {
			a.leadNotes = leadNotes
		}
		if signedNotes > 0 {
			a.signedNotes = signedNotes
		}
	}
}

// WithMaxChars bounds the rendered digest. Defaults to 6000.
func WithMaxChars(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxChars = n
		}
	}
}

// Assembler reads history from a [store.HistoryStore].
type Assembler struct {
	store       store.HistoryStore
	leadNotes   int
	signedNotes int
	maxChars    int
}

// NewAssembler returns an Assembler over s.
func NewAssembler(s store.HistoryStore, opts ...Option) *Assembler {
	a := &Assembler{
		store:       s,
		leadNotes:   defaultLeadNotes,
		signedNotes: defaultSignedNotes,
		maxChars:    defaultMaxChars,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Fetch loads both record kinds for leadID in parallel. Either failure aborts
// the other and is returned.
func (a *Assembler) Fetch(ctx context.Context, leadID string) (*Records, error) {
	start := time.Now()
	var rec Records

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		notes, err := a.store.RecentLeadNotes(egCtx, leadID, a.leadNotes)
		if err != nil {
			return fmt.Errorf("history: lead notes for %q: %w", leadID, err)
		}
		rec.LeadNotes = notes
		return nil
	})
	eg.Go(func() error {
		notes, err := a.store.RecentSignedNotes(egCtx, leadID, a.signedNotes)
		if err != nil {
			return fmt.Errorf("history: signed notes for %q: %w", leadID, err)
		}
		rec.SignedNotes = notes
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rec.FetchDuration = time.Since(start)
	return &rec, nil
}

// Digest fetches and renders the history of leadID. An empty leadID yields
// [NoRecords] without touching the store.
func (a *Assembler) Digest(ctx context.Context, leadID string) (string, error) {
	if strings.TrimSpace(leadID) == "" {
		return NoRecords, nil
	}
	ctx, span := observe.StartSpan(ctx, "history.Digest")
	defer span.End()

	rec, err := a.Fetch(ctx, leadID)
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Debug("patient history fetched",
		"lead_id", leadID,
		"lead_notes", len(rec.LeadNotes),
		"signed_notes", len(rec.SignedNotes),
		"duration", rec.FetchDuration,
	)
	return Format(rec, a.maxChars), nil
}

// Format renders records, newest first, cut to at most maxChars characters.
// Empty records render as [NoRecords].
func Format(rec *Records, maxChars int) string {
	if rec.Empty() {
		return NoRecords
	}

	var sb strings.Builder
	if len(rec.SignedNotes) > 0 {
		sb.WriteString("Signed consultation notes:\n")
		for _, n := range rec.SignedNotes {
			fmt.Fprintf(&sb, "- %s: %s\n", n.SignedAt.Format(time.DateOnly), summarize(&n.Note))
		}
	}
	if len(rec.LeadNotes) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Practice notes:\n")
		for _, n := range rec.LeadNotes {
			fmt.Fprintf(&sb, "- %s: %s\n", n.CreatedAt.Format(time.DateOnly), oneLine(n.Content))
		}
	}
	return truncate(strings.TrimRight(sb.String(), "\n"), maxChars)
}

var summaryOrder = []struct {
	section types.Section
	title   string
}{
	{types.SectionAssessment, "Assessment"},
	{types.SectionPlan, "Plan"},
	{types.SectionSubjective, "Subjective"},
	{types.SectionObjective, "Objective"},
}

// summarize puts assessment and plan first since they survive truncation best.
func summarize(n *types.StructuredNote) string {
	parts := make([]string, 0, len(summaryOrder))
	for _, s := range summaryOrder {
		if text := oneLine(n.Get(s.section)); text != "" {
			parts = append(parts, s.title+": "+text)
		}
	}
	if len(parts) == 0 {
		return "(empty note)"
	}
	return strings.Join(parts, "; ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const ellipsis = "..."

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	if maxChars <= len(ellipsis) {
		return string([]rune(s)[:maxChars])
	}
	return string([]rune(s)[:maxChars-len(ellipsis)]) + ellipsis
}
