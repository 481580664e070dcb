// Package assistant answers practitioner questions raised during a live
// consultation. Each query type gets its own prompt; every answer is one
// completion followed by citation extraction.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docpen/scribe/internal/history"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/prompts"
	"github.com/docpen/scribe/internal/wakeword"
	"github.com/docpen/scribe/pkg/provider/llm"
	"github.com/docpen/scribe/pkg/types"
)

const (
	temperature = 0.5
	maxTokens   = 1000

	// feedbackWindow is how much of the live transcript, in characters, the
	// feedback prompt sees.
	feedbackWindow = 2000
)

var (
	// ErrEmptyQuery is returned for a query with no text.
	ErrEmptyQuery = errors.New("assistant: query text is empty")

	// ErrEmptyResponse is returned when the model answers with nothing.
	ErrEmptyResponse = errors.New("assistant: empty response from model")
)

// SessionContext identifies who is asking and about which patient.
type SessionContext struct {
	UserID           string
	LeadID           string
	Profession       types.Profession
	CustomProfession string
}

// HistorySource renders a patient's prior records as prompt text.
// [history.Assembler] is the production implementation.
type HistorySource interface {
	Digest(ctx context.Context, leadID string) (string, error)
}

var _ HistorySource = (*history.Assembler)(nil)

// Option configures a Router.
type Option func(*Router)

// WithPrompts replaces the embedded prompt library.
func WithPrompts(lib *prompts.Library) Option {
	return func(r *Router) { r.prompts = lib }
}

// WithMetrics records one counter increment per routed query.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router dispatches assistant queries. It is stateless and safe for
// concurrent use.
type Router struct {
	llm     llm.Provider
	history HistorySource
	prompts *prompts.Library
	metrics *observe.Metrics
}

// New returns a Router. history may be nil, in which case every patient
// history query sees [history.NoRecords].
func New(p llm.Provider, h HistorySource, opts ...Option) *Router {
	r := &Router{llm: p, history: h}
	for _, o := range opts {
		o(r)
	}
	if r.prompts == nil {
		r.prompts = prompts.Default()
	}
	return r
}

// Route answers q. A query without a type is classified from its text.
func (r *Router) Route(ctx context.Context, q types.AssistantQuery, sc SessionContext) (*types.AssistantResponse, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	qt := q.Type
	if qt == "" {
		qt = wakeword.ClassifyQuery(text)
	}
	if !qt.Valid() {
		return nil, fmt.Errorf("assistant: unknown query type %q", qt)
	}

	ctx, span := observe.StartSpan(ctx, "assistant.Route")
	defer span.End()
	log := observe.Logger(ctx).With("query_type", string(qt), "user_id", sc.UserID)

	label := r.prompts.Label(sc.Profession, sc.CustomProfession)
	system, err := prompts.Render(r.prompts.Assistant.System, map[string]any{"Label": label})
	if err != nil {
		return nil, fmt.Errorf("assistant: system prompt: %w", err)
	}
	user, err := r.userPrompt(ctx, qt, text, q.CurrentTranscript, sc)
	if err != nil {
		return nil, err
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: strings.TrimSpace(system),
		Messages:     []llm.Message{{Role: "user", Content: user}},
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		log.Warn("assistant completion failed", "err", err)
		return nil, fmt.Errorf("assistant: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, ErrEmptyResponse
	}
	if r.metrics != nil {
		r.metrics.RecordAssistantQuery(ctx, string(qt))
	}

	answer := strings.TrimSpace(resp.Content)
	return &types.AssistantResponse{
		Text:    answer,
		Sources: ExtractSources(answer),
	}, nil
}

func (r *Router) userPrompt(ctx context.Context, qt types.QueryType, text, transcript string, sc SessionContext) (string, error) {
	var (
		tmpl string
		data = map[string]any{"Query": text}
	)
	switch qt {
	case types.QueryPatientHistory:
		digest := history.NoRecords
		if r.history != nil {
			d, err := r.history.Digest(ctx, sc.LeadID)
			if err != nil {
				return "", fmt.Errorf("assistant: patient history: %w", err)
			}
			digest = d
		}
		tmpl, data["History"] = r.prompts.Assistant.PatientHistory, digest
	case types.QueryFeedback:
		recent := Tail(transcript, feedbackWindow)
		if strings.TrimSpace(recent) == "" {
			recent = "(nothing has been transcribed yet)"
		}
		tmpl, data["Transcript"] = r.prompts.Assistant.Feedback, recent
	default:
		tmpl = r.prompts.Assistant.ReferenceLookup
	}

	out, err := prompts.Render(tmpl, data)
	if err != nil {
		return "", fmt.Errorf("assistant: %s prompt: %w", qt, err)
	}
	return strings.TrimSpace(out), nil
}

// Tail returns the last n characters of s.
func Tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
