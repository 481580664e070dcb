package assistant_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/history"
	"github.com/docpen/scribe/pkg/provider/llm"
	"github.com/docpen/scribe/pkg/provider/llm/mock"
	"github.com/docpen/scribe/pkg/types"
)

type stubHistory struct {
	digest string
	err    error
	leads  []string
}

func (s *stubHistory) Digest(_ context.Context, leadID string) (string, error) {
	s.leads = append(s.leads, leadID)
	return s.digest, s.err
}

func answering(text string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: text}}
}

var sc = assistant.SessionContext{UserID: "u1", LeadID: "lead-1", Profession: types.ProfessionDentist}

func TestRoute_RequestShape(t *testing.T) {
	t.Parallel()

	p := answering("  Amoxicillin is first-line.  ")
	r := assistant.New(p, &stubHistory{})
	resp, err := r.Route(context.Background(), types.AssistantQuery{
		Type: types.QueryMedicalLookup,
		Text: "what is the usual antibiotic for a dental abscess?",
	}, sc)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Text != "Amoxicillin is first-line." {
		t.Errorf("Text = %q", resp.Text)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("completions = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.5 || req.MaxTokens != 1000 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.SystemPrompt, "Dentistry") {
		t.Errorf("system prompt does not name the profession: %q", req.SystemPrompt)
	}
	if !strings.Contains(req.Messages[0].Content, "dental abscess") {
		t.Errorf("query missing from prompt: %q", req.Messages[0].Content)
	}
}

func TestRoute_PatientHistory(t *testing.T) {
	t.Parallel()

	h := &stubHistory{digest: "Signed consultation notes:\n- 2026-09-01: Plan: review in 2 weeks"}
	p := answering("At the last visit a review in two weeks was planned.")
	resp, err := assistant.New(p, h).Route(context.Background(), types.AssistantQuery{
		Type: types.QueryPatientHistory,
		Text: "what did we plan last time?",
	}, sc)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(h.leads) != 1 || h.leads[0] != "lead-1" {
		t.Errorf("digest requested for %v", h.leads)
	}
	if got := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(got, "review in 2 weeks") {
		t.Errorf("digest not injected: %q", got)
	}
	if !hasSource(resp.Sources, types.SourceCRM) {
		t.Errorf("sources = %v, want crm", resp.Sources)
	}
}

func TestRoute_PatientHistoryWithoutStore(t *testing.T) {
	t.Parallel()

	p := answering("Nothing on record.")
	_, err := assistant.New(p, nil).Route(context.Background(), types.AssistantQuery{
		Type: types.QueryPatientHistory, Text: "any allergies?",
	}, assistant.SessionContext{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(got, history.NoRecords) {
		t.Errorf("marker not injected: %q", got)
	}
}

func TestRoute_HistoryErrorIsReturned(t *testing.T) {
	t.Parallel()

	p := answering("unused")
	_, err := assistant.New(p, &stubHistory{err: errors.New("db down")}).Route(context.Background(),
		types.AssistantQuery{Type: types.QueryPatientHistory, Text: "history?"}, sc)
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("err = %v", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("model called despite history failure")
	}
}

func TestRoute_FeedbackUsesTranscriptTail(t *testing.T) {
	t.Parallel()

	transcript := strings.Repeat("a", 3000) + "MARKER-AT-END"
	p := answering("You did not ask about allergies.")
	_, err := assistant.New(p, nil).Route(context.Background(), types.AssistantQuery{
		Type:              types.QueryFeedback,
		Text:              "did I miss anything?",
		CurrentTranscript: "EARLY-MARKER" + transcript,
	}, sc)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	got := p.Calls()[0].Req.Messages[0].Content
	if !strings.Contains(got, "MARKER-AT-END") || strings.Contains(got, "EARLY-MARKER") {
		t.Errorf("feedback prompt did not use the transcript tail")
	}
}

func TestRoute_ClassifiesUntypedQuery(t *testing.T) {
	t.Parallel()

	p := answering("Warfarin and aspirin interact; bleeding risk increases.")
	resp, err := assistant.New(p, nil).Route(context.Background(), types.AssistantQuery{
		Text: "does warfarin interact with aspirin?",
	}, sc)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !hasSource(resp.Sources, types.SourceRegulatory) {
		t.Errorf("sources = %v, want regulatory", resp.Sources)
	}
	if got := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(got, "Cite standard references") {
		t.Errorf("drug query not routed to reference lookup: %q", got)
	}
}

func TestRoute_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       *mock.Provider
		q       types.AssistantQuery
		wantErr error
	}{
		{"empty text", answering("x"), types.AssistantQuery{Type: types.QueryFeedback, Text: "  "}, assistant.ErrEmptyQuery},
		{"empty answer", answering("   "), types.AssistantQuery{Text: "dose?"}, assistant.ErrEmptyResponse},
		{"nil answer", &mock.Provider{}, types.AssistantQuery{Text: "dose?"}, assistant.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := assistant.New(tt.p, nil).Route(context.Background(), tt.q, sc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		_, err := assistant.New(&mock.Provider{CompleteErr: boom}, nil).Route(context.Background(), types.AssistantQuery{Text: "dose?"}, sc)
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		_, err := assistant.New(answering("x"), nil).Route(context.Background(), types.AssistantQuery{Type: "billing", Text: "x"}, sc)
		if err == nil {
			t.Error("expected error for unknown query type")
		}
	})
}

func TestTail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "llo"},
		{"héllo", 4, "éllo"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := assistant.Tail(tt.in, tt.n); got != tt.want {
			t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func hasSource(ss []types.Source, want types.SourceType) bool {
	for _, s := range ss {
		if s.Type == want {
			return true
		}
	}
	return false
}
