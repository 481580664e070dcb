package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/pkg/types"
)

// Tool names, as registered with voice agents and the MCP server.
const (
	GetPatientHistory      = "get_patient_history"
	CheckDrugInteraction   = "check_drug_interaction"
	LookupMedicalReference = "lookup_medical_reference"
	SuggestNoteSection     = "suggest_note_section"
)

// Assistant answers routed queries. [assistant.Router] implements it.
type Assistant interface {
	Route(ctx context.Context, q types.AssistantQuery, sc assistant.SessionContext) (*types.AssistantResponse, error)
}

// SectionSuggester drafts replacement text for one section of a session's
// current note without saving it.
type SectionSuggester interface {
	SuggestSection(ctx context.Context, sessionID string, section types.Section, feedback string) (string, error)
}

// ErrNoSession is returned by tools that need a clinical session when the
// call carries none.
var ErrNoSession = errors.New("tools: no clinical session attached to this call")

// Clinical returns the four clinical tools.
func Clinical(a Assistant, s SectionSuggester) []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name:        GetPatientHistory,
				Description: "Look up the current patient's previous visits and notes on file to answer a question about their history.",
				Parameters: object(map[string]any{
					"question": stringProp("What the practitioner wants to know from the patient's history."),
				}, "question"),
			},
			Handler: routeHandler(a, types.QueryPatientHistory, func(args json.RawMessage) (string, error) {
				var in struct {
					Question string `json:"question"`
				}
				err := decode(args, &in)
				return in.Question, err
			}),
		},
		{
			Definition: Definition{
				Name:        CheckDrugInteraction,
				Description: "Check two or more medications for known interactions and contraindications.",
				Parameters: object(map[string]any{
					"medications": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"minItems":    1,
						"description": "Medication names, including any the patient already takes.",
					},
					"question": stringProp("Optional specific concern, for example dosing in renal impairment."),
				}, "medications"),
			},
			Handler: routeHandler(a, types.QueryDrugInteraction, func(args json.RawMessage) (string, error) {
				var in struct {
					Medications []string `json:"medications"`
					Question    string   `json:"question"`
				}
				if err := decode(args, &in); err != nil {
					return "", err
				}
				var meds []string
				for _, m := range in.Medications {
					if m = strings.TrimSpace(m); m != "" {
						meds = append(meds, m)
					}
				}
				if len(meds) == 0 {
					return "", errors.New("medications must name at least one drug")
				}
				q := "Check for interactions between: " + strings.Join(meds, ", ") + "."
				if extra := strings.TrimSpace(in.Question); extra != "" {
					q += " " + extra
				}
				return q, nil
			}),
		},
		{
			Definition: Definition{
				Name:        LookupMedicalReference,
				Description: "Answer a clinical reference question such as a dose, a diagnostic criterion or a guideline recommendation.",
				Parameters: object(map[string]any{
					"query": stringProp("The clinical question."),
				}, "query"),
			},
			Handler: routeHandler(a, types.QueryMedicalLookup, func(args json.RawMessage) (string, error) {
				var in struct {
					Query string `json:"query"`
				}
				err := decode(args, &in)
				return in.Query, err
			}),
		},
		{
			Definition: Definition{
				Name:        SuggestNoteSection,
				Description: "Draft new text for one section of the current consultation note.",
				Parameters: object(map[string]any{
					"section": map[string]any{
						"type":        "string",
						"enum":        []string{"subjective", "objective", "assessment", "plan", "additionalNotes"},
						"description": "The note section to draft.",
					},
					"feedback": stringProp("Optional guidance on what to change."),
				}, "section"),
			},
			Handler: suggestHandler(s),
			Timeout: 45 * time.Second,
		},
	}
}

// RegisterClinical registers [Clinical] tools on r.
func RegisterClinical(r *Registry, a Assistant, s SectionSuggester) error {
	for _, t := range Clinical(a, s) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func routeHandler(a Assistant, qt types.QueryType, text func(json.RawMessage) (string, error)) Handler {
	return func(ctx context.Context, env Env, args json.RawMessage) (string, error) {
		q, err := text(args)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(q) == "" {
			return "", errors.New("a question is required")
		}
		resp, err := a.Route(ctx, types.AssistantQuery{
			Type:              qt,
			Text:              q,
			SessionID:         env.SessionID,
			CurrentTranscript: env.Transcript,
		}, env.Session)
		if err != nil {
			return "", err
		}
		return withSources(resp), nil
	}
}

func suggestHandler(s SectionSuggester) Handler {
	return func(ctx context.Context, env Env, args json.RawMessage) (string, error) {
		var in struct {
			Section  string `json:"section"`
			Feedback string `json:"feedback"`
		}
		if err := decode(args, &in); err != nil {
			return "", err
		}
		section, ok := types.ParseSection(in.Section)
		if !ok {
			return "", fmt.Errorf("unknown note section %q", in.Section)
		}
		if s == nil || env.SessionID == "" {
			return "", ErrNoSession
		}
		return s.SuggestSection(ctx, env.SessionID, section, in.Feedback)
	}
}

func withSources(resp *types.AssistantResponse) string {
	if len(resp.Sources) == 0 {
		return resp.Text
	}
	titles := make([]string, len(resp.Sources))
	for i, s := range resp.Sources {
		titles[i] = s.Title
	}
	return resp.Text + "\n\nSources: " + strings.Join(titles, "; ")
}

func decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
