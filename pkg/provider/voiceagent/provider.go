// Package voiceagent defines the Provider interface for hosted conversational
// voice agent platforms.
//
// A voice agent is a remote object that bundles a system prompt, a voice, TTS
// tuning and a declarative tool list. The scribe provisions one per
// practitioner and profession, patches its prompt as session context changes,
// and mints short-lived signed URLs that a live client dials over WebSocket.
//
// Every method takes the API key explicitly because practitioners may bring
// their own provider account. Implementations must not retry.
package voiceagent

import (
	"context"
	"fmt"
	"time"
)

// ToolSpec declares a client-side tool the agent may call during a
// conversation. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name            string
	Description     string
	Parameters      map[string]any
	ExpectsResponse bool
	ResponseTimeout time.Duration
}

// VoiceSettings tunes the agent's text-to-speech output.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// AgentSpec is everything needed to create an agent.
type AgentSpec struct {
	Name         string
	FirstMessage string
	Language     string
	SystemPrompt string

	// LLM is the provider-side model that drives the agent.
	LLM         string
	Temperature float64

	VoiceID  string
	TTSModel string
	Voice    VoiceSettings

	// MaxDuration bounds a single conversation.
	MaxDuration time.Duration

	Tools []ToolSpec
}

// Provider is the abstraction over a conversational voice agent platform.
type Provider interface {
	// CreateAgent registers a new agent and returns its provider identifier.
	CreateAgent(ctx context.Context, apiKey string, spec AgentSpec) (string, error)

	// UpdateAgentPrompt replaces only the system prompt of an existing agent.
	UpdateAgentPrompt(ctx context.Context, apiKey, agentID, prompt string) error

	// DeleteAgent removes the agent on the provider side.
	DeleteAgent(ctx context.Context, apiKey, agentID string) error

	// SignedURL mints a short-lived WebSocket URL for one live conversation.
	SignedURL(ctx context.Context, apiKey, agentID string) (string, error)
}

// APIError is returned when the provider answers with a non-2xx status. Body
// holds the raw response for diagnosis.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voiceagent: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}
