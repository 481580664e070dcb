// Package elevenlabs provides a voice agent provider backed by the ElevenLabs
// Conversational AI REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docpen/scribe/pkg/provider/voiceagent"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept on APIError.
	maxErrorBody = 4 << 10
)

var _ voiceagent.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Used by tests and regional endpoints.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements voiceagent.Provider backed by ElevenLabs.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. Credentials are supplied per call.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ---- request bodies ----

type createAgentRequest struct {
	Name               string             `json:"name"`
	ConversationConfig conversationConfig `json:"conversation_config"`
}

type conversationConfig struct {
	Agent        *agentConfig        `json:"agent,omitempty"`
	TTS          *ttsConfig          `json:"tts,omitempty"`
	Conversation *conversationLimits `json:"conversation,omitempty"`
}

type agentConfig struct {
	FirstMessage string       `json:"first_message,omitempty"`
	Language     string       `json:"language,omitempty"`
	Prompt       promptConfig `json:"prompt"`
}

type promptConfig struct {
	Prompt      string       `json:"prompt"`
	LLM         string       `json:"llm,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []clientTool `json:"tools,omitempty"`
}

type clientTool struct {
	Type                string         `json:"type"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	ExpectsResponse     bool           `json:"expects_response"`
	ResponseTimeoutSecs int            `json:"response_timeout_secs,omitempty"`
}

type ttsConfig struct {
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

type conversationLimits struct {
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`
}

func buildCreateRequest(spec voiceagent.AgentSpec) createAgentRequest {
	prompt := promptConfig{Prompt: spec.SystemPrompt, LLM: spec.LLM}
	if spec.Temperature > 0 {
		t := spec.Temperature
		prompt.Temperature = &t
	}
	for _, tool := range spec.Tools {
		prompt.Tools = append(prompt.Tools, clientTool{
			Type:                "client",
			Name:                tool.Name,
			Description:         tool.Description,
			Parameters:          tool.Parameters,
			ExpectsResponse:     tool.ExpectsResponse,
			ResponseTimeoutSecs: int(tool.ResponseTimeout / time.Second),
		})
	}

	req := createAgentRequest{
		Name: spec.Name,
		ConversationConfig: conversationConfig{
			Agent: &agentConfig{
				FirstMessage: spec.FirstMessage,
				Language:     spec.Language,
				Prompt:       prompt,
			},
			TTS: &ttsConfig{
				VoiceID:         spec.VoiceID,
				ModelID:         spec.TTSModel,
				Stability:       spec.Voice.Stability,
				SimilarityBoost: spec.Voice.SimilarityBoost,
				Speed:           spec.Voice.Speed,
			},
		},
	}
	if spec.MaxDuration > 0 {
		req.ConversationConfig.Conversation = &conversationLimits{
			MaxDurationSeconds: int(spec.MaxDuration / time.Second),
		}
	}
	return req
}

// CreateAgent implements voiceagent.Provider.
func (p *Provider) CreateAgent(ctx context.Context, apiKey string, spec voiceagent.AgentSpec) (string, error) {
	if spec.VoiceID == "" {
		return "", errors.New("elevenlabs: voice id must not be empty")
	}
	var out struct {
		AgentID string `json:"agent_id"`
	}
	if err := p.do(ctx, "create agent", http.MethodPost, "/v1/convai/agents/create", apiKey, buildCreateRequest(spec), &out); err != nil {
		return "", err
	}
	if out.AgentID == "" {
		return "", errors.New("elevenlabs: create agent: response has no agent_id")
	}
	return out.AgentID, nil
}

// UpdateAgentPrompt implements voiceagent.Provider. Only the prompt field is
// sent, so the provider keeps every other setting.
func (p *Provider) UpdateAgentPrompt(ctx context.Context, apiKey, agentID, prompt string) error {
	body := map[string]any{
		"conversation_config": map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": prompt},
			},
		},
	}
	return p.do(ctx, "update agent", http.MethodPatch, "/v1/convai/agents/"+url.PathEscape(agentID), apiKey, body, nil)
}

// DeleteAgent implements voiceagent.Provider.
func (p *Provider) DeleteAgent(ctx context.Context, apiKey, agentID string) error {
	return p.do(ctx, "delete agent", http.MethodDelete, "/v1/convai/agents/"+url.PathEscape(agentID), apiKey, nil, nil)
}

// SignedURL implements voiceagent.Provider.
func (p *Provider) SignedURL(ctx context.Context, apiKey, agentID string) (string, error) {
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	path := "/v1/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(agentID)
	if err := p.do(ctx, "signed url", http.MethodGet, path, apiKey, nil, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", errors.New("elevenlabs: signed url: response has no signed_url")
	}
	return out.SignedURL, nil
}

// do sends one JSON request. Non-2xx answers become *voiceagent.APIError.
func (p *Provider) do(ctx context.Context, op, method, path, apiKey string, in, out any) error {
	if apiKey == "" {
		return fmt.Errorf("elevenlabs: %s: api key must not be empty", op)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("elevenlabs: %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("elevenlabs: %s: create request: %w", op, err)
	}
	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &voiceagent.APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("elevenlabs: %s: decode response: %w", op, err)
	}
	return nil
}
