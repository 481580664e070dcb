// Package mock provides a test double for the voiceagent.Provider interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/docpen/scribe/pkg/provider/voiceagent"
)

// CreateCall records a single invocation of CreateAgent.
type CreateCall struct {
	APIKey string
	Spec   voiceagent.AgentSpec
}

// UpdateCall records a single invocation of UpdateAgentPrompt.
type UpdateCall struct {
	APIKey  string
	AgentID string
	Prompt  string
}

// AgentCall records DeleteAgent and SignedURL invocations.
type AgentCall struct {
	APIKey  string
	AgentID string
}

// Provider is a mock implementation of voiceagent.Provider. When AgentIDs is
// empty CreateAgent returns "agent-1", "agent-2", ... in call order.
type Provider struct {
	mu sync.Mutex

	AgentIDs  []string
	CreateErr error
	UpdateErr error
	DeleteErr error

	URL    string
	URLErr error

	CreateCalls []CreateCall
	UpdateCalls []UpdateCall
	DeleteCalls []AgentCall
	URLCalls    []AgentCall
}

// CreateAgent implements voiceagent.Provider.
func (p *Provider) CreateAgent(_ context.Context, apiKey string, spec voiceagent.AgentSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateCalls = append(p.CreateCalls, CreateCall{APIKey: apiKey, Spec: spec})
	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	n := len(p.CreateCalls)
	if n <= len(p.AgentIDs) {
		return p.AgentIDs[n-1], nil
	}
	return fmt.Sprintf("agent-%d", n), nil
}

// UpdateAgentPrompt implements voiceagent.Provider.
func (p *Provider) UpdateAgentPrompt(_ context.Context, apiKey, agentID, prompt string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UpdateCalls = append(p.UpdateCalls, UpdateCall{APIKey: apiKey, AgentID: agentID, Prompt: prompt})
	return p.UpdateErr
}

// DeleteAgent implements voiceagent.Provider.
func (p *Provider) DeleteAgent(_ context.Context, apiKey, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DeleteCalls = append(p.DeleteCalls, AgentCall{APIKey: apiKey, AgentID: agentID})
	return p.DeleteErr
}

// SignedURL implements voiceagent.Provider.
func (p *Provider) SignedURL(_ context.Context, apiKey, agentID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URLCalls = append(p.URLCalls, AgentCall{APIKey: apiKey, AgentID: agentID})
	if p.URLErr != nil {
		return "", p.URLErr
	}
	if p.URL != "" {
		return p.URL, nil
	}
	return "wss://example.invalid/convai?agent_id=" + agentID, nil
}

// Counts returns the number of create, update, delete and signed-url calls.
func (p *Provider) Counts() (create, update, del, url int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CreateCalls), len(p.UpdateCalls), len(p.DeleteCalls), len(p.URLCalls)
}

var _ voiceagent.Provider = (*Provider)(nil)
