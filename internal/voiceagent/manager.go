// Package voiceagent manages the lifecycle of the hosted conversational
// agents that listen in on consultations: one per practitioner, profession
// and custom profession label.
//
// The durable store is authoritative. Provider side effects on update and
// delete are best-effort and never fail the caller.
package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/prompts"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/internal/tools"
	provider "github.com/docpen/scribe/pkg/provider/voiceagent"
	"github.com/docpen/scribe/pkg/types"
)

const (
	defaultCallTimeout = 15 * time.Second
	defaultMaxDuration = 30 * time.Minute
	defaultLanguage    = "en"
	defaultTTSModel    = "eleven_turbo_v2"
	defaultAgentLLM    = "gpt-4o-mini"
	agentTemperature   = 0.3

	dateLayout = "Monday, January 2, 2006"
	timeLayout = "15:04"
)

// Dynamic variable names injected into every signed session.
const (
	VarCurrentDate = "current_date"
	VarCurrentTime = "current_time"
	VarTimezone    = "timezone"
)

// AgentConfig describes the agent a practitioner needs.
type AgentConfig struct {
	UserID           string
	Profession       types.Profession
	CustomProfession string

	PractitionerName string
	ClinicName       string

	// SessionContext is free text about the upcoming consultation. A non-empty
	// value refreshes the prompt of an existing agent.
	SessionContext string

	VoiceGender Gender
	VoiceTone   Tone
	Language    string
}

// Key returns the store key for c.
func (c AgentConfig) Key() store.AgentKey {
	return store.AgentKey{UserID: c.UserID, Profession: c.Profession, CustomProfession: c.CustomProfession}
}

// SignedSession is everything a live client needs to join a conversation.
type SignedSession struct {
	URL              string
	AgentID          string
	DynamicVariables map[string]string
}

// Store is the persistence the Manager needs.
type Store interface {
	store.AgentStore
	store.CredentialStore
}

// Config holds process-wide provisioning defaults.
type Config struct {
	// DefaultAPIKey is used when the user has no key of their own.
	DefaultAPIKey string

	// AgentLLM is the provider-side model driving the agent.
	AgentLLM string
	TTSModel string

	// Timezone is an IANA zone used for date variables when the caller gives none.
	Timezone string

	MaxDuration time.Duration
	CallTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets provisioning defaults.
func WithConfig(c Config) Option {
	return func(m *Manager) { m.cfg = c }
}

// WithPrompts replaces the embedded prompt library.
func WithPrompts(lib *prompts.Library) Option {
	return func(m *Manager) { m.prompts = lib }
}

// WithTools replaces the client tools registered on new agents.
func WithTools(specs []provider.ToolSpec) Option {
	return func(m *Manager) { m.tools = specs }
}

// WithMetrics records lifecycle actions and provider latency.
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager provisions, refreshes and retires voice agents.
type Manager struct {
	provider provider.Provider
	store    Store
	prompts  *prompts.Library
	tools    []provider.ToolSpec
	metrics  *observe.Metrics
	cfg      Config
	location *time.Location
	now      func() time.Time
}

// NewManager returns a Manager. An invalid Config.Timezone falls back to UTC.
func NewManager(p provider.Provider, s Store, opts ...Option) *Manager {
	m := &Manager{provider: p, store: s, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.prompts == nil {
		m.prompts = prompts.Default()
	}
	if m.tools == nil {
		r := tools.NewRegistry()
		_ = tools.RegisterClinical(r, nil, nil)
		m.tools = r.Specs()
	}
	if m.cfg.AgentLLM == "" {
		m.cfg.AgentLLM = defaultAgentLLM
	}
	if m.cfg.TTSModel == "" {
		m.cfg.TTSModel = defaultTTSModel
	}
	if m.cfg.MaxDuration <= 0 {
		m.cfg.MaxDuration = defaultMaxDuration
	}
	if m.cfg.CallTimeout <= 0 {
		m.cfg.CallTimeout = defaultCallTimeout
	}
	m.location = time.UTC
	if loc, err := time.LoadLocation(m.cfg.Timezone); err == nil && m.cfg.Timezone != "" {
		m.location = loc
	}
	return m
}

// GetOrCreateAgent returns the provider identifier of the active agent for
// cfg, creating one if none exists. Calling it again for the same key returns
// the same identifier without creating another agent.
func (m *Manager) GetOrCreateAgent(ctx context.Context, cfg AgentConfig) (string, error) {
	ctx, span := observe.StartSpan(ctx, "voiceagent.GetOrCreateAgent")
	defer span.End()

	rec, err := m.findActive(ctx, cfg.Key())
	if err != nil {
		return "", err
	}

	action := Decide(rec, strings.TrimSpace(cfg.SessionContext) != "")
	m.recordAction(ctx, action.String())
	switch action {
	case ActionReuse:
		return rec.AgentID, nil
	case ActionReuseAndUpdate:
		m.refresh(ctx, rec, cfg)
		return rec.AgentID, nil
	}
	return m.create(ctx, cfg)
}

func (m *Manager) create(ctx context.Context, cfg AgentConfig) (string, error) {
	log := observe.Logger(ctx).With("user_id", cfg.UserID, "profession", cfg.Profession)

	apiKey, err := m.resolveKey(ctx, cfg.UserID)
	if err != nil {
		return "", &ProvisioningError{Op: "create agent", UserID: cfg.UserID, Err: err}
	}
	if apiKey == "" {
		return "", &ProvisioningError{Op: "create agent", UserID: cfg.UserID, Reason: "no voice agent API key configured"}
	}

	spec, err := m.agentSpec(cfg)
	if err != nil {
		return "", err
	}

	var agentID string
	err = m.call(ctx, "create", func(ctx context.Context) error {
		var err error
		agentID, err = m.provider.CreateAgent(ctx, apiKey, spec)
		return err
	})
	if err != nil {
		return "", &ProvisioningError{Op: "create agent", UserID: cfg.UserID, Err: err}
	}

	rec := &types.VoiceAgentRecord{
		UserID:           cfg.UserID,
		Profession:       cfg.Profession,
		CustomProfession: cfg.CustomProfession,
		AgentID:          agentID,
		VoiceID:          spec.VoiceID,
		SystemPrompt:     spec.SystemPrompt,
	}
	err = m.store.CreateAgent(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent caller stored its agent first; use that one and drop ours.
		winner, ferr := m.store.FindActiveAgent(ctx, cfg.Key())
		if ferr != nil {
			return "", fmt.Errorf("voiceagent: resolve concurrent create: %w", ferr)
		}
		m.deleteRemote(ctx, apiKey, agentID)
		log.Info("voice agent create lost a race, reusing stored agent", "agent_id", winner.AgentID, "discarded", agentID)
		return winner.AgentID, nil
	}
	if err != nil {
		// The remote agent exists but is unrecorded; remove it so it cannot leak.
		m.deleteRemote(ctx, apiKey, agentID)
		return "", fmt.Errorf("voiceagent: store agent: %w", err)
	}

	log.Info("voice agent provisioned", "agent_id", agentID, "voice_id", spec.VoiceID)
	return agentID, nil
}

func (m *Manager) agentSpec(cfg AgentConfig) (provider.AgentSpec, error) {
	label := m.prompts.Label(cfg.Profession, cfg.CustomProfession)
	name, err := prompts.Render(m.prompts.VoiceAgent.Name, map[string]any{"Label": label})
	if err != nil {
		return provider.AgentSpec{}, fmt.Errorf("voiceagent: agent name: %w", err)
	}
	sys, err := BuildSystemPrompt(m.prompts, cfg)
	if err != nil {
		return provider.AgentSpec{}, err
	}
	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return provider.AgentSpec{
		Name:         strings.TrimSpace(name),
		FirstMessage: m.prompts.VoiceAgent.FirstMessage,
		Language:     lang,
		SystemPrompt: sys,
		LLM:          m.cfg.AgentLLM,
		Temperature:  agentTemperature,
		VoiceID:      SelectVoice(cfg.VoiceGender, cfg.VoiceTone),
		TTSModel:     m.cfg.TTSModel,
		Voice:        provider.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: 1.0},
		MaxDuration:  m.cfg.MaxDuration,
		Tools:        m.tools,
	}, nil
}

// UpdateAgentContext pushes a prompt built from cfg to the active agent.
// It never fails: every problem is logged and swallowed.
func (m *Manager) UpdateAgentContext(ctx context.Context, cfg AgentConfig) {
	ctx, span := observe.StartSpan(ctx, "voiceagent.UpdateAgentContext")
	defer span.End()

	rec, err := m.findActive(ctx, cfg.Key())
	if err != nil || rec == nil {
		observe.Logger(ctx).Warn("voice agent context not updated: no active agent",
			"user_id", cfg.UserID, "profession", cfg.Profession, "err", err)
		return
	}
	m.recordAction(ctx, "update")
	m.refresh(ctx, rec, cfg)
}

// refresh updates the prompt remotely and in the store. The two writes are
// independent; either may fail without affecting the other.
func (m *Manager) refresh(ctx context.Context, rec *types.VoiceAgentRecord, cfg AgentConfig) {
	log := observe.Logger(ctx).With("user_id", rec.UserID, "profession", rec.Profession, "agent_id", rec.AgentID)

	prompt, err := BuildSystemPrompt(m.prompts, cfg)
	if err != nil {
		log.Warn("voice agent prompt not built", "err", err)
		return
	}

	apiKey, err := m.resolveKey(ctx, rec.UserID)
	switch {
	case err != nil:
		log.Warn("voice agent credential lookup failed", "err", err)
	case apiKey == "":
		log.Warn("voice agent prompt not pushed: no API key")
	default:
		err = m.call(ctx, "update", func(ctx context.Context) error {
			return m.provider.UpdateAgentPrompt(ctx, apiKey, rec.AgentID, prompt)
		})
		if err != nil {
			log.Warn("voice agent prompt push failed", "err", err)
		}
	}

	if err := m.store.UpdateAgentPrompt(ctx, rec.ID, prompt); err != nil {
		log.Warn("voice agent prompt not stored", "err", err)
	}
}

// GetSignedWebSocketURL mints a connection URL for the active agent of key.
// The returned variables always carry the current date, time and timezone;
// extra values are merged in, but cannot replace the date and time. A
// "timezone" entry naming a valid IANA zone selects the zone used.
func (m *Manager) GetSignedWebSocketURL(ctx context.Context, key store.AgentKey, extra map[string]string) (*SignedSession, error) {
	ctx, span := observe.StartSpan(ctx, "voiceagent.GetSignedWebSocketURL")
	defer span.End()

	rec, err := m.findActive(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoAgent
	}
	apiKey, err := m.resolveKey(ctx, key.UserID)
	if err != nil {
		return nil, &ProvisioningError{Op: "sign url", UserID: key.UserID, Err: err}
	}
	if apiKey == "" {
		return nil, &ProvisioningError{Op: "sign url", UserID: key.UserID, Reason: "no voice agent API key configured"}
	}

	var url string
	err = m.call(ctx, "signed_url", func(ctx context.Context) error {
		var err error
		url, err = m.provider.SignedURL(ctx, apiKey, rec.AgentID)
		return err
	})
	if err != nil {
		return nil, &ProvisioningError{Op: "sign url", UserID: key.UserID, Err: err}
	}
	m.recordAction(ctx, "signed_url")

	return &SignedSession{URL: url, AgentID: rec.AgentID, DynamicVariables: m.variables(extra)}, nil
}

func (m *Manager) variables(extra map[string]string) map[string]string {
	vars := make(map[string]string, len(extra)+3)
	maps.Copy(vars, extra)

	loc := m.location
	if tz := extra[VarTimezone]; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	now := m.now().In(loc)
	vars[VarCurrentDate] = now.Format(dateLayout)
	vars[VarCurrentTime] = now.Format(timeLayout)
	vars[VarTimezone] = loc.String()
	return vars
}

// DeleteAgent retires the agent of key: a best-effort remote delete, then
// deactivation of every active record. Only the store write can fail.
func (m *Manager) DeleteAgent(ctx context.Context, key store.AgentKey) error {
	ctx, span := observe.StartSpan(ctx, "voiceagent.DeleteAgent")
	defer span.End()
	log := observe.Logger(ctx).With("user_id", key.UserID, "profession", key.Profession)

	rec, err := m.findActive(ctx, key)
	if err != nil {
		log.Warn("voice agent lookup before delete failed", "err", err)
	}
	if rec != nil {
		apiKey, err := m.resolveKey(ctx, key.UserID)
		switch {
		case err != nil:
			log.Warn("voice agent credential lookup failed", "agent_id", rec.AgentID, "err", err)
		case apiKey == "":
			log.Warn("voice agent not deleted remotely: no API key", "agent_id", rec.AgentID)
		default:
			m.deleteRemote(ctx, apiKey, rec.AgentID)
		}
	}

	n, err := m.store.DeactivateAgents(ctx, key)
	if err != nil {
		return fmt.Errorf("voiceagent: deactivate: %w", err)
	}
	m.recordAction(ctx, "delete")
	log.Info("voice agent retired", "deactivated", n)
	return nil
}

func (m *Manager) deleteRemote(ctx context.Context, apiKey, agentID string) {
	err := m.call(ctx, "delete", func(ctx context.Context) error {
		return m.provider.DeleteAgent(ctx, apiKey, agentID)
	})
	if err != nil {
		observe.Logger(ctx).Warn("voice agent remote delete failed", "agent_id", agentID, "err", err)
	}
}

// findActive returns nil, nil when key has no active agent.
func (m *Manager) findActive(ctx context.Context, key store.AgentKey) (*types.VoiceAgentRecord, error) {
	rec, err := m.store.FindActiveAgent(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voiceagent: find agent: %w", err)
	}
	return rec, nil
}

// resolveKey prefers the user's own key over the process default.
func (m *Manager) resolveKey(ctx context.Context, userID string) (string, error) {
	key, err := m.store.VoiceAgentAPIKey(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("voiceagent: credential lookup: %w", err)
	}
	if key != "" {
		return key, nil
	}
	return m.cfg.DefaultAPIKey, nil
}

// call runs one provider request under the call timeout and records it.
func (m *Manager) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if m.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			m.metrics.RecordProviderError(ctx, "voice_agent", op)
		}
		m.metrics.RecordProviderRequest(ctx, "voice_agent", op, status)
		m.metrics.VoiceAgentDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("op", op)))
	}
	return err
}

func (m *Manager) recordAction(ctx context.Context, action string) {
	if m.metrics != nil {
		m.metrics.RecordAgentAction(ctx, action)
	}
}
