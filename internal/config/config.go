// Package config provides the configuration schema, loader, and provider registry
// for the Docpen scribe service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Scribe    ScribeConfig    `yaml:"scribe"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// RequestTimeout bounds every API request. Note synthesis can take tens of
	// seconds, so keep this generous.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation behind each external service.
// Each entry names a constructor registered in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	VoiceAgent ProviderEntry `yaml:"voice_agent"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. For the voice agent this is
	// the service-wide default; practitioners may store their own.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "whisper-1").
	Model string `yaml:"model"`

	// Timeout bounds a single provider call. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// Option returns the string value of a provider-specific option, or "" when
// it is absent or not a string.
func (e ProviderEntry) Option(key string) string {
	v, _ := e.Options[key].(string)
	return v
}

// StoreConfig selects persistence. An empty DSN runs on the in-memory store,
// which is only suitable for development.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScribeConfig tunes the clinical pipeline.
type ScribeConfig struct {
	// NoteModel overrides providers.llm.model for note synthesis only.
	NoteModel string `yaml:"note_model"`

	// PatternFile replaces the built-in diarization vocabularies.
	PatternFile string `yaml:"pattern_file"`

	// PromptFile overrides entries of the built-in prompt library.
	PromptFile string `yaml:"prompt_file"`

	// PhoneticWakeWord enables the phonetic wake-word tier.
	PhoneticWakeWord bool `yaml:"phonetic_wake_word"`

	// PhoneticThreshold is the Jaro-Winkler cutoff for that tier. Zero keeps
	// the detector default.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// Timezone is the IANA zone used for the agent's current date and time
	// when a conversation does not supply one.
	Timezone string `yaml:"timezone"`

	// AgentLLM is the provider-side model that drives hosted voice agents.
	AgentLLM string `yaml:"agent_llm"`

	// MaxConversation bounds a single live conversation.
	MaxConversation time.Duration `yaml:"max_conversation"`

	// History limits for the patient history digest.
	HistoryLeadNotes   int `yaml:"history_lead_notes"`
	HistorySignedNotes int `yaml:"history_signed_notes"`
	HistoryMaxChars    int `yaml:"history_max_chars"`

	// Breaker configures the LLM circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors resilience.CircuitBreakerConfig in YAML form.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// MCPConfig controls the Model Context Protocol tool server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is where the streamable HTTP endpoint is mounted. Defaults to /mcp.
	Path string `yaml:"path"`
}
