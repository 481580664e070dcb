package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the file.
const (
	EnvLLMAPIKey        = "DOCPEN_LLM_API_KEY"
	EnvSTTAPIKey        = "DOCPEN_STT_API_KEY"
	EnvVoiceAgentAPIKey = "DOCPEN_VOICE_AGENT_API_KEY"
	EnvPostgresDSN      = "DOCPEN_POSTGRES_DSN"
)

// Defaults applied by [LoadFromReader] when a field is left empty.
const (
	DefaultListenAddr     = ":8080"
	DefaultRequestTimeout = 90 * time.Second
	DefaultMCPPath        = "/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"openai", "deepgram", "whisper"},
	"voice_agent": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites secrets with non-empty environment values. getenv is
// usually [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Providers.LLM.APIKey, EnvLLMAPIKey)
	set(&cfg.Providers.STT.APIKey, EnvSTTAPIKey)
	set(&cfg.Providers.VoiceAgent.APIKey, EnvVoiceAgentAPIKey)
	set(&cfg.Store.PostgresDSN, EnvPostgresDSN)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("voice_agent", cfg.Providers.VoiceAgent.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required; notes cannot be synthesized without an LLM"))
	}
	for kind, e := range map[string]ProviderEntry{
		"llm":         cfg.Providers.LLM,
		"stt":         cfg.Providers.STT,
		"voice_agent": cfg.Providers.VoiceAgent,
	} {
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout must not be negative", kind))
		}
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; audio transcription will be unavailable")
	}
	if cfg.Providers.VoiceAgent.Name != "" && cfg.Providers.VoiceAgent.APIKey == "" {
		slog.Warn("providers.voice_agent has no default api_key; only practitioners with their own key can provision agents")
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; using the in-memory store, data is lost on restart")
	}

	// Scribe
	s := cfg.Scribe
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scribe.timezone %q: %w", s.Timezone, err))
		}
	}
	if s.PhoneticThreshold < 0 || s.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("scribe.phonetic_threshold %.2f is out of range [0, 1]", s.PhoneticThreshold))
	}
	if s.HistoryLeadNotes < 0 || s.HistorySignedNotes < 0 || s.HistoryMaxChars < 0 {
		errs = append(errs, fmt.Errorf("scribe history limits must not be negative"))
	}
	if s.MaxConversation < 0 {
		errs = append(errs, fmt.Errorf("scribe.max_conversation must not be negative"))
	}
	if s.Breaker.MaxFailures < 0 || s.Breaker.HalfOpenMax < 0 || s.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("scribe.breaker values must not be negative"))
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
