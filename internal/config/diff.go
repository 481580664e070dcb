package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptsChanged is set when the prompt override file path changed. The
	// file's content is not compared.
	PromptsChanged bool

	// PatternsChanged is set when the diarization pattern file path changed.
	PatternsChanged bool

	// WakeWordChanged covers the phonetic flag and threshold.
	WakeWordChanged bool

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PromptsChanged && !d.PatternsChanged &&
		!d.WakeWordChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	was, now := old.Scribe, new.Scribe
	d.PromptsChanged = was.PromptFile != now.PromptFile
	d.PatternsChanged = was.PatternFile != now.PatternFile
	d.WakeWordChanged = was.PhoneticWakeWord != now.PhoneticWakeWord ||
		was.PhoneticThreshold != now.PhoneticThreshold

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!sameEntry(old.Providers.STT, new.Providers.STT) ||
		!sameEntry(old.Providers.VoiceAgent, new.Providers.VoiceAgent) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry ignores Options, which are provider specific and not comparable.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Timeout == b.Timeout
}
