package config_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/docpen/scribe/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal",
			yaml: "providers:\n  llm:\n    name: openai\n",
		},
		{
			name:    "missing llm",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"providers.llm.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: bananas\nproviders:\n  llm:\n    name: openai\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "unknown timezone",
			yaml:    "providers:\n  llm:\n    name: openai\nscribe:\n  timezone: Mars/Olympus\n",
			wantErr: []string{"scribe.timezone"},
		},
		{
			name:    "threshold out of range",
			yaml:    "providers:\n  llm:\n    name: openai\nscribe:\n  phonetic_threshold: 1.5\n",
			wantErr: []string{"phonetic_threshold"},
		},
		{
			name:    "half-configured tls",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\nproviders:\n  llm:\n    name: openai\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "relative mcp path",
			yaml:    "providers:\n  llm:\n    name: openai\nmcp:\n  path: mcp\n",
			wantErr: []string{"mcp.path"},
		},
		{
			name:    "negative provider timeout",
			yaml:    "providers:\n  llm:\n    name: openai\n  stt:\n    name: openai\n    timeout: -1s\n",
			wantErr: []string{"providers.stt.timeout"},
		},
		{
			name: "errors are joined",
			yaml: "server:\n  log_level: loud\nscribe:\n  history_max_chars: -1\n",
			wantErr: []string{
				"server.log_level",
				"providers.llm.name is required",
				"history limits",
			},
		},
		{
			name: "unknown provider name only warns",
			yaml: "providers:\n  llm:\n    name: my-fork\n  voice_agent:\n    name: someone-else\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %v", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.Slog(); got != want {
			t.Errorf("%q.Slog() = %v, want %v", in, got, want)
		}
	}
}
