package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docpen/scribe/pkg/provider/voiceagent"
)

type recorded struct {
	method string
	path   string
	query  string
	key    string
	body   map[string]any
}

func newServer(t *testing.T, status int, reply string, rec *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.key = r.Header.Get("xi-api-key")
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// dig walks nested JSON objects.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

func TestCreateAgent_RequestShape(t *testing.T) {
	t.Parallel()

	var rec recorded
	srv := newServer(t, http.StatusOK, `{"agent_id":"agent_123"}`, &rec)
	p := New(WithBaseURL(srv.URL))

	id, err := p.CreateAgent(context.Background(), "xi-key", voiceagent.AgentSpec{
		Name:         "Docpen - DENTIST",
		FirstMessage: "Hello, I'm ready.",
		Language:     "en",
		SystemPrompt: "You are a dental assistant.",
		LLM:          "gpt-4o-mini",
		Temperature:  0.5,
		VoiceID:      "21m00Tcm4TlvDq8ikWAM",
		TTSModel:     "eleven_turbo_v2",
		Voice:        voiceagent.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: 1.0},
		MaxDuration:  30 * time.Minute,
		Tools: []voiceagent.ToolSpec{{
			Name:            "get_patient_history",
			Description:     "Look up history",
			Parameters:      map[string]any{"type": "object"},
			ExpectsResponse: true,
			ResponseTimeout: 20 * time.Second,
		}},
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if id != "agent_123" {
		t.Errorf("id = %q", id)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/convai/agents/create" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if rec.key != "xi-key" {
		t.Errorf("xi-api-key = %q", rec.key)
	}

	cc := "conversation_config"
	if got := dig(rec.body, cc, "agent", "prompt", "prompt"); got != "You are a dental assistant." {
		t.Errorf("prompt = %v", got)
	}
	if got := dig(rec.body, cc, "agent", "first_message"); got != "Hello, I'm ready." {
		t.Errorf("first_message = %v", got)
	}
	if got := dig(rec.body, cc, "tts", "voice_id"); got != "21m00Tcm4TlvDq8ikWAM" {
		t.Errorf("voice_id = %v", got)
	}
	if got := dig(rec.body, cc, "conversation", "max_duration_seconds"); got != float64(1800) {
		t.Errorf("max_duration_seconds = %v", got)
	}
	tools, _ := dig(rec.body, cc, "agent", "prompt", "tools").([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	tool := tools[0].(map[string]any)
	if tool["type"] != "client" || tool["name"] != "get_patient_history" || tool["response_timeout_secs"] != float64(20) {
		t.Errorf("tool = %v", tool)
	}
}

func TestCreateAgent_ErrorCarriesBody(t *testing.T) {
	t.Parallel()

	var rec recorded
	srv := newServer(t, http.StatusUnprocessableEntity, `{"detail":"voice_id not found"}`, &rec)
	p := New(WithBaseURL(srv.URL))

	_, err := p.CreateAgent(context.Background(), "xi-key", voiceagent.AgentSpec{VoiceID: "nope"})
	var apiErr *voiceagent.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Body != `{"detail":"voice_id not found"}` {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestCreateAgent_MissingAgentID(t *testing.T) {
	t.Parallel()
	var rec recorded
	srv := newServer(t, http.StatusOK, `{}`, &rec)
	p := New(WithBaseURL(srv.URL))
	if _, err := p.CreateAgent(context.Background(), "k", voiceagent.AgentSpec{VoiceID: "v"}); err == nil {
		t.Fatal("expected error for missing agent_id")
	}
}

func TestUpdateAgentPrompt_PatchesPromptOnly(t *testing.T) {
	t.Parallel()

	var rec recorded
	srv := newServer(t, http.StatusOK, `{}`, &rec)
	p := New(WithBaseURL(srv.URL))

	if err := p.UpdateAgentPrompt(context.Background(), "k", "agent_1", "new prompt"); err != nil {
		t.Fatalf("UpdateAgentPrompt: %v", err)
	}
	if rec.method != http.MethodPatch || rec.path != "/v1/convai/agents/agent_1" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if got := dig(rec.body, "conversation_config", "agent", "prompt", "prompt"); got != "new prompt" {
		t.Errorf("prompt = %v", got)
	}
	if dig(rec.body, "conversation_config", "tts") != nil {
		t.Error("patch must not touch tts settings")
	}
}

func TestDeleteAgent(t *testing.T) {
	t.Parallel()

	var rec recorded
	srv := newServer(t, http.StatusNotFound, `{"detail":"agent not found"}`, &rec)
	p := New(WithBaseURL(srv.URL))

	err := p.DeleteAgent(context.Background(), "k", "agent_1")
	if rec.method != http.MethodDelete || rec.path != "/v1/convai/agents/agent_1" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	var apiErr *voiceagent.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 APIError", err)
	}
}

func TestSignedURL(t *testing.T) {
	t.Parallel()

	var rec recorded
	srv := newServer(t, http.StatusOK, `{"signed_url":"wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a&conversation_signature=s"}`, &rec)
	p := New(WithBaseURL(srv.URL))

	u, err := p.SignedURL(context.Background(), "k", "agent 1")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if rec.path != "/v1/convai/conversation/get-signed-url" || rec.query != "agent_id=agent+1" {
		t.Errorf("request = %s?%s", rec.path, rec.query)
	}
	if u == "" {
		t.Error("empty signed url")
	}
}

func TestEmptyAPIKey(t *testing.T) {
	t.Parallel()
	p := New(WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.SignedURL(context.Background(), "", "a"); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
