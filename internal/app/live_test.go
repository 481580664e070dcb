package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	vamock "github.com/docpen/scribe/pkg/provider/voiceagent/mock"
	"github.com/docpen/scribe/pkg/types"
)

// agentServer accepts one conversation, acknowledges it as conv-7 and
// replays the given practitioner utterances.
func agentServer(t *testing.T, utterances ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		write := func(v any) {
			data, _ := json.Marshal(v)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		write(map[string]any{
			"type":                                   "conversation_initiation_metadata",
			"conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv-7"},
		})
		for _, u := range utterances {
			write(map[string]any{
				"type":                     "user_transcript",
				"user_transcription_event": map[string]any{"user_transcript": u},
			})
		}
		<-conn.CloseRead(ctx).Done()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func liveApp(t *testing.T, url string) http.Handler {
	t.Helper()
	providers := testProviders()
	providers.VoiceAgent = &vamock.Provider{URL: url}
	h := newApp(t, providers).Handler()

	rec := call(t, h, http.MethodPost, "/v1/agents", map[string]any{"userId": "u1", "profession": "PHYSIOTHERAPIST"})
	if rec.Code != http.StatusOK {
		t.Fatalf("provision = %d: %s", rec.Code, rec.Body)
	}
	return h
}

func startSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := call(t, h, http.MethodPost, "/v1/sessions", map[string]any{"userId": "u1", "profession": "PHYSIOTHERAPIST"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session = %d: %s", rec.Code, rec.Body)
	}
	var sess types.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	return sess.ID
}

func segments(t *testing.T, h http.Handler, id string) []types.Segment {
	t.Helper()
	rec := call(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	var sess types.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	return sess.Segments
}

func TestLive_TranscriptFeedsSession(t *testing.T) {
	t.Parallel()

	url := agentServer(t,
		"Hey Docpen, what is the usual ibuprofen dose?",
		"The pain started after lifting boxes on Monday.",
	)
	h := liveApp(t, url)
	id := startSession(t, h)

	rec := call(t, h, http.MethodPost, "/v1/sessions/"+id+"/live", map[string]any{
		"dynamicVariables": map[string]string{"patient_name": "J. Smith"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start live = %d: %s", rec.Code, rec.Body)
	}
	var started struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if started.ConversationID != "conv-7" {
		t.Errorf("conversation id = %q, want conv-7", started.ConversationID)
	}

	rec = call(t, h, http.MethodPost, "/v1/sessions/"+id+"/live", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rec.Code)
	}

	var segs []types.Segment
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		segs = segments(t, h, id)
		if len(segs) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %+v, want the clinical utterance only", segs)
	}
	if !strings.Contains(segs[0].Content, "lifting boxes") {
		t.Errorf("segment = %q", segs[0].Content)
	}

	rec = call(t, h, http.MethodDelete, "/v1/sessions/"+id+"/live", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop live = %d: %s", rec.Code, rec.Body)
	}
	rec = call(t, h, http.MethodDelete, "/v1/sessions/"+id+"/live", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second stop = %d, want 404", rec.Code)
	}
}

func TestLive_RequiresRecordingSession(t *testing.T) {
	t.Parallel()

	h := liveApp(t, agentServer(t))
	id := startSession(t, h)
	if rec := call(t, h, http.MethodPost, "/v1/sessions/"+id+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", rec.Code, rec.Body)
	}

	rec := call(t, h, http.MethodPost, "/v1/sessions/"+id+"/live", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("live on cancelled session = %d, want 409 (body %s)", rec.Code, rec.Body)
	}
	rec = call(t, h, http.MethodPost, "/v1/sessions/missing/live", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("live on unknown session = %d, want 404", rec.Code)
	}
}

func TestLive_ShutdownHangsUp(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.VoiceAgent = &vamock.Provider{URL: agentServer(t)}
	a := newApp(t, providers)
	h := a.Handler()
	if rec := call(t, h, http.MethodPost, "/v1/agents", map[string]any{"userId": "u1", "profession": "PHYSIOTHERAPIST"}); rec.Code != http.StatusOK {
		t.Fatalf("provision = %d", rec.Code)
	}
	id := startSession(t, h)
	if rec := call(t, h, http.MethodPost, "/v1/sessions/"+id+"/live", nil); rec.Code != http.StatusCreated {
		t.Fatalf("start live = %d: %s", rec.Code, rec.Body)
	}
	if got := a.Live().Active(); len(got) != 1 || got[0] != id {
		t.Fatalf("Active = %v, want [%s]", got, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := a.Live().Active(); len(got) != 0 {
		t.Errorf("Active after shutdown = %v", got)
	}
}
