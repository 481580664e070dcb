// Package api serves the scribe's JSON interface to the surrounding practice
// application: transcription and diarization, note synthesis and section
// regeneration, assistant queries, voice agent provisioning and the clinical
// session lifecycle.
//
// Handlers are mounted on an [http.ServeMux] with method and wildcard
// patterns; the caller wraps the mux in observe.Middleware. Authentication is
// the caller's concern: user identifiers arrive in request bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/diarize"
	"github.com/docpen/scribe/internal/note"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/session"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/internal/voiceagent"
	"github.com/docpen/scribe/pkg/provider/stt"
	"github.com/docpen/scribe/pkg/types"
)

const (
	defaultRequestTimeout = 90 * time.Second
	defaultMaxUpload      = 100 << 20
	maxJSONBody           = 4 << 20
)

// Synthesizer writes notes. [*note.Synthesizer] implements it.
type Synthesizer = session.Synthesizer

// QueryRouter answers assistant queries. [*assistant.Router] implements it.
type QueryRouter interface {
	Route(ctx context.Context, q types.AssistantQuery, sc assistant.SessionContext) (*types.AssistantResponse, error)
}

// AgentManager provisions hosted voice agents. [*voiceagent.Manager]
// implements it.
type AgentManager interface {
	GetOrCreateAgent(ctx context.Context, cfg voiceagent.AgentConfig) (string, error)
	UpdateAgentContext(ctx context.Context, cfg voiceagent.AgentConfig)
	GetSignedWebSocketURL(ctx context.Context, key store.AgentKey, extra map[string]string) (*voiceagent.SignedSession, error)
	DeleteAgent(ctx context.Context, key store.AgentKey) error
}

// LiveController bridges a clinical session to a live voice agent
// conversation whose practitioner-side transcript feeds the session.
type LiveController interface {
	StartLive(ctx context.Context, sessionID string, vars map[string]string) (conversationID string, err error)
	StopLive(ctx context.Context, sessionID string) error
}

var (
	_ Synthesizer  = (*note.Synthesizer)(nil)
	_ QueryRouter  = (*assistant.Router)(nil)
	_ AgentManager = (*voiceagent.Manager)(nil)
)

// Deps are the components behind the API. Nil components disable their
// routes with 501 Not Implemented.
type Deps struct {
	STT       stt.Provider
	Notes     Synthesizer
	History   session.HistorySource
	Assistant QueryRouter
	Agents    AgentManager
	Sessions  *session.Service
	Patterns  *diarize.Table
	Live      LiveController

	// RequestTimeout bounds each request. Zero selects 90s.
	RequestTimeout time.Duration

	// MaxUpload bounds audio uploads in bytes. Zero selects 100 MiB.
	MaxUpload int64
}

// Server holds the handlers.
type Server struct {
	d Deps
}

// New returns a Server.
func New(d Deps) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = defaultMaxUpload
	}
	if d.Patterns == nil {
		d.Patterns = diarize.DefaultTable()
	}
	return &Server{d: d}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	// ---- stateless ----
	mux.Handle("POST /v1/transcriptions", s.handle(s.transcribe))
	mux.Handle("POST /v1/diarize", s.handle(s.diarize))
	mux.Handle("POST /v1/notes", s.handle(s.synthesize))
	mux.Handle("POST /v1/notes/sections/{section}", s.handle(s.regenerate))
	mux.Handle("POST /v1/assistant/queries", s.handle(s.query))

	// ---- voice agents ----
	mux.Handle("POST /v1/agents", s.handle(s.provisionAgent))
	mux.Handle("PUT /v1/agents/context", s.handle(s.updateAgentContext))
	mux.Handle("POST /v1/agents/signed-url", s.handle(s.signedURL))
	mux.Handle("DELETE /v1/agents", s.handle(s.deleteAgent))

	// ---- sessions ----
	mux.Handle("POST /v1/sessions", s.handle(s.sessions(s.startSession)))
	mux.Handle("GET /v1/sessions/{id}", s.handle(s.sessions(s.getSession)))
	mux.Handle("GET /v1/sessions/{id}/versions", s.handle(s.sessions(s.listVersions)))
	mux.Handle("POST /v1/sessions/{id}/transcript", s.handle(s.sessions(s.appendTranscript)))
	mux.Handle("POST /v1/sessions/{id}/audio", s.handle(s.sessions(s.uploadAudio)))
	mux.Handle("POST /v1/sessions/{id}/complete", s.handle(s.sessions(s.complete)))
	mux.Handle("POST /v1/sessions/{id}/sections/{section}/regenerate", s.handle(s.sessions(s.regenerateSessionSection)))
	mux.Handle("POST /v1/sessions/{id}/sections/{section}/suggest", s.handle(s.sessions(s.suggestSessionSection)))
	mux.Handle("PUT /v1/sessions/{id}/note", s.handle(s.sessions(s.reviseNote)))
	mux.Handle("POST /v1/sessions/{id}/sign", s.handle(s.sessions(s.sign)))
	mux.Handle("GET /v1/sessions/{id}/verify", s.handle(s.sessions(s.verify)))
	mux.Handle("POST /v1/sessions/{id}/archive", s.handle(s.sessions(s.archive)))
	mux.Handle("POST /v1/sessions/{id}/cancel", s.handle(s.sessions(s.cancel)))
	mux.Handle("POST /v1/sessions/{id}/live", s.handle(s.startLive))
	mux.Handle("DELETE /v1/sessions/{id}/live", s.handle(s.stopLive))
}

// handlerFunc writes its own success response and returns any failure for
// [Server.handle] to map.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.d.RequestTimeout)
		defer cancel()
		r = r.WithContext(ctx)

		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "route", r.Pattern, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "route", r.Pattern, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestError is a client mistake caught by the handler itself.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var errNotConfigured = errors.New("api: this feature is not configured")
