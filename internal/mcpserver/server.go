// Package mcpserver exposes the clinical tool registry as a Model Context
// Protocol server over streamable HTTP, so external agents can call the same
// history, drug interaction, reference and note-section tools the hosted voice
// agents use.
//
// MCP carries no clinical session, so the caller identifies one with request
// headers (see [HeaderUserID] and friends). Tools that need a patient or a
// session fail with a tool error when the headers are absent.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/tools"
	"github.com/docpen/scribe/pkg/types"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Request headers that bind an MCP call to a practitioner and session.
const (
	HeaderUserID           = "X-Docpen-User-Id"
	HeaderLeadID           = "X-Docpen-Lead-Id"
	HeaderSessionID        = "X-Docpen-Session-Id"
	HeaderProfession       = "X-Docpen-Profession"
	HeaderCustomProfession = "X-Docpen-Custom-Profession"
)

const (
	defaultName    = "docpen-scribe"
	defaultVersion = "1.0.0"
)

// Option configures a [Server].
type Option func(*Server)

// WithImplementation overrides the name and version announced to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.name, s.version = name, version
	}
}

// TranscriptSource returns the live transcript of a clinical session, used by
// tools that read it. The session service can satisfy it.
type TranscriptSource func(ctx context.Context, sessionID string) (string, error)

// WithTranscripts lets tool calls see the session transcript.
func WithTranscripts(fn TranscriptSource) Option {
	return func(s *Server) { s.transcripts = fn }
}

// Server adapts a [tools.Registry] to MCP.
type Server struct {
	reg         *tools.Registry
	mcp         *mcpsdk.Server
	transcripts TranscriptSource
	name        string
	version     string
}

// New registers every tool currently in reg. Tools registered later are not
// picked up.
func New(reg *tools.Registry, opts ...Option) *Server {
	s := &Server{reg: reg, name: defaultName, version: defaultVersion}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: s.name, Version: s.version}, nil)
	for _, def := range reg.Definitions() {
		s.mcp.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, s.handle(def.Name))
	}
	return s
}

// MCP returns the underlying SDK server, for transports other than HTTP.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Handler returns the streamable HTTP endpoint.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

func (s *Server) handle(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		env := s.env(ctx, req)

		res, err := s.reg.Execute(ctx, name, args, env)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		if res.IsError {
			return errorResult(res.Content), nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Content}},
		}, nil
	}
}

func (s *Server) env(ctx context.Context, req *mcpsdk.CallToolRequest) tools.Env {
	var h http.Header
	if req.Extra != nil {
		h = req.Extra.Header
	}
	if h == nil {
		return tools.Env{}
	}

	env := tools.Env{
		Session: assistant.SessionContext{
			UserID:           h.Get(HeaderUserID),
			LeadID:           h.Get(HeaderLeadID),
			Profession:       types.Profession(h.Get(HeaderProfession)),
			CustomProfession: h.Get(HeaderCustomProfession),
		},
		SessionID: h.Get(HeaderSessionID),
	}
	if env.SessionID != "" && s.transcripts != nil {
		tr, err := s.transcripts(ctx, env.SessionID)
		if err != nil {
			observe.Logger(ctx).Warn("mcp: transcript unavailable", "session_id", env.SessionID, "err", err)
		}
		env.Transcript = tr
	}
	return env
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}
