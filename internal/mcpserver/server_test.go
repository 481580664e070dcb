package mcpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/docpen/scribe/internal/mcpserver"
	"github.com/docpen/scribe/internal/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// headerTransport stamps session headers onto every request.
type headerTransport struct {
	header http.Header
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, vs := range h.header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return http.DefaultTransport.RoundTrip(r)
}

type recorder struct {
	mu   sync.Mutex
	envs []tools.Env
	args []string
}

func (r *recorder) record(env tools.Env, args json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	r.args = append(r.args, string(args))
}

func newRegistry(t *testing.T, rec *recorder) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	}
	must := func(err error) {
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	must(reg.Register(tools.Tool{
		Definition: tools.Definition{Name: "lookup_medical_reference", Description: "Reference lookup.", Parameters: schema},
		Handler: func(_ context.Context, env tools.Env, args json.RawMessage) (string, error) {
			rec.record(env, args)
			return "First-line treatment is metformin.", nil
		},
	}))
	must(reg.Register(tools.Tool{
		Definition: tools.Definition{Name: "suggest_note_section", Description: "Section draft.", Parameters: schema},
		Handler: func(_ context.Context, env tools.Env, args json.RawMessage) (string, error) {
			rec.record(env, args)
			return "", errors.New("no clinical session attached to this call")
		},
	}))
	return reg
}

func connect(t *testing.T, srv *mcpserver.Server, header http.Header) *mcpsdk.ClientSession {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(context.Background(), &mcpsdk.StreamableClientTransport{
		Endpoint:   ts.URL,
		HTTPClient: &http.Client{Transport: headerTransport{header: header}},
	}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func textOf(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestListTools(t *testing.T) {
	t.Parallel()

	srv := mcpserver.New(newRegistry(t, &recorder{}))
	cs := connect(t, srv, nil)

	var names []string
	for tool, err := range cs.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		names = append(names, tool.Name)
	}
	if len(names) != 2 {
		t.Fatalf("tools = %v, want 2", names)
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"lookup_medical_reference", "suggest_note_section"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing tool %q in %v", want, names)
		}
	}
}

func TestCallTool_PassesHeadersAsEnv(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := mcpserver.New(newRegistry(t, rec), mcpserver.WithTranscripts(func(_ context.Context, id string) (string, error) {
		return "transcript of " + id, nil
	}))
	h := http.Header{}
	h.Set(mcpserver.HeaderUserID, "user-7")
	h.Set(mcpserver.HeaderLeadID, "lead-3")
	h.Set(mcpserver.HeaderSessionID, "sess-5")
	h.Set(mcpserver.HeaderProfession, "DENTIST")
	cs := connect(t, srv, h)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "lookup_medical_reference",
		Arguments: map[string]any{"query": "type 2 diabetes first line"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(res))
	}
	if got := textOf(res); got != "First-line treatment is metformin." {
		t.Errorf("text = %q", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.envs) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(rec.envs))
	}
	env := rec.envs[0]
	if env.Session.UserID != "user-7" || env.Session.LeadID != "lead-3" || env.SessionID != "sess-5" {
		t.Errorf("env = %+v", env)
	}
	if env.Session.Profession != "DENTIST" {
		t.Errorf("profession = %q", env.Session.Profession)
	}
	if env.Transcript != "transcript of sess-5" {
		t.Errorf("transcript = %q", env.Transcript)
	}
	if !strings.Contains(rec.args[0], "type 2 diabetes") {
		t.Errorf("args = %q", rec.args[0])
	}
}

func TestCallTool_HandlerErrorIsToolError(t *testing.T) {
	t.Parallel()

	srv := mcpserver.New(newRegistry(t, &recorder{}))
	cs := connect(t, srv, nil)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "suggest_note_section",
		Arguments: map[string]any{"query": "plan"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError result")
	}
	if !strings.Contains(textOf(res), "no clinical session") {
		t.Errorf("text = %q", textOf(res))
	}
}
