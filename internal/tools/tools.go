// Package tools holds the clinical tools a voice agent, a live conversation
// or an MCP client can call, together with a registry that executes them with
// a per-tool timeout and records latency.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/pkg/provider/voiceagent"
)

const defaultTimeout = 20 * time.Second

// ErrUnknownTool is returned by [Registry.Execute] for an unregistered name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Definition is the caller-facing schema of a tool.
type Definition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// Env is the session a tool call runs in.
type Env struct {
	Session assistant.SessionContext

	// SessionID identifies the clinical session, if there is one.
	SessionID string

	// Transcript is the live transcript so far.
	Transcript string
}

// Handler executes a tool. args is the raw JSON object sent by the caller.
// Implementations must be safe for concurrent use.
type Handler func(ctx context.Context, env Env, args json.RawMessage) (string, error)

// Tool is a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler

	// Timeout bounds one execution. Zero means 20s.
	Timeout time.Duration
}

// Result is the outcome of one execution. Handler failures are reported
// here rather than as an error, so that callers can hand them back to the
// model.
type Result struct {
	Content  string
	IsError  bool
	Duration time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records tool calls and their latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is a concurrent-safe set of tools. Registration order is kept.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	metrics *observe.Metrics
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) error {
	if t.Definition.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", t.Definition.Name)
	}
	if t.Timeout <= 0 {
		t.Timeout = defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Definition.Name]; !ok {
		r.order = append(r.order, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	return nil
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// Specs converts the registry into the client tool list of a voice agent.
func (r *Registry) Specs() []voiceagent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]voiceagent.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, voiceagent.ToolSpec{
			Name:            t.Definition.Name,
			Description:     t.Definition.Description,
			Parameters:      t.Definition.Parameters,
			ExpectsResponse: true,
			ResponseTimeout: t.Timeout,
		})
	}
	return out
}

// Execute runs the named tool. The returned error is non-nil only for an
// unknown tool; handler failures and timeouts come back as an error Result.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, env Env) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	ctx, span := observe.StartSpan(ctx, "tools.Execute")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	out, err := t.Handler(ctx, env, args)
	res := &Result{Content: out, Duration: time.Since(start)}

	status := "ok"
	if err != nil {
		status = "error"
		res.Content, res.IsError = err.Error(), true
		observe.Logger(ctx).Warn("tool call failed", "tool", name, "user_id", env.Session.UserID, "err", err)
	}
	if r.metrics != nil {
		r.metrics.RecordToolCall(ctx, name, status)
		r.metrics.ToolExecutionDuration.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(observe.Attr("tool", name)))
	}
	return res, nil
}
