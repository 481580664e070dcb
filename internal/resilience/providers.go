package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/pkg/provider/llm"
	"github.com/docpen/scribe/pkg/provider/stt"
)

// GuardedLLM wraps an [llm.Provider] with a circuit breaker and records
// request counts and latency.
type GuardedLLM struct {
	name    string
	inner   llm.Provider
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

var _ llm.Provider = (*GuardedLLM)(nil)

// NewGuardedLLM guards p. metrics may be nil.
func NewGuardedLLM(name string, p llm.Provider, cfg CircuitBreakerConfig, metrics *observe.Metrics) *GuardedLLM {
	if cfg.Name == "" {
		cfg.Name = "llm/" + name
	}
	return &GuardedLLM{name: name, inner: p, breaker: NewCircuitBreaker(cfg), metrics: metrics}
}

// Complete forwards to the wrapped provider unless the breaker is open.
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	recordCall(ctx, g.metrics, g.name, "llm", err)
	if g.metrics != nil && err == nil {
		g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	return resp, err
}

// Capabilities is static metadata and bypasses the breaker.
func (g *GuardedLLM) Capabilities() llm.ModelCapabilities {
	return g.inner.Capabilities()
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedLLM) Breaker() *CircuitBreaker { return g.breaker }

// GuardedSTT wraps an [stt.Provider] the same way.
type GuardedSTT struct {
	name    string
	inner   stt.Provider
	breaker *CircuitBreaker
	metrics *observe.Metrics
}

var _ stt.Provider = (*GuardedSTT)(nil)

// NewGuardedSTT guards p. metrics may be nil.
func NewGuardedSTT(name string, p stt.Provider, cfg CircuitBreakerConfig, metrics *observe.Metrics) *GuardedSTT {
	if cfg.Name == "" {
		cfg.Name = "stt/" + name
	}
	return &GuardedSTT{name: name, inner: p, breaker: NewCircuitBreaker(cfg), metrics: metrics}
}

// Transcribe forwards to the wrapped provider unless the breaker is open.
func (g *GuardedSTT) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var res *stt.Result
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.inner.Transcribe(ctx, req)
		return err
	})
	recordCall(ctx, g.metrics, g.name, "stt", err)
	if g.metrics != nil && err == nil {
		g.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res, err
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedSTT) Breaker() *CircuitBreaker { return g.breaker }

func recordCall(ctx context.Context, m *observe.Metrics, provider, kind string, err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.RecordProviderRequest(ctx, provider, kind, "ok")
	case errors.Is(err, ErrCircuitOpen):
		m.RecordProviderRequest(ctx, provider, kind, "rejected")
	default:
		m.RecordProviderRequest(ctx, provider, kind, "error")
		m.RecordProviderError(ctx, provider, kind)
	}
}
