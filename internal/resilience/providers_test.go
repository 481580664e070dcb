package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/pkg/provider/llm"
	llmmock "github.com/docpen/scribe/pkg/provider/llm/mock"
	"github.com/docpen/scribe/pkg/provider/stt"
	sttmock "github.com/docpen/scribe/pkg/provider/stt/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func requestCount(t *testing.T, reader *sdkmetric.ManualReader, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "docpen.provider.requests" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == status {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestGuardedLLM_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	inner := &llmmock.Provider{CompleteErr: errors.New("503 service unavailable")}
	g := NewGuardedLLM("openai", inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, m)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	for range 2 {
		if _, err := g.Complete(context.Background(), req); err == nil {
			t.Fatal("expected provider error")
		}
	}
	_, err := g.Complete(context.Background(), req)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := len(inner.Calls()); n != 2 {
		t.Errorf("inner calls = %d, want 2", n)
	}
	if got := requestCount(t, reader, "error"); got != 2 {
		t.Errorf("error requests = %d, want 2", got)
	}
	if got := requestCount(t, reader, "rejected"); got != 1 {
		t.Errorf("rejected requests = %d, want 1", got)
	}
	if g.Breaker().State() != StateOpen {
		t.Errorf("breaker state = %v", g.Breaker().State())
	}
}

func TestGuardedLLM_PassesThrough(t *testing.T) {
	t.Parallel()
	inner := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
		ModelCapabilities: llm.ModelCapabilities{Model: "gpt-4o"},
	}
	g := NewGuardedLLM("openai", inner, CircuitBreakerConfig{}, nil)

	resp, err := g.Complete(context.Background(), llm.CompletionRequest{Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if got := inner.Calls()[0].Req.Temperature; got != 0.2 {
		t.Errorf("forwarded temperature = %v", got)
	}
	if g.Capabilities().Model != "gpt-4o" {
		t.Errorf("capabilities not forwarded")
	}
}

func TestGuardedSTT(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	inner := &sttmock.Provider{Result: &stt.Result{Text: "hello"}}
	g := NewGuardedSTT("whisper", inner, CircuitBreakerConfig{}, m)

	res, err := g.Transcribe(context.Background(), stt.Request{Audio: strings.NewReader("RIFF")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q", res.Text)
	}
	if got := string(inner.Calls[0].Audio); got != "RIFF" {
		t.Errorf("audio = %q", got)
	}
	if got := requestCount(t, reader, "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
}
