// Package app wires the scribe's subsystems into a running service.
//
// The App owns the full lifecycle: New opens the store and builds every
// component from config, Run serves HTTP until its context ends, and Shutdown
// hangs up live conversations and releases resources in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docpen/scribe/internal/api"
	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/config"
	"github.com/docpen/scribe/internal/diarize"
	"github.com/docpen/scribe/internal/health"
	"github.com/docpen/scribe/internal/history"
	"github.com/docpen/scribe/internal/mcpserver"
	"github.com/docpen/scribe/internal/note"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/prompts"
	"github.com/docpen/scribe/internal/resilience"
	"github.com/docpen/scribe/internal/session"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/internal/tools"
	"github.com/docpen/scribe/internal/voiceagent"
	"github.com/docpen/scribe/internal/wakeword"
	"github.com/docpen/scribe/pkg/provider/llm"
	"github.com/docpen/scribe/pkg/provider/stt"
	vaprovider "github.com/docpen/scribe/pkg/provider/voiceagent"
)

const (
	serviceName     = "docpen-scribe"
	shutdownTimeout = 15 * time.Second
	readHeaderLimit = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// NoteLLM drives note synthesis when a dedicated note model is
	// configured. Nil falls back to LLM.
	NoteLLM llm.Provider

	STT        stt.Provider
	VoiceAgent vaprovider.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	providers  *Providers
	metrics    *observe.Metrics
	level      *slog.LevelVar
	configPath string
	version    string

	store  store.Store
	pinger health.Pinger
	// locks outlive core rebuilds so reloaded session services stay
	// serialized with the ones still serving requests.
	locks *session.Locks

	llm     *resilience.GuardedLLM
	noteLLM *resilience.GuardedLLM
	stt     *resilience.GuardedSTT

	// core is rebuilt on hot reload; requests in flight keep the one they
	// started with.
	core    atomic.Pointer[core]
	live    *LiveManager
	handler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// core is the set of components derived from reloadable config.
type core struct {
	cfg      *config.Config
	prompts  *prompts.Library
	table    *diarize.Table
	detector *wakeword.Detector
	notes    *note.Synthesizer
	router   *assistant.Router
	sessions *session.Service
	tools    *tools.Registry
	agents   *voiceagent.Manager
	mux      *http.ServeMux
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics replaces the global metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload change the log level of the handler built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload: Run watches path for changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the version reported to MCP clients and telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		locks:     session.NewLocks(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Slog())
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Guarded providers ─────────────────────────────────────────────
	a.initProviders()

	// ── 3. Clinical core ─────────────────────────────────────────────────
	c, err := a.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build: %w", err)
	}
	a.core.Store(c)

	// ── 4. Live conversations ────────────────────────────────────────────
	a.live = newLiveManager(a.core.Load, a.metrics)

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL, or falls back to the in-memory store when no DSN
// is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("no store.postgres_dsn configured, sessions live in memory only")
		a.store = store.NewMemStore()
		return nil
	}

	pg, pool, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.pinger = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initProviders wraps the LLM and STT providers in circuit breakers.
func (a *App) initProviders() {
	b := a.cfg.Scribe.Breaker
	breaker := func(name string) resilience.CircuitBreakerConfig {
		return resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  b.MaxFailures,
			ResetTimeout: b.ResetTimeout,
			HalfOpenMax:  b.HalfOpenMax,
		}
	}

	llmName := "llm/" + a.cfg.Providers.LLM.Name
	a.llm = resilience.NewGuardedLLM(llmName, a.providers.LLM, breaker(llmName), a.metrics)
	a.noteLLM = a.llm
	if a.providers.NoteLLM != nil {
		name := llmName + "/notes"
		a.noteLLM = resilience.NewGuardedLLM(name, a.providers.NoteLLM, breaker(name), a.metrics)
	}
	if a.providers.STT != nil {
		name := "stt/" + a.cfg.Providers.STT.Name
		a.stt = resilience.NewGuardedSTT(name, a.providers.STT, breaker(name), a.metrics)
	}
}

// build constructs every component that depends on reloadable config.
func (a *App) build(cfg *config.Config) (*core, error) {
	c := &core{cfg: cfg}

	c.prompts = prompts.Default()
	if path := cfg.Scribe.PromptFile; path != "" {
		lib, err := prompts.Load(path)
		if err != nil {
			return nil, err
		}
		c.prompts = lib
	}

	c.table = diarize.DefaultTable()
	if path := cfg.Scribe.PatternFile; path != "" {
		t, err := diarize.LoadTable(path)
		if err != nil {
			return nil, err
		}
		c.table = t
	}

	var wopts []wakeword.Option
	if cfg.Scribe.PhoneticWakeWord {
		wopts = append(wopts, wakeword.WithPhoneticFallback(cfg.Scribe.PhoneticThreshold))
	}
	c.detector = wakeword.New(wopts...)

	hist := history.NewAssembler(a.store,
		history.WithLimits(cfg.Scribe.HistoryLeadNotes, cfg.Scribe.HistorySignedNotes),
		history.WithMaxChars(cfg.Scribe.HistoryMaxChars),
	)
	c.notes = note.New(a.noteLLM, note.WithPrompts(c.prompts), note.WithMetrics(a.metrics))
	c.router = assistant.New(a.llm, hist, assistant.WithPrompts(c.prompts), assistant.WithMetrics(a.metrics))

	sopts := []session.Option{
		session.WithPatternTable(c.table),
		session.WithHistory(hist),
		session.WithLocks(a.locks),
	}
	var sttProvider stt.Provider
	if a.stt != nil {
		sttProvider = a.stt
		sopts = append(sopts, session.WithSTT(a.stt))
	}
	c.sessions = session.NewService(a.store, c.notes, sopts...)

	c.tools = tools.NewRegistry(tools.WithMetrics(a.metrics))
	if err := tools.RegisterClinical(c.tools, c.router, c.sessions); err != nil {
		return nil, err
	}

	deps := api.Deps{
		STT:            sttProvider,
		Notes:          c.notes,
		History:        hist,
		Assistant:      c.router,
		Sessions:       c.sessions,
		Patterns:       c.table,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if a.providers.VoiceAgent != nil {
		va := cfg.Providers.VoiceAgent
		c.agents = voiceagent.NewManager(a.providers.VoiceAgent, a.store,
			voiceagent.WithConfig(voiceagent.Config{
				DefaultAPIKey: va.APIKey,
				AgentLLM:      cfg.Scribe.AgentLLM,
				TTSModel:      va.Option("tts_model"),
				Timezone:      cfg.Scribe.Timezone,
				MaxDuration:   cfg.Scribe.MaxConversation,
				CallTimeout:   va.Timeout,
			}),
			voiceagent.WithPrompts(c.prompts),
			voiceagent.WithTools(c.tools.Specs()),
			voiceagent.WithMetrics(a.metrics),
		)
		deps.Agents = c.agents
		deps.Live = liveController{a}
	}

	c.mux = http.NewServeMux()
	api.New(deps).Register(c.mux)

	if cfg.MCP.Enabled {
		srv := mcpserver.New(c.tools,
			mcpserver.WithImplementation(serviceName, a.version),
			mcpserver.WithTranscripts(c.transcript),
		)
		c.mux.Handle(cfg.MCP.Path, srv.Handler())
	}
	return c, nil
}

// transcript renders a session's stored segments for MCP tool calls.
func (c *core) transcript(ctx context.Context, sessionID string) (string, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return diarize.Render(diarize.Merge(sess.Segments)), nil
}

// liveController defers to the App's LiveManager, which is created after the
// first core.
type liveController struct{ a *App }

func (l liveController) StartLive(ctx context.Context, sessionID string, vars map[string]string) (string, error) {
	return l.a.live.StartLive(ctx, sessionID, vars)
}

func (l liveController) StopLive(ctx context.Context, sessionID string) error {
	return l.a.live.StopLive(ctx, sessionID)
}

// routes builds the outer handler. API and MCP routes are delegated to the
// current core so reloads take effect without restarting the listener.
func (a *App) routes() http.Handler {
	checks := []health.Checker{a.breakerCheck("llm", a.llm)}
	if a.pinger != nil {
		checks = append([]health.Checker{health.Ping("postgres", a.pinger)}, checks...)
	}
	if a.noteLLM != a.llm {
		checks = append(checks, a.breakerCheck("note_llm", a.noteLLM))
	}
	if a.stt != nil {
		checks = append(checks, health.Checker{
			Name:     "stt",
			Optional: true,
			Check:    breakerClosed(a.stt.Breaker()),
		})
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.core.Load().mux.ServeHTTP(w, r)
	}))
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) breakerCheck(name string, g *resilience.GuardedLLM) health.Checker {
	return health.Checker{Name: name, Optional: true, Check: breakerClosed(g.Breaker())}
}

func breakerClosed(cb *resilience.CircuitBreaker) func(context.Context) error {
	return func(context.Context) error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}
}

// Handler returns the service's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Live returns the live conversation manager.
func (a *App) Live() *LiveManager { return a.live }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests. A cancelled ctx is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.reload)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderLimit,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reload applies a changed config file. Log level changes apply in place;
// prompt, pattern and wake-word changes rebuild the core. Anything else is
// only read at startup.
func (a *App) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if !d.PromptsChanged && !d.PatternsChanged && !d.WakeWordChanged {
		return
	}

	// Only the reloadable sections of new are adopted.
	next := *a.core.Load().cfg
	next.Server.LogLevel = new.Server.LogLevel
	next.Scribe.PromptFile = new.Scribe.PromptFile
	next.Scribe.PatternFile = new.Scribe.PatternFile
	next.Scribe.PhoneticWakeWord = new.Scribe.PhoneticWakeWord
	next.Scribe.PhoneticThreshold = new.Scribe.PhoneticThreshold

	c, err := a.build(&next)
	if err != nil {
		slog.Error("config reload failed, keeping previous components", "err", err)
		return
	}
	a.core.Store(c)
	slog.Info("config reloaded",
		"prompts", d.PromptsChanged,
		"patterns", d.PatternsChanged,
		"wake_word", d.WakeWordChanged,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown hangs up live conversations, then runs closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live", len(a.live.Active()), "closers", len(a.closers))

		if err := a.live.StopAll(ctx); err != nil {
			slog.Warn("live conversations did not stop cleanly", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
