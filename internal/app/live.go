package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/docpen/scribe/internal/api"
	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/live"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/session"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/pkg/types"
)

// defaultConnectTimeout bounds the wait for conversation metadata after dial.
const defaultConnectTimeout = 10 * time.Second

var _ api.LiveController = (*LiveManager)(nil)

// LiveManager runs live voice agent conversations on behalf of clinical
// sessions, at most one per session. What the agent hears from the room is
// diarized into the session transcript; wake-word utterances are answered by
// the assistant and kept out of it.
//
// All exported methods are safe for concurrent use.
type LiveManager struct {
	current        func() *core
	metrics        *observe.Metrics
	connectTimeout time.Duration

	mu     sync.Mutex
	active map[string]*conversation
}

type conversation struct {
	live      *live.Session
	started   time.Time
	connected chan struct{}
	done      chan struct{}
}

// newLiveManager returns a manager that reads its components from current on
// every start, so a rebuilt core applies to the next conversation.
func newLiveManager(current func() *core, metrics *observe.Metrics) *LiveManager {
	return &LiveManager{
		current:        current,
		metrics:        metrics,
		connectTimeout: defaultConnectTimeout,
		active:         make(map[string]*conversation),
	}
}

// StartLive joins the session's voice agent and returns the provider's
// conversation ID once the agent has accepted the connection. The session
// must be RECORDING.
func (m *LiveManager) StartLive(ctx context.Context, sessionID string, vars map[string]string) (string, error) {
	c := m.current()
	if c.agents == nil {
		return "", errors.New("app: live: no voice agent provider configured")
	}

	pending := &conversation{}
	m.mu.Lock()
	if _, ok := m.active[sessionID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("app: live conversation for session %s: %w", sessionID, store.ErrDuplicate)
	}
	m.active[sessionID] = pending
	m.mu.Unlock()

	conv, err := m.dial(ctx, c, sessionID, vars)
	m.mu.Lock()
	if err != nil {
		delete(m.active, sessionID)
	} else {
		m.active[sessionID] = conv
	}
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	go m.pump(context.WithoutCancel(ctx), c, sessionID, conv)

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()
	select {
	case <-conv.connected:
		observe.Logger(ctx).Info("live conversation started", "session_id", sessionID, "conversation_id", conv.live.ConversationID())
		return conv.live.ConversationID(), nil
	case <-conv.done:
		if err := conv.live.Err(); err != nil {
			return "", fmt.Errorf("app: live: %w", err)
		}
		return "", errors.New("app: live: conversation ended before it was accepted")
	case <-timer.C:
		_ = m.StopLive(ctx, sessionID)
		return "", fmt.Errorf("app: live: no conversation metadata after %v", m.connectTimeout)
	case <-ctx.Done():
		_ = m.StopLive(context.WithoutCancel(ctx), sessionID)
		return "", ctx.Err()
	}
}

func (m *LiveManager) dial(ctx context.Context, c *core, sessionID string, vars map[string]string) (*conversation, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.StatusRecording {
		return nil, fmt.Errorf("%w: live capture needs a recording session, %s is %s", session.ErrInvalidState, sessionID, sess.Status)
	}

	signed, err := c.agents.GetSignedWebSocketURL(ctx, store.AgentKey{
		UserID:           sess.UserID,
		Profession:       sess.Profession,
		CustomProfession: sess.CustomProfession,
	}, vars)
	if err != nil {
		return nil, err
	}

	ls, err := live.Dial(ctx, live.Config{
		URL:              signed.URL,
		DynamicVariables: signed.DynamicVariables,
		Session: assistant.SessionContext{
			UserID:           sess.UserID,
			LeadID:           sess.LeadID,
			Profession:       sess.Profession,
			CustomProfession: sess.CustomProfession,
		},
		SessionID: sessionID,
	},
		live.WithTools(c.tools),
		live.WithAssistant(c.router),
		live.WithDetector(c.detector),
		live.WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: live: %w", err)
	}
	return &conversation{
		live:      ls,
		started:   time.Now(),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// pump drains the conversation's events until the connection ends.
func (m *LiveManager) pump(ctx context.Context, c *core, sessionID string, conv *conversation) {
	defer func() {
		m.mu.Lock()
		if m.active[sessionID] == conv {
			delete(m.active, sessionID)
		}
		m.mu.Unlock()
		close(conv.done)
	}()
	log := observe.Logger(ctx).With("session_id", sessionID)

	var (
		lastEnd   float64
		connected bool
	)
	for ev := range conv.live.Events() {
		switch ev.Kind {
		case live.EventConnected:
			if !connected {
				connected = true
				close(conv.connected)
			}

		case live.EventUserTranscript:
			if c.detector.ContainsWakeWord(ev.Text) {
				continue
			}
			end := max(ev.At.Sub(conv.started).Seconds(), lastEnd)
			u := session.Utterance{Text: ev.Text, Start: lastEnd, End: end}
			lastEnd = end
			if _, err := c.sessions.AppendTranscript(ctx, sessionID, []session.Utterance{u}); err != nil {
				log.Warn("live transcript not stored", "err", err)
				if errors.Is(err, session.ErrInvalidState) || errors.Is(err, store.ErrNotFound) {
					// The session stopped recording; nothing more can land.
					_ = conv.live.Close()
				}
			}

		case live.EventToolCall:
			log.Debug("live tool call answered", "tool", ev.Tool)

		case live.EventAssistantAnswer:
			log.Info("wake-word query answered", "sources", len(ev.Answer.Sources))

		case live.EventError:
			log.Warn("live conversation error", "err", ev.Err)
		}
	}
	_ = conv.live.Close()
	log.Info("live conversation ended", "conversation_id", conv.live.ConversationID())
}

// StopLive hangs up the session's conversation and waits for its events to
// drain.
func (m *LiveManager) StopLive(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	conv, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok || conv.live == nil {
		return fmt.Errorf("app: live conversation for session %s: %w", sessionID, store.ErrNotFound)
	}
	return m.stop(ctx, conv)
}

func (m *LiveManager) stop(ctx context.Context, conv *conversation) error {
	err := conv.live.Close()
	select {
	case <-conv.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Active returns the IDs of sessions with a running conversation, sorted.
func (m *LiveManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id, conv := range m.active {
		if conv.live != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// StopAll hangs up every conversation.
func (m *LiveManager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	convs := make([]*conversation, 0, len(m.active))
	for _, conv := range m.active {
		if conv.live != nil {
			convs = append(convs, conv)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, conv := range convs {
		if err := m.stop(ctx, conv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
