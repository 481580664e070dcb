// Package live drives one conversation with a hosted voice agent over the
// signed WebSocket URL minted by the voice agent manager.
//
// The client sends the initiation payload with the session's dynamic
// variables, keeps the connection alive by answering pings, executes
// client-side tool calls through the clinical tool registry and surfaces
// transcripts as [Event] values. A practitioner utterance that contains the
// wake word is also routed through the in-session assistant.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/tools"
	"github.com/docpen/scribe/internal/wakeword"
	"github.com/docpen/scribe/pkg/types"
)

const (
	defaultEventBuffer = 32
	readLimit          = 1 << 20
	writeTimeout       = 5 * time.Second
)

// ErrClosed is returned when sending on a closed session.
var ErrClosed = errors.New("live: session closed")

// EventKind classifies an [Event].
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventUserTranscript  EventKind = "user_transcript"
	EventAgentResponse   EventKind = "agent_response"
	EventAudio           EventKind = "audio"
	EventInterruption    EventKind = "interruption"
	EventToolCall        EventKind = "tool_call"
	EventAssistantAnswer EventKind = "assistant_answer"
	EventError           EventKind = "error"
)

// Event is something that happened during the conversation.
type Event struct {
	Kind EventKind
	Text string

	// Audio holds decoded agent speech for EventAudio.
	Audio []byte

	// Tool and ToolResult are set for EventToolCall.
	Tool       string
	ToolResult *tools.Result

	// Answer is set for EventAssistantAnswer.
	Answer *types.AssistantResponse

	Err error
	At  time.Time
}

// ToolExecutor runs a client-side tool call. [*tools.Registry] satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage, env tools.Env) (*tools.Result, error)
}

// Assistant answers wake-word queries. [*assistant.Router] satisfies it.
type Assistant interface {
	Route(ctx context.Context, q types.AssistantQuery, sc assistant.SessionContext) (*types.AssistantResponse, error)
}

var (
	_ ToolExecutor = (*tools.Registry)(nil)
	_ Assistant    = (*assistant.Router)(nil)
)

// Config identifies the conversation to join.
type Config struct {
	// URL is the signed WebSocket URL.
	URL string

	// DynamicVariables are sent in the initiation payload.
	DynamicVariables map[string]string

	Session   assistant.SessionContext
	SessionID string
}

// Option configures a [Session].
type Option func(*Session)

// WithTools sets the executor for client tool calls. Without one every call is
// answered with an error result.
func WithTools(t ToolExecutor) Option {
	return func(s *Session) { s.tools = t }
}

// WithAssistant enables wake-word routing of practitioner utterances.
func WithAssistant(a Assistant) Option {
	return func(s *Session) { s.assistant = a }
}

// WithDetector replaces the default wake-word detector.
func WithDetector(d *wakeword.Detector) Option {
	return func(s *Session) { s.detector = d }
}

// WithMetrics records the open connection gauge on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// Session is one live conversation. Callers must drain [Session.Events] or
// call [Session.Close]; undelivered events block background work until then.
type Session struct {
	cfg       Config
	conn      *websocket.Conn
	tools     ToolExecutor
	assistant Assistant
	detector  *wakeword.Detector
	metrics   *observe.Metrics
	bufSize   int

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu             sync.Mutex
	transcript     strings.Builder
	conversationID string
	errVal         error

	closeOnce sync.Once
}

// Dial connects to cfg.URL and sends the initiation payload. The returned
// session is already reading.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("live: dial: empty URL")
	}
	s := &Session{
		cfg:      cfg,
		detector: wakeword.New(),
		bufSize:  defaultEventBuffer,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	s.conn = conn
	s.events = make(chan Event, s.bufSize)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	vars := cfg.DynamicVariables
	if vars == nil {
		vars = map[string]string{}
	}
	if err := s.writeJSON(initiationMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: vars,
	}); err != nil {
		s.cancel()
		conn.Close(websocket.StatusInternalError, "initiation failed")
		return nil, fmt.Errorf("live: initiation: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ActiveLiveSessions.Add(s.ctx, 1)
	}
	observe.Logger(ctx).Info("live session connected", "user_id", cfg.Session.UserID, "session_id", cfg.SessionID)

	go s.receiveLoop()
	return s, nil
}

// Events returns the event stream. It is closed after the connection ends and
// all in-flight tool calls and assistant queries have finished.
func (s *Session) Events() <-chan Event { return s.events }

// ConversationID is the provider's identifier, known once the server has
// acknowledged the initiation payload.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Transcript returns the conversation so far, one line per turn.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Err returns the error that ended the read loop, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SendText sends a typed practitioner message.
func (s *Session) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("live: send text: empty message")
	}
	return s.send(ctx, userMessage{Type: "user_message", Text: text})
}

// SendAudio sends one chunk of 16 kHz PCM16 microphone audio.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.send(ctx, audioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

// Close ends the conversation and waits for background work to stop. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.done
		if s.metrics != nil {
			s.metrics.ActiveLiveSessions.Add(context.Background(), -1)
		}
	})
	return nil
}

func (s *Session) send(ctx context.Context, v any) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: write: %w", err)
	}
	return nil
}

func (s *Session) writeJSON(v any) error {
	return s.send(s.ctx, v)
}

func (s *Session) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *Session) appendTurn(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(&s.transcript, "%s: %s\n", speaker, text)
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}
