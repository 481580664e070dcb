package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/tools"
	"github.com/docpen/scribe/pkg/types"
)

// Transcript labels. User transcripts come from a single room microphone and
// carry no speaker role.
const (
	roomSpeaker  = "Room"
	agentSpeaker = "Docpen"
)

// ── Outgoing ─────────────────────────────────────────────────────────────────

type initiationMessage struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

type toolResultMessage struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type userMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// ── Incoming ─────────────────────────────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMs  int64 `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Audio *struct {
		Base64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`

	ToolCall *struct {
		Name       string          `json:"tool_name"`
		ID         string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call,omitempty"`
}

// receiveLoop owns the events channel and closes it on exit, after every
// dispatched tool call and assistant query has returned.
func (s *Session) receiveLoop() {
	defer close(s.done)
	defer func() {
		s.wg.Wait()
		close(s.events)
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(err)
				s.emit(Event{Kind: EventError, Err: err})
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			observe.Logger(s.ctx).Debug("live: dropping malformed event", "err", err)
			continue
		}
		s.handle(&evt)
	}
}

func (s *Session) handle(evt *serverEvent) {
	switch evt.Type {
	case "conversation_initiation_metadata":
		if evt.Metadata != nil {
			s.mu.Lock()
			s.conversationID = evt.Metadata.ConversationID
			s.mu.Unlock()
		}
		s.emit(Event{Kind: EventConnected, Text: s.ConversationID()})

	case "ping":
		var id int64
		if evt.Ping != nil {
			id = evt.Ping.EventID
		}
		if err := s.writeJSON(pongMessage{Type: "pong", EventID: id}); err != nil {
			observe.Logger(s.ctx).Warn("live: pong failed", "err", err)
		}

	case "user_transcript":
		if evt.UserTranscript == nil || evt.UserTranscript.Text == "" {
			return
		}
		text := evt.UserTranscript.Text
		s.appendTurn(roomSpeaker, text)
		s.emit(Event{Kind: EventUserTranscript, Text: text})
		s.maybeRouteQuery(text)

	case "agent_response":
		if evt.AgentResponse == nil || evt.AgentResponse.Text == "" {
			return
		}
		s.appendTurn(agentSpeaker, evt.AgentResponse.Text)
		s.emit(Event{Kind: EventAgentResponse, Text: evt.AgentResponse.Text})

	case "audio":
		if evt.Audio == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Audio.Base64)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(Event{Kind: EventAudio, Audio: pcm})

	case "interruption":
		s.emit(Event{Kind: EventInterruption})

	case "client_tool_call":
		if evt.ToolCall == nil {
			return
		}
		call := *evt.ToolCall
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTool(call.ID, call.Name, call.Parameters)
		}()
	}
}

func (s *Session) runTool(callID, name string, args json.RawMessage) {
	var res *tools.Result
	if s.tools == nil {
		res = &tools.Result{Content: "no tools are available in this session", IsError: true}
	} else {
		var err error
		res, err = s.tools.Execute(s.ctx, name, args, s.env())
		if err != nil {
			res = &tools.Result{Content: err.Error(), IsError: true}
		}
	}

	if err := s.writeJSON(toolResultMessage{
		Type:       "client_tool_result",
		ToolCallID: callID,
		Result:     res.Content,
		IsError:    res.IsError,
	}); err != nil && !errors.Is(err, ErrClosed) {
		observe.Logger(s.ctx).Warn("live: tool result not delivered", "tool", name, "err", err)
	}
	s.emit(Event{Kind: EventToolCall, Tool: name, ToolResult: res})
}

// maybeRouteQuery sends the text after the wake word to the assistant. An
// utterance that is only the wake word is ignored.
func (s *Session) maybeRouteQuery(text string) {
	if s.assistant == nil {
		return
	}
	query, ok := s.detector.ExtractQueryAfterWakeWord(text)
	if !ok || query == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.assistant.Route(s.ctx, types.AssistantQuery{
			Text:              query,
			SessionID:         s.cfg.SessionID,
			CurrentTranscript: s.Transcript(),
		}, s.cfg.Session)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				observe.Logger(s.ctx).Warn("live: assistant query failed", "user_id", s.cfg.Session.UserID, "err", err)
				s.emit(Event{Kind: EventError, Text: query, Err: err})
			}
			return
		}
		s.emit(Event{Kind: EventAssistantAnswer, Text: query, Answer: resp})
	}()
}

func (s *Session) env() tools.Env {
	return tools.Env{
		Session:    s.cfg.Session,
		SessionID:  s.cfg.SessionID,
		Transcript: s.Transcript(),
	}
}
