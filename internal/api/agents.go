package api

import (
	"net/http"
	"strings"

	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/internal/voiceagent"
	"github.com/docpen/scribe/pkg/types"
)

type agentRequest struct {
	UserID           string            `json:"userId"`
	Profession       types.Profession  `json:"profession"`
	CustomProfession string            `json:"customProfession"`
	PractitionerName string            `json:"practitionerName"`
	ClinicName       string            `json:"clinicName"`
	SessionContext   string            `json:"sessionContext"`
	VoiceGender      voiceagent.Gender `json:"voiceGender"`
	VoiceTone        voiceagent.Tone   `json:"voiceTone"`
	Language         string            `json:"language"`
}

func (a agentRequest) config() (voiceagent.AgentConfig, error) {
	if strings.TrimSpace(a.UserID) == "" {
		return voiceagent.AgentConfig{}, badRequest("userId is required")
	}
	if a.Profession == "" {
		return voiceagent.AgentConfig{}, badRequest("profession is required")
	}
	return voiceagent.AgentConfig{
		UserID:           a.UserID,
		Profession:       a.Profession,
		CustomProfession: a.CustomProfession,
		PractitionerName: a.PractitionerName,
		ClinicName:       a.ClinicName,
		SessionContext:   a.SessionContext,
		VoiceGender:      a.VoiceGender,
		VoiceTone:        a.VoiceTone,
		Language:         a.Language,
	}, nil
}

type agentResponse struct {
	AgentID string `json:"agentId"`
}

func (s *Server) provisionAgent(w http.ResponseWriter, r *http.Request) error {
	if s.d.Agents == nil {
		return errNotConfigured
	}
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	cfg, err := req.config()
	if err != nil {
		return err
	}
	id, err := s.d.Agents.GetOrCreateAgent(r.Context(), cfg)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, agentResponse{AgentID: id})
	return nil
}

// updateAgentContext is fire-and-forget: refresh failures are logged by the
// manager and the caller always gets 202.
func (s *Server) updateAgentContext(w http.ResponseWriter, r *http.Request) error {
	if s.d.Agents == nil {
		return errNotConfigured
	}
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	cfg, err := req.config()
	if err != nil {
		return err
	}
	s.d.Agents.UpdateAgentContext(r.Context(), cfg)
	w.WriteHeader(http.StatusAccepted)
	return nil
}

type signedURLRequest struct {
	UserID           string            `json:"userId"`
	Profession       types.Profession  `json:"profession"`
	CustomProfession string            `json:"customProfession"`
	Variables        map[string]string `json:"dynamicVariables"`
}

type signedURLResponse struct {
	URL              string            `json:"signedUrl"`
	AgentID          string            `json:"agentId"`
	DynamicVariables map[string]string `json:"dynamicVariables"`
}

func (s *Server) signedURL(w http.ResponseWriter, r *http.Request) error {
	if s.d.Agents == nil {
		return errNotConfigured
	}
	var req signedURLRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return badRequest("userId is required")
	}
	sess, err := s.d.Agents.GetSignedWebSocketURL(r.Context(), store.AgentKey{
		UserID:           req.UserID,
		Profession:       req.Profession,
		CustomProfession: req.CustomProfession,
	}, req.Variables)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, signedURLResponse{
		URL:              sess.URL,
		AgentID:          sess.AgentID,
		DynamicVariables: sess.DynamicVariables,
	})
	return nil
}

// deleteAgent takes its key from the query string:
// ?userId=…&profession=…&customProfession=….
func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) error {
	if s.d.Agents == nil {
		return errNotConfigured
	}
	q := r.URL.Query()
	key := store.AgentKey{
		UserID:           strings.TrimSpace(q.Get("userId")),
		Profession:       types.Profession(q.Get("profession")),
		CustomProfession: q.Get("customProfession"),
	}
	if key.UserID == "" || key.Profession == "" {
		return badRequest("userId and profession are required")
	}
	if err := s.d.Agents.DeleteAgent(r.Context(), key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
