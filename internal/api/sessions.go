package api

import (
	"net/http"
	"strings"

	"github.com/docpen/scribe/internal/session"
	"github.com/docpen/scribe/pkg/types"
)

type sessionHandler func(svc *session.Service, w http.ResponseWriter, r *http.Request) error

// sessions answers 501 for every session route when no service is wired.
func (s *Server) sessions(fn sessionHandler) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if s.d.Sessions == nil {
			return errNotConfigured
		}
		return fn(s.d.Sessions, w, r)
	}
}

type startRequest struct {
	UserID           string           `json:"userId"`
	LeadID           string           `json:"leadId"`
	PatientName      string           `json:"patientName"`
	ChiefComplaint   string           `json:"chiefComplaint"`
	Profession       types.Profession `json:"profession"`
	CustomProfession string           `json:"customProfession"`
	Language         string           `json:"language"`
}

func (s *Server) startSession(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return badRequest("userId is required")
	}
	sess, err := svc.Start(r.Context(), session.StartInput(req))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, sess)
	return nil
}

func (s *Server) getSession(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sess, err := svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

func (s *Server) listVersions(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	vs, err := svc.Versions(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	if vs == nil {
		vs = []types.NoteVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": vs})
	return nil
}

// ---- capture ----

type utterance struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type transcriptRequest struct {
	Utterances []utterance `json:"utterances"`
}

type segmentsResponse struct {
	Segments []types.Segment `json:"segments"`
}

func (s *Server) appendTranscript(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	in := make([]session.Utterance, len(req.Utterances))
	for i, u := range req.Utterances {
		in[i] = session.Utterance(u)
	}
	segs, err := svc.AppendTranscript(r.Context(), r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, segmentsResponse{Segments: orEmpty(segs)})
	return nil
}

func (s *Server) uploadAudio(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	up, done, err := s.readAudio(w, r)
	if err != nil {
		return err
	}
	defer done()
	segs, err := svc.Transcribe(r.Context(), r.PathValue("id"), up.req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, segmentsResponse{Segments: orEmpty(segs)})
	return nil
}

func orEmpty(segs []types.Segment) []types.Segment {
	if segs == nil {
		return []types.Segment{}
	}
	return segs
}

// ---- notes ----

func (s *Server) complete(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	v, err := svc.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) regenerateSessionSection(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sec, err := pathSection(r)
	if err != nil {
		return err
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	v, err := svc.RegenerateSection(r.Context(), r.PathValue("id"), sec, req.Feedback)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

// suggestSessionSection drafts a replacement without storing a version.
func (s *Server) suggestSessionSection(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sec, err := pathSection(r)
	if err != nil {
		return err
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	text, err := svc.SuggestSection(r.Context(), r.PathValue("id"), sec, req.Feedback)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sectionResponse{Section: sec, Content: text})
	return nil
}

type reviseRequest struct {
	Note   types.StructuredNote `json:"note"`
	Reason string               `json:"reason"`
}

func (s *Server) reviseNote(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	var req reviseRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	v, err := svc.ReviseNote(r.Context(), r.PathValue("id"), req.Note, req.Reason)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

// ---- signing and retirement ----

func (s *Server) sign(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sess, err := svc.Sign(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (s *Server) verify(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	ok, err := svc.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: ok})
	return nil
}

func (s *Server) archive(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sess, err := svc.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

func (s *Server) cancel(svc *session.Service, w http.ResponseWriter, r *http.Request) error {
	sess, err := svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

// ---- live conversation ----

type liveRequest struct {
	DynamicVariables map[string]string `json:"dynamicVariables"`
}

type liveResponse struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) startLive(w http.ResponseWriter, r *http.Request) error {
	if s.d.Live == nil {
		return errNotConfigured
	}
	var req liveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
	}
	id, err := s.d.Live.StartLive(r.Context(), r.PathValue("id"), req.DynamicVariables)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, liveResponse{ConversationID: id})
	return nil
}

func (s *Server) stopLive(w http.ResponseWriter, r *http.Request) error {
	if s.d.Live == nil {
		return errNotConfigured
	}
	if err := s.d.Live.StopLive(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
