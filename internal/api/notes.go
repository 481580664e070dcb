package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/diarize"
	"github.com/docpen/scribe/internal/note"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/pkg/provider/stt"
	"github.com/docpen/scribe/pkg/types"
)

// ---- transcription ----

// audioUpload is the multipart audio file plus its form fields.
type audioUpload struct {
	req        stt.Request
	profession types.Profession
}

// readAudio parses a multipart body with an "audio" file part. Optional form
// fields: language, profession, sampleRate, channels.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request) (*audioUpload, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.d.MaxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, badRequest("audio exceeds %d bytes", tooLarge.Limit)
		}
		return nil, nil, badRequest("invalid multipart body: %v", err)
	}
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		return nil, nil, badRequest(`missing "audio" file part`)
	}

	up := &audioUpload{
		req: stt.Request{
			Audio:       file,
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Language:    strings.TrimSpace(r.FormValue("language")),
		},
		profession: types.Profession(r.FormValue("profession")),
	}
	if up.req.IsPCM() {
		if up.req.SampleRate, err = formInt(r, "sampleRate"); err != nil {
			file.Close()
			return nil, nil, err
		}
		if up.req.Channels, err = formInt(r, "channels"); err != nil {
			file.Close()
			return nil, nil, err
		}
	}
	return up, func() { file.Close() }, nil
}

func formInt(r *http.Request, key string) (int, error) {
	n, err := strconv.Atoi(r.FormValue(key))
	if err != nil || n <= 0 {
		return 0, badRequest("%s must be a positive integer for PCM audio", key)
	}
	return n, nil
}

func (s *Server) classifier(p types.Profession) *diarize.Classifier {
	return diarize.New(diarize.WithPatterns(s.d.Patterns.For(p)), diarize.WithLabels(s.d.Patterns.Labels))
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) error {
	if s.d.STT == nil {
		return errNotConfigured
	}
	up, done, err := s.readAudio(w, r)
	if err != nil {
		return err
	}
	defer done()

	res, err := s.d.STT.Transcribe(r.Context(), up.req)
	if err != nil {
		return err
	}
	segs := diarize.Merge(s.classifier(up.profession).FromResult(r.Context(), res))
	language := res.Language
	if language == "" {
		language = up.req.Language
	}
	writeJSON(w, http.StatusOK, diarize.Result(segs, res.Duration, language))
	return nil
}

// diarizeRequest carries either provider segments or a flat transcript.
type diarizeRequest struct {
	Text       string           `json:"text"`
	Duration   float64          `json:"duration"`
	Language   string           `json:"language"`
	Segments   []diarizeSegment `json:"segments"`
	Profession types.Profession `json:"profession"`
}

type diarizeSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	AvgLogprob float64 `json:"avgLogprob"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) diarize(w http.ResponseWriter, r *http.Request) error {
	var req diarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	res := &stt.Result{Text: req.Text, Duration: req.Duration, Language: req.Language}
	for _, seg := range req.Segments {
		res.Segments = append(res.Segments, stt.Segment(seg))
	}
	segs := diarize.Merge(s.classifier(req.Profession).FromResult(r.Context(), res))
	writeJSON(w, http.StatusOK, diarize.Result(segs, req.Duration, req.Language))
	return nil
}

// ---- notes ----

type synthesizeRequest struct {
	Segments         []types.Segment  `json:"segments"`
	Profession       types.Profession `json:"profession"`
	CustomProfession string           `json:"customProfession"`
	PatientName      string           `json:"patientName"`
	ChiefComplaint   string           `json:"chiefComplaint"`

	// LeadID adds the patient's history digest when a history source is
	// configured. A failed lookup is logged and skipped.
	LeadID string `json:"leadId"`
}

type noteResponse struct {
	Note     *types.StructuredNote `json:"note"`
	Warnings []string              `json:"warnings,omitempty"`
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request) error {
	if s.d.Notes == nil {
		return errNotConfigured
	}
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	in := note.Input{
		Segments:         diarize.Merge(req.Segments),
		Profession:       req.Profession,
		CustomProfession: req.CustomProfession,
		PatientName:      req.PatientName,
		ChiefComplaint:   req.ChiefComplaint,
	}
	if req.LeadID != "" && s.d.History != nil {
		digest, err := s.d.History.Digest(r.Context(), req.LeadID)
		if err != nil {
			observe.Logger(r.Context()).Warn("api: history digest unavailable", "lead_id", req.LeadID, "err", err)
		}
		in.History = digest
	}

	n, err := s.d.Notes.Synthesize(r.Context(), in)
	if err != nil {
		return err
	}
	if n.IsEmpty() {
		return fmt.Errorf("api: synthesize: %w", note.ErrEmptyNote)
	}
	resp := noteResponse{Note: n}
	for _, warn := range note.Warnings(n) {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

type regenerateRequest struct {
	Note             types.StructuredNote `json:"note"`
	Segments         []types.Segment      `json:"segments"`
	Feedback         string               `json:"feedback"`
	Profession       types.Profession     `json:"profession"`
	CustomProfession string               `json:"customProfession"`
}

type sectionResponse struct {
	Section types.Section `json:"section"`
	Content string        `json:"content"`
}

func pathSection(r *http.Request) (types.Section, error) {
	raw := r.PathValue("section")
	sec, ok := types.ParseSection(raw)
	if !ok {
		return "", badRequest("unknown note section %q", raw)
	}
	return sec, nil
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) error {
	if s.d.Notes == nil {
		return errNotConfigured
	}
	sec, err := pathSection(r)
	if err != nil {
		return err
	}
	var req regenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	text, err := s.d.Notes.RegenerateSection(r.Context(), note.RegenerateInput{
		Section:          sec,
		Note:             req.Note,
		Segments:         diarize.Merge(req.Segments),
		Feedback:         req.Feedback,
		Profession:       req.Profession,
		CustomProfession: req.CustomProfession,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sectionResponse{Section: sec, Content: text})
	return nil
}

// ---- assistant ----

type queryRequest struct {
	types.AssistantQuery
	UserID           string           `json:"userId"`
	LeadID           string           `json:"leadId"`
	Profession       types.Profession `json:"profession"`
	CustomProfession string           `json:"customProfession"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) error {
	if s.d.Assistant == nil {
		return errNotConfigured
	}
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Type != "" && !req.Type.Valid() {
		return badRequest("unknown query type %q", req.Type)
	}
	resp, err := s.d.Assistant.Route(r.Context(), req.AssistantQuery, assistant.SessionContext{
		UserID:           req.UserID,
		LeadID:           req.LeadID,
		Profession:       req.Profession,
		CustomProfession: req.CustomProfession,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}
