// Package session runs the lifecycle of a recorded consultation: capture and
// diarization of the transcript, note synthesis, revision, signing and
// retirement.
//
//	RECORDING → PROCESSING → REVIEW_PENDING → SIGNED
//
// Any non-terminal session may also be ARCHIVED or CANCELLED. Note versions
// are append-only; a signed session is immutable.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docpen/scribe/internal/diarize"
	"github.com/docpen/scribe/internal/note"
	"github.com/docpen/scribe/internal/observe"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/pkg/provider/stt"
	"github.com/docpen/scribe/pkg/types"
)

var (
	// ErrInvalidState is returned for an operation the session's status does
	// not allow.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrEmptyNote is returned when synthesis produced no core section. The
	// session stays in PROCESSING so the caller can retry.
	ErrEmptyNote = note.ErrEmptyNote

	// ErrNoNote is returned when an operation needs a note version and the
	// session has none.
	ErrNoNote = errors.New("session: no note version")

	// ErrNoSTT is returned by Transcribe when no speech-to-text provider is
	// configured.
	ErrNoSTT = errors.New("session: no speech-to-text provider")
)

var transitions = map[types.SessionStatus][]types.SessionStatus{
	types.StatusRecording:     {types.StatusProcessing},
	types.StatusProcessing:    {types.StatusReviewPending},
	types.StatusReviewPending: {types.StatusSigned},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to types.SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == types.StatusArchived || to == types.StatusCancelled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Synthesizer writes and revises notes. [note.Synthesizer] implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, in note.Input) (*types.StructuredNote, error)
	RegenerateSection(ctx context.Context, in note.RegenerateInput) (string, error)
}

// HistorySource renders prior records for a patient.
type HistorySource interface {
	Digest(ctx context.Context, leadID string) (string, error)
}

// StartInput opens a session.
type StartInput struct {
	UserID           string
	LeadID           string
	PatientName      string
	ChiefComplaint   string
	Profession       types.Profession
	CustomProfession string
	Language         string
}

// Utterance is one line of live transcript, timed in seconds from the start
// of the recording.
type Utterance struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// Option configures a Service.
type Option func(*Service)

// WithSTT enables [Service.Transcribe].
func WithSTT(p stt.Provider) Option {
	return func(s *Service) { s.stt = p }
}

// WithPatternTable replaces the embedded diarization table.
func WithPatternTable(t *diarize.Table) Option {
	return func(s *Service) { s.table = t }
}

// WithLocks shares a per-session lock table with other services over the
// same store.
func WithLocks(l *Locks) Option {
	return func(s *Service) { s.locks = l }
}

// WithHistory adds a patient history digest to synthesis input.
func WithHistory(h HistorySource) Option {
	return func(s *Service) { s.history = h }
}

// Service implements the session operations. Operations on one session are
// serialized; different sessions proceed independently.
type Service struct {
	store   store.SessionStore
	synth   Synthesizer
	stt     stt.Provider
	table   *diarize.Table
	history HistorySource
	now     func() time.Time
	locks   *Locks
}

// NewService returns a Service.
func NewService(s store.SessionStore, synth Synthesizer, opts ...Option) *Service {
	svc := &Service{store: s, synth: synth, now: time.Now}
	for _, o := range opts {
		o(svc)
	}
	if svc.table == nil {
		svc.table = diarize.DefaultTable()
	}
	if svc.locks == nil {
		svc.locks = NewLocks()
	}
	return svc
}

func (s *Service) lock(id string) func() { return s.locks.lock(id) }

func (s *Service) classifier(sess *types.Session) *diarize.Classifier {
	return diarize.New(
		diarize.WithPatterns(s.table.For(sess.Profession)),
		diarize.WithLabels(s.table.Labels),
	)
}

// Start creates a session in RECORDING.
func (s *Service) Start(ctx context.Context, in StartInput) (*types.Session, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("session: start: user id is required")
	}
	if in.Profession == "" {
		in.Profession = types.ProfessionGeneralPractice
	}
	sess := &types.Session{
		UserID:           in.UserID,
		LeadID:           in.LeadID,
		PatientName:      in.PatientName,
		ChiefComplaint:   in.ChiefComplaint,
		Profession:       in.Profession,
		CustomProfession: in.CustomProfession,
		Language:         in.Language,
		Status:           types.StatusRecording,
		Segments:         []types.Segment{},
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}
	observe.Logger(ctx).Info("session started", "session_id", sess.ID, "user_id", sess.UserID, "profession", sess.Profession)
	return sess, nil
}

// Get returns the session.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: get %q: %w", id, err)
	}
	return sess, nil
}

// Versions lists every note version, oldest first.
func (s *Service) Versions(ctx context.Context, id string) ([]types.NoteVersion, error) {
	vs, err := s.store.NoteVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: versions of %q: %w", id, err)
	}
	return vs, nil
}

// AppendTranscript diarizes utterances in order, continuing from the last
// stored segment, and appends them. Only a RECORDING session accepts
// transcript.
func (s *Service) AppendTranscript(ctx context.Context, id string, utterances []Utterance) ([]types.Segment, error) {
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusRecording)
	if err != nil {
		return nil, err
	}
	seq := s.classifier(sess).NewSequence(lastRole(sess.Segments), 0)
	added := make([]types.Segment, 0, len(utterances))
	for _, u := range utterances {
		if seg, ok := seq.Next(u.Text, u.Start, u.End, u.Confidence); ok {
			added = append(added, seg)
		}
	}
	if len(added) == 0 {
		return added, nil
	}
	if err := s.appendSegments(ctx, sess, added, 0); err != nil {
		return nil, err
	}
	return added, nil
}

// Transcribe sends a recorded chunk to the speech-to-text provider, diarizes
// the result and appends it. Timestamps continue from the session's current
// duration.
func (s *Service) Transcribe(ctx context.Context, id string, req stt.Request) ([]types.Segment, error) {
	if s.stt == nil {
		return nil, ErrNoSTT
	}
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusRecording)
	if err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = sess.Language
	}

	ctx, span := observe.StartSpan(ctx, "session.Transcribe")
	defer span.End()
	res, err := s.stt.Transcribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session: transcribe: %w", err)
	}

	offset := sess.Duration
	added := s.classifier(sess).NewSequence(lastRole(sess.Segments), offset).FromResult(ctx, res)
	chunk := 0.0
	if res != nil {
		chunk = res.Duration
		if sess.Language == "" {
			sess.Language = res.Language
		}
	}
	if chunk == 0 && len(added) > 0 {
		chunk = added[len(added)-1].EndTime - offset
	}
	if err := s.appendSegments(ctx, sess, added, chunk); err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Service) appendSegments(ctx context.Context, sess *types.Session, segs []types.Segment, chunk float64) error {
	sess.Segments = append(sess.Segments, segs...)
	if chunk > 0 {
		sess.Duration += chunk
	} else if n := len(sess.Segments); n > 0 && sess.Segments[n-1].EndTime > sess.Duration {
		sess.Duration = sess.Segments[n-1].EndTime
	}
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("session: append transcript: %w", err)
	}
	return nil
}

// Complete ends recording and synthesizes the first note version. On a
// synthesis error or an empty note the session stays in PROCESSING and
// Complete may be called again.
func (s *Service) Complete(ctx context.Context, id string) (*types.NoteVersion, error) {
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusRecording, types.StatusProcessing)
	if err != nil {
		return nil, err
	}
	log := observe.Logger(ctx).With("session_id", id)

	if sess.Status == types.StatusRecording {
		if err := s.setStatus(ctx, sess, types.StatusProcessing); err != nil {
			return nil, err
		}
	}

	in := note.Input{
		Segments:         diarize.Merge(sess.Segments),
		Profession:       sess.Profession,
		CustomProfession: sess.CustomProfession,
		PatientName:      sess.PatientName,
		ChiefComplaint:   sess.ChiefComplaint,
	}
	if s.history != nil && sess.LeadID != "" {
		digest, err := s.history.Digest(ctx, sess.LeadID)
		if err != nil {
			log.Warn("patient history unavailable for synthesis", "lead_id", sess.LeadID, "err", err)
		} else {
			in.History = digest
		}
	}

	n, err := s.synth.Synthesize(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("session: complete: %w", err)
	}
	if n.IsEmpty() {
		log.Warn("synthesized note is empty, session left in processing")
		return nil, ErrEmptyNote
	}

	v, err := s.addVersion(ctx, sess, *n, "initial synthesis")
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, sess, types.StatusReviewPending); err != nil {
		return nil, err
	}
	log.Info("note synthesized", "version", v.Version, "processing_ms", n.ProcessingTimeMs)
	return v, nil
}

// RegenerateSection replaces one section of the current note with newly
// generated text, stored as a new version. Earlier versions are kept.
func (s *Service) RegenerateSection(ctx context.Context, id string, section types.Section, feedback string) (*types.NoteVersion, error) {
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusReviewPending)
	if err != nil {
		return nil, err
	}
	cur, err := s.current(ctx, sess)
	if err != nil {
		return nil, err
	}
	text, err := s.synth.RegenerateSection(ctx, note.RegenerateInput{
		Section:          section,
		Note:             cur.Note,
		Segments:         diarize.Merge(sess.Segments),
		Feedback:         feedback,
		Profession:       sess.Profession,
		CustomProfession: sess.CustomProfession,
	})
	if err != nil {
		return nil, fmt.Errorf("session: regenerate %s: %w", section, err)
	}

	next := cur.Note
	next.Set(section, text)
	return s.addVersion(ctx, sess, next, "regenerated "+string(section))
}

// SuggestSection drafts text for one section without saving anything. It
// works before a note exists, drafting from the transcript alone.
func (s *Service) SuggestSection(ctx context.Context, id string, section types.Section, feedback string) (string, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return "", fmt.Errorf("session: suggest: %w", err)
	}
	if sess.Status.Terminal() {
		return "", fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	}
	var base types.StructuredNote
	if sess.CurrentVersion > 0 {
		cur, err := s.current(ctx, sess)
		if err != nil {
			return "", err
		}
		base = cur.Note
	}
	return s.synth.RegenerateSection(ctx, note.RegenerateInput{
		Section:          section,
		Note:             base,
		Segments:         diarize.Merge(sess.Segments),
		Feedback:         feedback,
		Profession:       sess.Profession,
		CustomProfession: sess.CustomProfession,
	})
}

// ReviseNote stores a practitioner-edited note as a new version.
func (s *Service) ReviseNote(ctx context.Context, id string, n types.StructuredNote, reason string) (*types.NoteVersion, error) {
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusReviewPending)
	if err != nil {
		return nil, err
	}
	if n.IsEmpty() {
		return nil, ErrEmptyNote
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual edit"
	}
	return s.addVersion(ctx, sess, n, reason)
}

// Sign attests the current note version. The session becomes immutable.
func (s *Service) Sign(ctx context.Context, id string) (*types.Session, error) {
	defer s.lock(id)()

	sess, err := s.load(ctx, id, types.StatusReviewPending)
	if err != nil {
		return nil, err
	}
	cur, err := s.current(ctx, sess)
	if err != nil {
		return nil, err
	}

	// Postgres keeps microseconds; the hash must survive a round trip.
	sess.SignedAt = s.now().UTC().Truncate(time.Microsecond)
	hash, err := SignatureHash(sess, cur)
	if err != nil {
		return nil, err
	}
	sess.SignatureHash = hash
	if err := s.setStatus(ctx, sess, types.StatusSigned); err != nil {
		return nil, err
	}
	observe.Logger(ctx).Info("session signed", "session_id", id, "version", cur.Version)
	return sess, nil
}

// Verify recomputes the signature of a signed session and reports whether
// it still matches the stored note.
func (s *Service) Verify(ctx context.Context, id string) (bool, error) {
	sess, err := s.load(ctx, id, types.StatusSigned)
	if err != nil {
		return false, err
	}
	cur, err := s.current(ctx, sess)
	if err != nil {
		return false, err
	}
	hash, err := SignatureHash(sess, cur)
	if err != nil {
		return false, err
	}
	return hash == sess.SignatureHash, nil
}

// Archive retires a session that will not be signed.
func (s *Service) Archive(ctx context.Context, id string) (*types.Session, error) {
	return s.retire(ctx, id, types.StatusArchived)
}

// Cancel abandons a session.
func (s *Service) Cancel(ctx context.Context, id string) (*types.Session, error) {
	return s.retire(ctx, id, types.StatusCancelled)
}

func (s *Service) retire(ctx context.Context, id string, to types.SessionStatus) (*types.Session, error) {
	defer s.lock(id)()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, sess, to); err != nil {
		return nil, err
	}
	return sess, nil
}

// load fetches a session and checks that its status is one of allowed.
func (s *Service) load(ctx context.Context, id string, allowed ...types.SessionStatus) (*types.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, st := range allowed {
		if sess.Status == st {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, sess.Status)
}

func (s *Service) setStatus(ctx context.Context, sess *types.Session, to types.SessionStatus) error {
	if sess.Status != to && !CanTransition(sess.Status, to) {
		return fmt.Errorf("%w: %s cannot move to %s", ErrInvalidState, sess.Status, to)
	}
	sess.Status = to
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("session: set status %s: %w", to, err)
	}
	return nil
}

func (s *Service) current(ctx context.Context, sess *types.Session) (*types.NoteVersion, error) {
	if sess.CurrentVersion == 0 {
		return nil, ErrNoNote
	}
	v, err := s.store.NoteVersion(ctx, sess.ID, sess.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("session: current version: %w", err)
	}
	return v, nil
}

func (s *Service) addVersion(ctx context.Context, sess *types.Session, n types.StructuredNote, reason string) (*types.NoteVersion, error) {
	v := &types.NoteVersion{
		SessionID: sess.ID,
		Version:   sess.CurrentVersion + 1,
		Note:      n,
		Reason:    reason,
	}
	if err := s.store.AddNoteVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("session: add version: %w", err)
	}
	sess.CurrentVersion = v.Version
	return v, nil
}

func lastRole(segs []types.Segment) *types.SpeakerRole {
	if len(segs) == 0 {
		return nil
	}
	r := segs[len(segs)-1].Role
	return &r
}
