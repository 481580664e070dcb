package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docpen/scribe/pkg/types"
)

// Schema is the DDL for every table the service owns. Apply it with
// [PostgresStore.Migrate] or during deployment.
//
// The partial unique index on voice_agents is what makes agent creation an
// atomic find-or-create: a second active row for the same key fails with a
// unique violation.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_agents (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    profession        TEXT NOT NULL,
    custom_profession TEXT NOT NULL DEFAULT '',
    agent_id          TEXT NOT NULL,
    voice_id          TEXT NOT NULL DEFAULT '',
    system_prompt     TEXT NOT NULL DEFAULT '',
    is_active         BOOLEAN NOT NULL DEFAULT true,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_voice_agents_active
    ON voice_agents (user_id, profession, custom_profession) WHERE is_active;

CREATE TABLE IF NOT EXISTS user_credentials (
    user_id             TEXT PRIMARY KEY,
    voice_agent_api_key TEXT NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clinical_sessions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    lead_id           TEXT NOT NULL DEFAULT '',
    patient_name      TEXT NOT NULL DEFAULT '',
    chief_complaint   TEXT NOT NULL DEFAULT '',
    profession        TEXT NOT NULL,
    custom_profession TEXT NOT NULL DEFAULT '',
    language          TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL,
    segments          JSONB NOT NULL DEFAULT '[]',
    duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_version   INTEGER NOT NULL DEFAULT 0,
    signature_hash    TEXT NOT NULL DEFAULT '',
    signed_at         TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_clinical_sessions_signed
    ON clinical_sessions (lead_id, signed_at DESC) WHERE status = 'SIGNED';

CREATE TABLE IF NOT EXISTS note_versions (
    session_id TEXT NOT NULL REFERENCES clinical_sessions (id) ON DELETE CASCADE,
    version    INTEGER NOT NULL,
    note       JSONB NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, version)
);

CREATE TABLE IF NOT EXISTS lead_notes (
    id         TEXT PRIMARY KEY,
    lead_id    TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_lead_notes_lead ON lead_notes (lead_id, created_at DESC);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements [Store] on PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db. Call [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies [Schema]. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ── Voice agents ─────────────────────────────────────────────────────────────

const agentColumns = `id, user_id, profession, custom_profession, agent_id, voice_id,
       system_prompt, is_active, created_at, updated_at`

func (s *PostgresStore) FindActiveAgent(ctx context.Context, key AgentKey) (*types.VoiceAgentRecord, error) {
	const query = `SELECT ` + agentColumns + `
		FROM voice_agents
		WHERE user_id = $1 AND profession = $2 AND custom_profession = $3 AND is_active`

	var rec types.VoiceAgentRecord
	var profession string
	err := s.db.QueryRow(ctx, query, key.UserID, string(key.Profession), key.CustomProfession).Scan(
		&rec.ID, &rec.UserID, &profession, &rec.CustomProfession, &rec.AgentID, &rec.VoiceID,
		&rec.SystemPrompt, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: find active agent: %w", err)
	}
	rec.Profession = types.Profession(profession)
	return &rec, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, rec *types.VoiceAgentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO voice_agents (id, user_id, profession, custom_profession, agent_id, voice_id, system_prompt, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		rec.ID, rec.UserID, string(rec.Profession), rec.CustomProfession, rec.AgentID, rec.VoiceID, rec.SystemPrompt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create agent: %w", err)
	}
	rec.IsActive = true
	return nil
}

func (s *PostgresStore) UpdateAgentPrompt(ctx context.Context, id, prompt string) error {
	const query = `UPDATE voice_agents SET system_prompt = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, prompt)
	if err != nil {
		return fmt.Errorf("store: update agent prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateAgents(ctx context.Context, key AgentKey) (int, error) {
	const query = `
		UPDATE voice_agents SET is_active = false, updated_at = now()
		WHERE user_id = $1 AND profession = $2 AND custom_profession = $3 AND is_active`
	tag, err := s.db.Exec(ctx, query, key.UserID, string(key.Profession), key.CustomProfession)
	if err != nil {
		return 0, fmt.Errorf("store: deactivate agents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Credentials ──────────────────────────────────────────────────────────────

func (s *PostgresStore) VoiceAgentAPIKey(ctx context.Context, userID string) (string, error) {
	const query = `SELECT voice_agent_api_key FROM user_credentials WHERE user_id = $1`
	var key string
	if err := s.db.QueryRow(ctx, query, userID).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("store: voice agent api key: %w", err)
	}
	return key, nil
}

// SetVoiceAgentAPIKey stores a per-user override. An empty key removes it.
func (s *PostgresStore) SetVoiceAgentAPIKey(ctx context.Context, userID, key string) error {
	var err error
	if key == "" {
		_, err = s.db.Exec(ctx, `DELETE FROM user_credentials WHERE user_id = $1`, userID)
	} else {
		_, err = s.db.Exec(ctx, `
			INSERT INTO user_credentials (user_id, voice_agent_api_key) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET voice_agent_api_key = EXCLUDED.voice_agent_api_key, updated_at = now()`,
			userID, key)
	}
	if err != nil {
		return fmt.Errorf("store: set voice agent api key: %w", err)
	}
	return nil
}

// ── History ──────────────────────────────────────────────────────────────────

// AddLeadNote stores a free-text patient note.
func (s *PostgresStore) AddLeadNote(ctx context.Context, n *types.LeadNote) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lead_notes (id, lead_id, content, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, query, n.ID, n.LeadID, n.Content, n.CreatedAt); err != nil {
		return fmt.Errorf("store: add lead note: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentLeadNotes(ctx context.Context, leadID string, limit int) ([]types.LeadNote, error) {
	const query = `
		SELECT id, lead_id, content, created_at
		FROM lead_notes
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.db.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent lead notes: %w", err)
	}
	defer rows.Close()

	notes := []types.LeadNote{}
	for rows.Next() {
		var n types.LeadNote
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: recent lead notes scan: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent lead notes: %w", err)
	}
	return notes, nil
}

func (s *PostgresStore) RecentSignedNotes(ctx context.Context, leadID string, limit int) ([]types.SignedNote, error) {
	const query = `
		SELECT s.id, s.signed_at, v.note
		FROM clinical_sessions s
		JOIN note_versions v ON v.session_id = s.id AND v.version = s.current_version
		WHERE s.lead_id = $1 AND s.status = 'SIGNED'
		ORDER BY s.signed_at DESC
		LIMIT $2`
	rows, err := s.db.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent signed notes: %w", err)
	}
	defer rows.Close()

	out := []types.SignedNote{}
	for rows.Next() {
		var sn types.SignedNote
		var noteJSON []byte
		if err := rows.Scan(&sn.SessionID, &sn.SignedAt, &noteJSON); err != nil {
			return nil, fmt.Errorf("store: recent signed notes scan: %w", err)
		}
		if err := json.Unmarshal(noteJSON, &sn.Note); err != nil {
			return nil, fmt.Errorf("store: unmarshal note of session %q: %w", sn.SessionID, err)
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent signed notes: %w", err)
	}
	return out, nil
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	segments, err := marshalSegments(sess.Segments)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO clinical_sessions (
			id, user_id, lead_id, patient_name, chief_complaint, profession, custom_profession,
			language, status, segments, duration_seconds, current_version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`
	err = s.db.QueryRow(ctx, query,
		sess.ID, sess.UserID, sess.LeadID, sess.PatientName, sess.ChiefComplaint,
		string(sess.Profession), sess.CustomProfession, sess.Language, string(sess.Status),
		segments, sess.Duration, sess.CurrentVersion,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	const query = `
		SELECT id, user_id, lead_id, patient_name, chief_complaint, profession, custom_profession,
		       language, status, segments, duration_seconds, current_version, signature_hash,
		       signed_at, created_at, updated_at
		FROM clinical_sessions
		WHERE id = $1`

	var (
		sess               types.Session
		profession, status string
		segments           []byte
		signedAt           *time.Time
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.LeadID, &sess.PatientName, &sess.ChiefComplaint,
		&profession, &sess.CustomProfession, &sess.Language, &status, &segments,
		&sess.Duration, &sess.CurrentVersion, &sess.SignatureHash,
		&signedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session %q: %w", id, err)
	}
	sess.Profession = types.Profession(profession)
	sess.Status = types.SessionStatus(status)
	if signedAt != nil {
		sess.SignedAt = *signedAt
	}
	if err := json.Unmarshal(segments, &sess.Segments); err != nil {
		return nil, fmt.Errorf("store: unmarshal segments of session %q: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	segments, err := marshalSegments(sess.Segments)
	if err != nil {
		return err
	}
	var signedAt *time.Time
	if !sess.SignedAt.IsZero() {
		signedAt = &sess.SignedAt
	}
	const query = `
		UPDATE clinical_sessions SET
			lead_id = $2, patient_name = $3, chief_complaint = $4, language = $5, status = $6,
			segments = $7, duration_seconds = $8, current_version = $9, signature_hash = $10,
			signed_at = $11, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	err = s.db.QueryRow(ctx, query,
		sess.ID, sess.LeadID, sess.PatientName, sess.ChiefComplaint, sess.Language, string(sess.Status),
		segments, sess.Duration, sess.CurrentVersion, sess.SignatureHash, signedAt,
	).Scan(&sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: update session: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddNoteVersion(ctx context.Context, v *types.NoteVersion) error {
	noteJSON, err := json.Marshal(v.Note)
	if err != nil {
		return fmt.Errorf("store: marshal note: %w", err)
	}
	// One statement, so the version and the session pointer land together.
	const query = `
		WITH ins AS (
			INSERT INTO note_versions (session_id, version, note, reason)
			VALUES ($1, $2, $3, $4)
			RETURNING session_id, version, created_at
		), adv AS (
			UPDATE clinical_sessions c
			SET current_version = GREATEST(c.current_version, ins.version), updated_at = now()
			FROM ins WHERE c.id = ins.session_id
		)
		SELECT created_at FROM ins`
	err = s.db.QueryRow(ctx, query, v.SessionID, v.Version, noteJSON, v.Reason).Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: add note version: %w", err)
	}
	return nil
}

func (s *PostgresStore) NoteVersion(ctx context.Context, sessionID string, version int) (*types.NoteVersion, error) {
	const query = `
		SELECT session_id, version, note, reason, created_at
		FROM note_versions WHERE session_id = $1 AND version = $2`
	var v types.NoteVersion
	var noteJSON []byte
	err := s.db.QueryRow(ctx, query, sessionID, version).Scan(&v.SessionID, &v.Version, &noteJSON, &v.Reason, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: note version: %w", err)
	}
	if err := json.Unmarshal(noteJSON, &v.Note); err != nil {
		return nil, fmt.Errorf("store: unmarshal note: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) NoteVersions(ctx context.Context, sessionID string) ([]types.NoteVersion, error) {
	const query = `
		SELECT session_id, version, note, reason, created_at
		FROM note_versions WHERE session_id = $1 ORDER BY version`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: note versions: %w", err)
	}
	defer rows.Close()

	out := []types.NoteVersion{}
	for rows.Next() {
		var v types.NoteVersion
		var noteJSON []byte
		if err := rows.Scan(&v.SessionID, &v.Version, &noteJSON, &v.Reason, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: note versions scan: %w", err)
		}
		if err := json.Unmarshal(noteJSON, &v.Note); err != nil {
			return nil, fmt.Errorf("store: unmarshal note: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: note versions: %w", err)
	}
	return out, nil
}

func marshalSegments(segs []types.Segment) ([]byte, error) {
	if segs == nil {
		segs = []types.Segment{}
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return nil, fmt.Errorf("store: marshal segments: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
