// Package store defines the durable-state interfaces of the scribe service and
// provides an in-memory implementation ([MemStore]) and a PostgreSQL one
// ([PostgresStore]).
//
// Records returned by a store are copies; mutating them has no effect until
// they are written back.
package store

import (
	"context"
	"errors"

	"github.com/docpen/scribe/pkg/types"
)

var (
	// ErrNotFound is returned when a lookup by identifier matches nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a write would violate a uniqueness rule:
	// a second active voice agent for the same key, or a repeated note
	// version number.
	ErrDuplicate = errors.New("store: duplicate")
)

// AgentKey identifies the voice agent owned by one user for one profession.
type AgentKey struct {
	UserID           string
	Profession       types.Profession
	CustomProfession string
}

// KeyOf returns the key of rec.
func KeyOf(rec *types.VoiceAgentRecord) AgentKey {
	return AgentKey{UserID: rec.UserID, Profession: rec.Profession, CustomProfession: rec.CustomProfession}
}

// AgentStore persists voice agent records. At most one active record exists
// per [AgentKey]; CreateAgent enforces that atomically.
type AgentStore interface {
	// FindActiveAgent returns the active record for key or ErrNotFound.
	FindActiveAgent(ctx context.Context, key AgentKey) (*types.VoiceAgentRecord, error)

	// CreateAgent inserts rec as active, assigning ID and timestamps when
	// empty. It returns ErrDuplicate if an active record for the key exists.
	CreateAgent(ctx context.Context, rec *types.VoiceAgentRecord) error

	// UpdateAgentPrompt stores the latest system prompt of a record.
	UpdateAgentPrompt(ctx context.Context, id, prompt string) error

	// DeactivateAgents marks every active record for key inactive and returns
	// how many changed.
	DeactivateAgents(ctx context.Context, key AgentKey) (int, error)
}

// CredentialStore holds per-user provider credentials.
type CredentialStore interface {
	// VoiceAgentAPIKey returns the user's override key, or "" when none is set.
	VoiceAgentAPIKey(ctx context.Context, userID string) (string, error)
}

// HistoryStore reads a patient's prior records, newest first.
type HistoryStore interface {
	RecentLeadNotes(ctx context.Context, leadID string, limit int) ([]types.LeadNote, error)

	// RecentSignedNotes returns the current note version of the most recently
	// signed sessions for leadID. Sessions in any other status are excluded.
	RecentSignedNotes(ctx context.Context, leadID string, limit int) ([]types.SignedNote, error)
}

// SessionStore persists clinical sessions and their note versions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, s *types.Session) error

	// AddNoteVersion appends a version and, in the same write, advances the
	// session's CurrentVersion to it when it is newer. Versions are
	// immutable; reusing a version number returns ErrDuplicate.
	AddNoteVersion(ctx context.Context, v *types.NoteVersion) error
	NoteVersion(ctx context.Context, sessionID string, version int) (*types.NoteVersion, error)
	NoteVersions(ctx context.Context, sessionID string) ([]types.NoteVersion, error)
}

// Store is everything the service persists.
type Store interface {
	AgentStore
	CredentialStore
	HistoryStore
	SessionStore
}
