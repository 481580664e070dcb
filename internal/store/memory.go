package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpen/scribe/pkg/types"
)

// MemStore keeps everything in process memory. It is used in tests and when
// no database is configured. Safe for concurrent use.
type MemStore struct {
	mu          sync.Mutex
	agents      map[string]*types.VoiceAgentRecord
	credentials map[string]string
	sessions    map[string]*types.Session
	versions    map[string][]types.NoteVersion
	leadNotes   map[string][]types.LeadNote
	now         func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		agents:      map[string]*types.VoiceAgentRecord{},
		credentials: map[string]string{},
		sessions:    map[string]*types.Session{},
		versions:    map[string][]types.NoteVersion{},
		leadNotes:   map[string][]types.LeadNote{},
		now:         time.Now,
	}
}

// ---- agents ----

func (m *MemStore) FindActiveAgent(_ context.Context, key AgentKey) (*types.VoiceAgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.activeLocked(key); rec != nil {
		cp := *rec
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemStore) activeLocked(key AgentKey) *types.VoiceAgentRecord {
	for _, rec := range m.agents {
		if rec.IsActive && KeyOf(rec) == key {
			return rec
		}
	}
	return nil
}

func (m *MemStore) CreateAgent(_ context.Context, rec *types.VoiceAgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(KeyOf(rec)) != nil {
		return ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := m.now()
	rec.IsActive = true
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	m.agents[rec.ID] = &cp
	return nil
}

func (m *MemStore) UpdateAgentPrompt(_ context.Context, id, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	rec.SystemPrompt = prompt
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) DeactivateAgents(_ context.Context, key AgentKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.agents {
		if rec.IsActive && KeyOf(rec) == key {
			rec.IsActive = false
			rec.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

// Agents returns copies of every record, active or not, oldest first.
func (m *MemStore) Agents() []types.VoiceAgentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.VoiceAgentRecord, 0, len(m.agents))
	for _, rec := range m.agents {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b types.VoiceAgentRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// ---- credentials ----

func (m *MemStore) VoiceAgentAPIKey(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials[userID], nil
}

// SetVoiceAgentAPIKey stores a per-user override. An empty key removes it.
func (m *MemStore) SetVoiceAgentAPIKey(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		delete(m.credentials, userID)
	} else {
		m.credentials[userID] = key
	}
	return nil
}

// ---- history ----

// AddLeadNote stores a free-text patient note.
func (m *MemStore) AddLeadNote(_ context.Context, n *types.LeadNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.leadNotes[n.LeadID] = append(m.leadNotes[n.LeadID], *n)
	return nil
}

func (m *MemStore) RecentLeadNotes(_ context.Context, leadID string, limit int) ([]types.LeadNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := slices.Clone(m.leadNotes[leadID])
	slices.SortStableFunc(notes, func(a, b types.LeadNote) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return truncate(notes, limit), nil
}

func (m *MemStore) RecentSignedNotes(_ context.Context, leadID string, limit int) ([]types.SignedNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SignedNote
	for _, s := range m.sessions {
		if s.LeadID != leadID || s.Status != types.StatusSigned {
			continue
		}
		v, ok := findVersion(m.versions[s.ID], s.CurrentVersion)
		if !ok {
			continue
		}
		out = append(out, types.SignedNote{SessionID: s.ID, SignedAt: s.SignedAt, Note: v.Note})
	}
	slices.SortFunc(out, func(a, b types.SignedNote) int {
		return cmp.Or(b.SignedAt.Compare(a.SignedAt), cmp.Compare(a.SessionID, b.SessionID))
	})
	return truncate(out, limit), nil
}

func truncate[T any](s []T, limit int) []T {
	if s == nil {
		s = []T{}
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}

// ---- sessions ----

func (m *MemStore) CreateSession(_ context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemStore) UpdateSession(_ context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = m.now()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemStore) AddNoteVersion(_ context.Context, v *types.NoteVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[v.SessionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := findVersion(m.versions[v.SessionID], v.Version); ok {
		return ErrDuplicate
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now()
	}
	m.versions[v.SessionID] = append(m.versions[v.SessionID], *v)
	if v.Version > sess.CurrentVersion {
		sess.CurrentVersion = v.Version
		sess.UpdatedAt = v.CreatedAt
	}
	return nil
}

func (m *MemStore) NoteVersion(_ context.Context, sessionID string, version int) (*types.NoteVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := findVersion(m.versions[sessionID], version)
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemStore) NoteVersions(_ context.Context, sessionID string) ([]types.NoteVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.versions[sessionID])
	slices.SortFunc(out, func(a, b types.NoteVersion) int { return cmp.Compare(a.Version, b.Version) })
	if out == nil {
		out = []types.NoteVersion{}
	}
	return out, nil
}

func findVersion(vs []types.NoteVersion, version int) (types.NoteVersion, bool) {
	for _, v := range vs {
		if v.Version == version {
			return v, true
		}
	}
	return types.NoteVersion{}, false
}

func cloneSession(s *types.Session) *types.Session {
	cp := *s
	cp.Segments = slices.Clone(s.Segments)
	return &cp
}
