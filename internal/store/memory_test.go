package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docpen/scribe/pkg/types"
)

func TestMemStore_AgentUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()

	key := AgentKey{UserID: "u1", Profession: types.ProfessionDentist}
	rec := &types.VoiceAgentRecord{UserID: "u1", Profession: types.ProfessionDentist, AgentID: "agent-1"}
	if err := m.CreateAgent(ctx, rec); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if rec.ID == "" || !rec.IsActive || rec.CreatedAt.IsZero() {
		t.Errorf("CreateAgent did not fill record: %+v", rec)
	}

	dup := &types.VoiceAgentRecord{UserID: "u1", Profession: types.ProfessionDentist, AgentID: "agent-2"}
	if err := m.CreateAgent(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second CreateAgent err = %v, want ErrDuplicate", err)
	}

	other := &types.VoiceAgentRecord{UserID: "u1", Profession: types.ProfessionCustom, CustomProfession: "Sleep Medicine", AgentID: "agent-3"}
	if err := m.CreateAgent(ctx, other); err != nil {
		t.Fatalf("CreateAgent for a different custom profession: %v", err)
	}

	got, err := m.FindActiveAgent(ctx, key)
	if err != nil {
		t.Fatalf("FindActiveAgent: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", got.AgentID)
	}
	got.AgentID = "mutated"
	again, _ := m.FindActiveAgent(ctx, key)
	if again.AgentID != "agent-1" {
		t.Error("FindActiveAgent returned shared state")
	}

	n, err := m.DeactivateAgents(ctx, key)
	if err != nil || n != 1 {
		t.Fatalf("DeactivateAgents = %d, %v; want 1, nil", n, err)
	}
	if _, err := m.FindActiveAgent(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActiveAgent after deactivate err = %v, want ErrNotFound", err)
	}
	if err := m.CreateAgent(ctx, dup); err != nil {
		t.Errorf("CreateAgent after deactivate: %v", err)
	}
	if got := len(m.Agents()); got != 3 {
		t.Errorf("records = %d, want 3 (inactive kept)", got)
	}
}

func TestMemStore_ConcurrentCreateAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.CreateAgent(ctx, &types.VoiceAgentRecord{UserID: "u1", Profession: types.ProfessionDentist, AgentID: "a"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrDuplicate):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || dup.Load() != 19 {
		t.Errorf("created = %d, duplicates = %d; want 1 and 19", ok.Load(), dup.Load())
	}
}

func TestMemStore_UpdateAgentPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()

	if err := m.UpdateAgentPrompt(ctx, "missing", "p"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	rec := &types.VoiceAgentRecord{UserID: "u1", Profession: types.ProfessionOptometrist, AgentID: "a"}
	_ = m.CreateAgent(ctx, rec)
	if err := m.UpdateAgentPrompt(ctx, rec.ID, "new prompt"); err != nil {
		t.Fatalf("UpdateAgentPrompt: %v", err)
	}
	got, _ := m.FindActiveAgent(ctx, KeyOf(rec))
	if got.SystemPrompt != "new prompt" {
		t.Errorf("SystemPrompt = %q", got.SystemPrompt)
	}
}

func TestMemStore_Credentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()

	if k, _ := m.VoiceAgentAPIKey(ctx, "u1"); k != "" {
		t.Errorf("key = %q, want empty", k)
	}
	_ = m.SetVoiceAgentAPIKey(ctx, "u1", "xi-123")
	if k, _ := m.VoiceAgentAPIKey(ctx, "u1"); k != "xi-123" {
		t.Errorf("key = %q, want xi-123", k)
	}
	_ = m.SetVoiceAgentAPIKey(ctx, "u1", "")
	if k, _ := m.VoiceAgentAPIKey(ctx, "u1"); k != "" {
		t.Errorf("key = %q after removal", k)
	}
}

func TestMemStore_History(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	for i := range 12 {
		_ = m.AddLeadNote(ctx, &types.LeadNote{LeadID: "lead-1", Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	_ = m.AddLeadNote(ctx, &types.LeadNote{LeadID: "lead-2", Content: "other patient", CreatedAt: base})

	notes, err := m.RecentLeadNotes(ctx, "lead-1", 10)
	if err != nil {
		t.Fatalf("RecentLeadNotes: %v", err)
	}
	if len(notes) != 10 || notes[0].Content != "l" || notes[9].Content != "c" {
		t.Errorf("lead notes = %d, first %q, last %q", len(notes), notes[0].Content, notes[len(notes)-1].Content)
	}

	statuses := []types.SessionStatus{
		types.StatusSigned, types.StatusReviewPending, types.StatusSigned,
		types.StatusProcessing, types.StatusSigned, types.StatusArchived,
	}
	for i, st := range statuses {
		s := &types.Session{ID: string(rune('A' + i)), UserID: "u1", LeadID: "lead-1", Status: st, CurrentVersion: 1}
		if st == types.StatusSigned {
			s.SignedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		}
		if err := m.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
		_ = m.AddNoteVersion(ctx, &types.NoteVersion{SessionID: s.ID, Version: 1, Note: types.StructuredNote{Plan: "plan " + s.ID}})
	}

	signed, err := m.RecentSignedNotes(ctx, "lead-1", 2)
	if err != nil {
		t.Fatalf("RecentSignedNotes: %v", err)
	}
	if len(signed) != 2 {
		t.Fatalf("signed notes = %d, want 2", len(signed))
	}
	if signed[0].SessionID != "E" || signed[1].SessionID != "C" {
		t.Errorf("order = %s, %s; want E, C", signed[0].SessionID, signed[1].SessionID)
	}
	if signed[0].Note.Plan != "plan E" {
		t.Errorf("note = %+v", signed[0].Note)
	}

	empty, _ := m.RecentSignedNotes(ctx, "nobody", 5)
	if empty == nil || len(empty) != 0 {
		t.Errorf("unknown lead = %#v, want empty non-nil", empty)
	}
}

func TestMemStore_SessionsAndVersions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemStore()

	if _, err := m.GetSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession err = %v", err)
	}
	s := &types.Session{UserID: "u1", Profession: types.ProfessionGeneralPractice, Status: types.StatusRecording}
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s.Segments = append(s.Segments, types.Segment{Role: types.RolePatient, Content: "hi"})
	if err := m.UpdateSession(ctx, s); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	s.Segments[0].Content = "mutated"
	got, _ := m.GetSession(ctx, s.ID)
	if got.Segments[0].Content != "hi" {
		t.Error("store shares segment slice with caller")
	}

	if err := m.AddNoteVersion(ctx, &types.NoteVersion{SessionID: "nope", Version: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddNoteVersion unknown session err = %v", err)
	}
	for _, v := range []int{2, 1} {
		if err := m.AddNoteVersion(ctx, &types.NoteVersion{SessionID: s.ID, Version: v}); err != nil {
			t.Fatalf("AddNoteVersion %d: %v", v, err)
		}
	}
	if err := m.AddNoteVersion(ctx, &types.NoteVersion{SessionID: s.ID, Version: 1}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate version err = %v", err)
	}
	vs, _ := m.NoteVersions(ctx, s.ID)
	if len(vs) != 2 || vs[0].Version != 1 || vs[1].Version != 2 {
		t.Errorf("versions = %+v", vs)
	}
	if got, _ := m.GetSession(ctx, s.ID); got.CurrentVersion != 2 {
		t.Errorf("current version = %d, want 2 (never moved back)", got.CurrentVersion)
	}
	if _, err := m.NoteVersion(ctx, s.ID, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("NoteVersion missing err = %v", err)
	}
}
