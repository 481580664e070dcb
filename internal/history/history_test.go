package history_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/docpen/scribe/internal/history"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/pkg/types"
)

var base = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

func addSession(t *testing.T, s *store.MemStore, leadID string, status types.SessionStatus, signedAt time.Time, plan string) {
	t.Helper()
	ctx := context.Background()
	sess := &types.Session{UserID: "u1", LeadID: leadID, Status: status, CurrentVersion: 1, SignedAt: signedAt}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	v := &types.NoteVersion{SessionID: sess.ID, Version: 1, Note: types.StructuredNote{Assessment: "viral URTI", Plan: plan}}
	if err := s.AddNoteVersion(ctx, v); err != nil {
		t.Fatalf("AddNoteVersion: %v", err)
	}
}

func TestDigest_NoLeadID(t *testing.T) {
	t.Parallel()

	fs := &failingStore{}
	got, err := history.NewAssembler(fs).Digest(context.Background(), "  ")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if got != history.NoRecords {
		t.Errorf("Digest = %q, want marker", got)
	}
	if fs.calls.Load() != 0 {
		t.Errorf("store was queried %d times without a lead id", fs.calls.Load())
	}
}

func TestDigest_NothingOnFile(t *testing.T) {
	t.Parallel()

	got, err := history.NewAssembler(store.NewMemStore()).Digest(context.Background(), "lead-1")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if got != history.NoRecords {
		t.Errorf("Digest = %q, want marker", got)
	}
}

func TestDigest_SignedOnlyAndBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := store.NewMemStore()
	for i := range 12 {
		_ = s.AddLeadNote(ctx, &types.LeadNote{
			LeadID:    "lead-1",
			Content:   fmt.Sprintf("note %02d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	for i := range 7 {
		addSession(t, s, "lead-1", types.StatusSigned, base.AddDate(0, 0, i), fmt.Sprintf("plan-%d", i))
	}
	addSession(t, s, "lead-1", types.StatusReviewPending, time.Time{}, "draft-plan")
	addSession(t, s, "lead-2", types.StatusSigned, base, "other-patient")

	got, err := history.NewAssembler(s).Digest(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	for _, absent := range []string{"draft-plan", "other-patient", "note 00", "note 01", "plan-0", "plan-1"} {
		if strings.Contains(got, absent) {
			t.Errorf("digest contains %q:\n%s", absent, got)
		}
	}
	for _, present := range []string{"note 11", "note 02", "plan-6", "plan-2", "Assessment: viral URTI"} {
		if !strings.Contains(got, present) {
			t.Errorf("digest missing %q:\n%s", present, got)
		}
	}
	if strings.Index(got, "plan-6") > strings.Index(got, "plan-5") {
		t.Error("signed notes are not newest first")
	}
}

func TestDigest_StoreError(t *testing.T) {
	t.Parallel()

	fs := &failingStore{err: errors.New("connection refused")}
	_, err := history.NewAssembler(fs).Digest(context.Background(), "lead-1")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}

func TestFetch_PassesLimits(t *testing.T) {
	t.Parallel()

	fs := &failingStore{}
	if _, err := history.NewAssembler(fs, history.WithLimits(3, 2)).Fetch(context.Background(), "lead-1"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fs.leadLimit.Load() != 3 || fs.signedLimit.Load() != 2 {
		t.Errorf("limits = %d/%d, want 3/2", fs.leadLimit.Load(), fs.signedLimit.Load())
	}
}

func TestFormat_MaxChars(t *testing.T) {
	t.Parallel()

	rec := &history.Records{}
	for i := range 10 {
		rec.LeadNotes = append(rec.LeadNotes, types.LeadNote{
			Content:   strings.Repeat("é", 1000),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name string
		max  int
	}{
		{"default bound", 6000},
		{"small bound", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := history.Format(rec, tt.max)
			if n := utf8.RuneCountInString(got); n != tt.max {
				t.Errorf("len = %d, want %d", n, tt.max)
			}
			if !strings.HasSuffix(got, "...") {
				t.Error("truncated digest has no ellipsis")
			}
			if !utf8.ValidString(got) {
				t.Error("truncation split a rune")
			}
		})
	}
}

func TestFormat_EmptyNote(t *testing.T) {
	t.Parallel()

	got := history.Format(&history.Records{SignedNotes: []types.SignedNote{{SignedAt: base}}}, 0)
	if !strings.Contains(got, "2026-09-01: (empty note)") {
		t.Errorf("Format = %q", got)
	}
}

// failingStore returns err from both reads and records the limits it was asked for.
type failingStore struct {
	err         error
	calls       atomic.Int32
	leadLimit   atomic.Int32
	signedLimit atomic.Int32
}

func (f *failingStore) RecentLeadNotes(_ context.Context, _ string, limit int) ([]types.LeadNote, error) {
	f.calls.Add(1)
	f.leadLimit.Store(int32(limit))
	return nil, f.err
}

func (f *failingStore) RecentSignedNotes(_ context.Context, _ string, limit int) ([]types.SignedNote, error) {
	f.calls.Add(1)
	f.signedLimit.Store(int32(limit))
	return nil, f.err
}

var _ store.HistoryStore = (*failingStore)(nil)
