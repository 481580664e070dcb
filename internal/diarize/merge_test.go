package diarize

import (
	"strings"
	"testing"

	"github.com/docpen/scribe/pkg/types"
)

func seg(role types.SpeakerRole, content string, start, end float64) types.Segment {
	label := "Practitioner"
	if role == types.RolePatient {
		label = "Patient"
	}
	return types.Segment{Role: role, Label: label, Content: content, StartTime: start, EndTime: end}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	P, A := types.RolePractitioner, types.RolePatient
	tests := []struct {
		name string
		in   []types.Segment
		want []types.Segment
	}{
		{
			name: "empty",
			in:   nil,
			want: []types.Segment{},
		},
		{
			name: "single",
			in:   []types.Segment{seg(P, "Hello.", 0, 1)},
			want: []types.Segment{seg(P, "Hello.", 0, 1)},
		},
		{
			name: "run is joined",
			in: []types.Segment{
				seg(P, "Hello.", 0, 1),
				seg(P, "How are you?", 1, 2),
				seg(A, "Fine.", 2, 3),
			},
			want: []types.Segment{
				seg(P, "Hello. How are you?", 0, 2),
				seg(A, "Fine.", 2, 3),
			},
		},
		{
			name: "runs split by one segment stay distinct",
			in: []types.Segment{
				seg(P, "a", 0, 1),
				seg(A, "b", 1, 2),
				seg(P, "c", 2, 3),
				seg(P, "d", 3, 4),
			},
			want: []types.Segment{
				seg(P, "a", 0, 1),
				seg(A, "b", 1, 2),
				seg(P, "c d", 2, 4),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Merge(tc.in)
			if got == nil {
				t.Fatal("Merge returned nil")
			}
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d: %+v", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestMerge_LabelFromFirstAndInputUntouched(t *testing.T) {
	t.Parallel()

	in := []types.Segment{
		{Role: types.RolePatient, Label: "J.D.", Content: "one", StartTime: 0, EndTime: 1},
		{Role: types.RolePatient, Label: "Patient", Content: "two", StartTime: 1, EndTime: 2},
	}
	got := Merge(in)
	if got[0].Label != "J.D." {
		t.Errorf("label = %q, want first segment's", got[0].Label)
	}
	if in[0].Content != "one" || in[0].EndTime != 1 {
		t.Error("input segments were mutated")
	}
}

// TestMerge_Properties checks that merging never grows the sequence and keeps
// all content in order, over every role pattern of length six.
func TestMerge_Properties(t *testing.T) {
	t.Parallel()

	roles := []types.SpeakerRole{types.RolePractitioner, types.RolePatient}
	for mask := 0; mask < 1<<6; mask++ {
		var in []types.Segment
		var words []string
		for i := 0; i < 6; i++ {
			w := string(rune('a' + i))
			words = append(words, w)
			in = append(in, seg(roles[(mask>>i)&1], w, float64(i), float64(i+1)))
		}
		out := Merge(in)
		if len(out) > len(in) {
			t.Fatalf("mask %b: output longer than input", mask)
		}
		var joined []string
		for _, s := range out {
			joined = append(joined, s.Content)
		}
		if strings.Join(joined, " ") != strings.Join(words, " ") {
			t.Fatalf("mask %b: content %q, want %q", mask, joined, words)
		}
		for i := 1; i < len(out); i++ {
			if out[i].Role == out[i-1].Role {
				t.Fatalf("mask %b: adjacent segments share role", mask)
			}
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	t.Parallel()

	merged := Merge([]types.Segment{
		seg(types.RolePractitioner, "Let me check\n\nyour blood pressure.", 0, 2),
		seg(types.RolePatient, "It hurts  when I bend over.", 2, 4),
		seg(types.RolePractitioner, "I'll prescribe ibuprofen.", 4, 6),
	})
	out := Render(merged)

	entries := strings.Split(out, "\n\n")
	if len(entries) != len(merged) {
		t.Fatalf("entries = %d, want %d:\n%s", len(entries), len(merged), out)
	}
	if entries[0] != "[Practitioner]: Let me check your blood pressure." {
		t.Errorf("entry 0 = %q", entries[0])
	}
	if entries[1] != "[Patient]: It hurts when I bend over." {
		t.Errorf("entry 1 = %q", entries[1])
	}
}

func TestResult(t *testing.T) {
	t.Parallel()

	segs := []types.Segment{
		seg(types.RolePractitioner, "Hello.", 0, 1.5),
		{Role: types.RolePatient, Content: "Hi.", StartTime: 1.5, EndTime: 3},
	}
	res := Result(segs, 0, "en")
	if res.FullText != "Practitioner: Hello.\nPatient: Hi." {
		t.Errorf("FullText = %q", res.FullText)
	}
	if res.Duration != 3 {
		t.Errorf("Duration = %v, want last end time 3", res.Duration)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q", res.Language)
	}

	empty := Result(nil, 0, "")
	if empty.Segments == nil || empty.FullText != "" {
		t.Errorf("empty result = %+v", empty)
	}
}
