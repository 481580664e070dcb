package wakeword

import (
	"testing"

	"github.com/docpen/scribe/pkg/types"
)

func TestContainsWakeWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"Hey Docpen, what's the dose?", true},
		{"okay doc pen check this", true},
		{"OK, Doc-Pen", true},
		{"dock pen what is ibuprofen", true},
		{"doctor pen please", true},
		{"doc pin look up amoxicillin", true},
		{"DOCPEN", true},
		{"the doctor wrote with a pen", false},
		{"my dog penelope", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := ContainsWakeWord(tt.text); got != tt.want {
				t.Errorf("ContainsWakeWord(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractQueryAfterWakeWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"Hey Docpen, what's the dose?", "what's the dose?", true},
		{"so, doc pen: any interactions with warfarin?  ", "any interactions with warfarin?", true},
		{"Docpen", "", true},
		{"Docpen!!! - hello", "hello", true},
		{"no wake word here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractQueryAfterWakeWord(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractQueryAfterWakeWord(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDetector_PhoneticFallback(t *testing.T) {
	t.Parallel()

	plain := New()
	fuzzy := New(WithPhoneticFallback(0))

	const text = "duck pen what is the paediatric dose"
	if plain.ContainsWakeWord(text) {
		t.Fatalf("pattern-only detector matched %q", text)
	}
	q, ok := fuzzy.ExtractQueryAfterWakeWord(text)
	if !ok {
		t.Fatalf("phonetic detector did not match %q", text)
	}
	if q != "what is the paediatric dose" {
		t.Errorf("query = %q", q)
	}
	if fuzzy.ContainsWakeWord("the patient reports back pain") {
		t.Error("phonetic detector matched unrelated speech")
	}
}

func TestClassifyQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want types.QueryType
	}{
		{"does ibuprofen interact with warfarin", types.QueryDrugInteraction},
		{"is it contraindicated in pregnancy", types.QueryDrugInteraction},
		{"what happened at the last visit", types.QueryPatientHistory},
		{"show me the previous notes", types.QueryPatientHistory},
		{"any previous interactions between these drugs", types.QueryDrugInteraction},
		{"did I miss anything", types.QueryFeedback},
		{"give me feedback on this consult", types.QueryFeedback},
		{"what is the first line treatment for otitis media", types.QueryMedicalLookup},
		{"", types.QueryMedicalLookup},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyQuery(tt.text); got != tt.want {
				t.Errorf("ClassifyQuery(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
