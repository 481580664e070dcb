// Package wakeword detects the "Docpen" activation phrase in transcribed speech
// and classifies the query that follows it.
//
// Detection is a small table of case-insensitive expressions that tolerate the
// usual transcription variants ("doc pen", "dock pen", "doc-pen", "doctor pen",
// "hey"/"okay"/"ok" prefixes). An optional phonetic tier catches variants the
// table misses by comparing Double Metaphone codes and Jaro-Winkler similarity.
package wakeword

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/docpen/scribe/pkg/types"
)

// Phrase is the canonical wake word.
const Phrase = "docpen"

const defaultPhoneticThreshold = 0.80

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:hey|okay|ok)[\s,]+doc[\s-]*pen\b`),
	regexp.MustCompile(`(?i)\bdoc[\s-]*pen\b`),
	regexp.MustCompile(`(?i)\bdock[\s-]*pen\b`),
	regexp.MustCompile(`(?i)\bdoctor[\s-]*pen\b`),
	regexp.MustCompile(`(?i)\bdoc\s*pin\b`),
}

// Option configures a Detector.
type Option func(*Detector)

// WithPhoneticFallback enables the phonetic tier. threshold is the minimum
// Jaro-Winkler similarity to the canonical phrase; zero selects the default.
func WithPhoneticFallback(threshold float64) Option {
	return func(d *Detector) {
		d.phonetic = true
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// Detector finds the wake word. It is read-only after construction and safe
// for concurrent use.
type Detector struct {
	phonetic  bool
	threshold float64
	codes     map[string]struct{}
}

// New returns a Detector. Without options only the pattern table is used.
func New(opts ...Option) *Detector {
	d := &Detector{threshold: defaultPhoneticThreshold}
	for _, o := range opts {
		o(d)
	}
	d.codes = map[string]struct{}{}
	p, s := matchr.DoubleMetaphone(Phrase)
	for _, c := range []string{p, s} {
		if c != "" {
			d.codes[c] = struct{}{}
		}
	}
	return d
}

var defaultDetector = New()

// ContainsWakeWord reports whether any wake word pattern matches text.
func ContainsWakeWord(text string) bool {
	return defaultDetector.ContainsWakeWord(text)
}

// ExtractQueryAfterWakeWord returns the text following the wake word with
// leading punctuation and spaces removed. ok is false when there is no wake
// word.
func ExtractQueryAfterWakeWord(text string) (query string, ok bool) {
	return defaultDetector.ExtractQueryAfterWakeWord(text)
}

// ContainsWakeWord reports whether text contains the wake word.
func (d *Detector) ContainsWakeWord(text string) bool {
	_, ok := d.locate(text)
	return ok
}

// ExtractQueryAfterWakeWord returns the text after the first wake word match.
func (d *Detector) ExtractQueryAfterWakeWord(text string) (string, bool) {
	end, ok := d.locate(text)
	if !ok {
		return "", false
	}
	return trimQuery(text[end:]), true
}

// locate returns the byte offset just past the wake word.
func (d *Detector) locate(text string) (int, bool) {
	for _, re := range patterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return loc[1], true
		}
	}
	if d.phonetic {
		return d.locatePhonetic(text)
	}
	return 0, false
}

type token struct {
	text       string
	start, end int
}

func tokenize(text string) []token {
	var out []token
	start := -1
	for i, r := range text {
		isWord := unicode.IsLetter(r) || r == '\''
		switch {
		case isWord && start < 0:
			start = i
		case !isWord && start >= 0:
			out = append(out, token{strings.ToLower(text[start:i]), start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{strings.ToLower(text[start:]), start, len(text)})
	}
	return out
}

// locatePhonetic tries single tokens and adjacent pairs, since the phrase is
// often transcribed as two words.
func (d *Detector) locatePhonetic(text string) (int, bool) {
	toks := tokenize(text)
	for i := range toks {
		if d.similar(toks[i].text) {
			return toks[i].end, true
		}
		if i+1 < len(toks) && d.similar(toks[i].text+toks[i+1].text) {
			return toks[i+1].end, true
		}
	}
	return 0, false
}

func (d *Detector) similar(candidate string) bool {
	if len(candidate) < 4 {
		return false
	}
	p, s := matchr.DoubleMetaphone(candidate)
	_, okP := d.codes[p]
	_, okS := d.codes[s]
	if !okP && !(s != "" && okS) {
		return false
	}
	return matchr.JaroWinkler(candidate, Phrase, false) >= d.threshold
}

func trimQuery(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, " \t\r\n,.:;!?-"))
}

var (
	drugInteraction = regexp.MustCompile(`(?i)\b(?:interact\w*|contraindicat\w*|combin\w*|together with|mix(?:ed|ing)? with|safe to take with|take with)\b`)
	patientHistory  = regexp.MustCompile(`(?i)\b(?:history|last (?:visit|time|appointment|session|consultation)|previous\w*|prior|records?|past notes?)\b`)
	feedback        = regexp.MustCompile(`(?i)\b(?:feedback|how am i doing|did i miss|have i missed|anything i missed|what did i miss|review (?:this|the) (?:session|consultation))\b`)
)

// ClassifyQuery maps a query to an assistant intent. Checks run in order
// drug interaction, patient history, feedback; anything else is a medical
// lookup.
func ClassifyQuery(text string) types.QueryType {
	switch {
	case drugInteraction.MatchString(text):
		return types.QueryDrugInteraction
	case patientHistory.MatchString(text):
		return types.QueryPatientHistory
	case feedback.MatchString(text):
		return types.QueryFeedback
	default:
		return types.QueryMedicalLookup
	}
}
