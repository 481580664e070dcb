package assistant

import (
	"regexp"

	"github.com/docpen/scribe/pkg/types"
)

type sourceRule struct {
	pattern *regexp.Regexp
	source  types.Source
}

// Each rule fires at most once, independent of the others.
var sourceRules = []sourceRule{
	{
		pattern: regexp.MustCompile(`(?i)\b(?:interact\w*|contraindicat\w*|adverse (?:effect|event|reaction)s?|side effects?|black box|boxed warning|drug safety|overdose|toxicity)\b`),
		source:  types.Source{Type: types.SourceRegulatory, Title: "Regulatory drug safety information"},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:guidelines?|recommendations?|first[- ]line|second[- ]line|standard of care|best practice|protocol)\b`),
		source:  types.Source{Type: types.SourceGuideline, Title: "Clinical practice guideline"},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:(?:previous|prior|last) (?:visit|consultation|session|appointment)s?|patient(?:'s)? records?|on (?:file|record))\b`),
		source:  types.Source{Type: types.SourceCRM, Title: "Patient record"},
	},
}

// ExtractSources infers citations from answer text. The result is never nil.
func ExtractSources(text string) []types.Source {
	out := []types.Source{}
	for _, r := range sourceRules {
		if r.pattern.MatchString(text) {
			out = append(out, r.source)
		}
	}
	return out
}
