package note

import (
	"regexp"
	"strings"

	"github.com/docpen/scribe/pkg/types"
)

// SectionPattern extracts one section. Group 1 of Pattern is the content.
type SectionPattern struct {
	Section types.Section
	Pattern *regexp.Regexp
}

// Tier is one parsing pass. A tier runs only when Applies is nil or returns
// true for the note parsed so far, and it never overwrites a section that an
// earlier tier already filled.
type Tier struct {
	Name     string
	Patterns []SectionPattern
	Applies  func(*types.StructuredNote) bool
}

// headerNames maps sections to the header words models produce.
var headerNames = map[types.Section]string{
	types.SectionSubjective:      `SUBJECTIVE`,
	types.SectionObjective:       `OBJECTIVE`,
	types.SectionAssessment:      `ASSESSMENT`,
	types.SectionPlan:            `PLAN`,
	types.SectionAdditionalNotes: `ADDITIONAL\s+NOTES`,
}

var allHeaders = `(?:SUBJECTIVE|OBJECTIVE|ASSESSMENT|PLAN|ADDITIONAL\s+NOTES)`

func boldPattern(s types.Section) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\*\*\s*` + headerNames[s] + `\s*:?\s*\*\*\s*:?(.*?)(?:\*\*\s*` + allHeaders + `\s*:?\s*\*\*|\z)`)
}

// plainPattern matches a header anywhere in the text, inline or at a line
// start, but not inside a bold marker; those belong to the bold tier.
func plainPattern(s types.Section) *regexp.Regexp {
	return regexp.MustCompile(`(?is)(?:\A|[^*\w])` + headerNames[s] + `[ \t]*:(.*?)(?:(?:\A|[^*\w])[ \t#>-]*` + allHeaders + `[ \t]*:|\z)`)
}

// DefaultTiers is the standard parser: bold markdown headers for all five
// sections, then plain headers for the four core sections when the bold pass
// found no subjective section.
func DefaultTiers() []Tier {
	bold := Tier{Name: "bold"}
	for _, s := range append(append([]types.Section{}, types.CoreSections...), types.SectionAdditionalNotes) {
		bold.Patterns = append(bold.Patterns, SectionPattern{Section: s, Pattern: boldPattern(s)})
	}
	plain := Tier{
		Name: "plain",
		Applies: func(n *types.StructuredNote) bool {
			return strings.TrimSpace(n.Subjective) == ""
		},
	}
	for _, s := range types.CoreSections {
		plain.Patterns = append(plain.Patterns, SectionPattern{Section: s, Pattern: plainPattern(s)})
	}
	return []Tier{bold, plain}
}

// Parse recovers note sections from model output by running tiers in order.
// Sections no tier matches stay empty.
func Parse(text string, tiers []Tier) types.StructuredNote {
	var n types.StructuredNote
	for _, tier := range tiers {
		if tier.Applies != nil && !tier.Applies(&n) {
			continue
		}
		for _, sp := range tier.Patterns {
			if n.Get(sp.Section) != "" {
				continue
			}
			m := sp.Pattern.FindStringSubmatch(text)
			if len(m) < 2 {
				continue
			}
			if content := strings.TrimSpace(m[1]); content != "" {
				n.Set(sp.Section, content)
			}
		}
	}
	return n
}
