package diarize

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/docpen/scribe/pkg/types"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// PatternSet is one compiled set of lexical cues. It is data: swapping it
// changes attribution without touching the decision rule.
type PatternSet struct {
	Practitioner      []*regexp.Regexp
	Patient           []*regexp.Regexp
	InterrogativeLead *regexp.Regexp
}

// Labels are the display names attached to classified segments.
type Labels struct {
	Practitioner string `yaml:"practitioner"`
	Patient      string `yaml:"patient"`
}

type vocabulary struct {
	Practitioner []string `yaml:"practitioner"`
	Patient      []string `yaml:"patient"`
}

type tableFile struct {
	Labels            Labels                          `yaml:"labels"`
	InterrogativeLead string                          `yaml:"interrogative_lead"`
	Practitioner      []string                        `yaml:"practitioner"`
	Patient           []string                        `yaml:"patient"`
	Professions       map[types.Profession]vocabulary `yaml:"professions"`
}

// Table is a base pattern set plus profession-specific vocabularies.
type Table struct {
	Labels      Labels
	base        PatternSet
	professions map[types.Profession]PatternSet
}

// DefaultTable returns the embedded pattern table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultPatternsYAML)
	if err != nil {
		panic(fmt.Sprintf("diarize: embedded patterns are invalid: %v", err))
	}
	return t
}

// LoadTable reads a pattern table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("diarize: read %q: %w", path, err)
	}
	return ParseTable(data)
}

// ParseTable decodes and compiles a pattern table. All compile errors are
// reported together.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("diarize: decode patterns: %w", err)
	}

	var errs []error
	compileAll := func(section string, exprs []string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(exprs))
		for _, e := range exprs {
			re, err := regexp.Compile("(?i)" + e)
			if err != nil {
				errs = append(errs, fmt.Errorf("diarize: %s pattern %q: %w", section, e, err))
				continue
			}
			out = append(out, re)
		}
		return out
	}

	t := &Table{
		Labels: f.Labels,
		base: PatternSet{
			Practitioner: compileAll("practitioner", f.Practitioner),
			Patient:      compileAll("patient", f.Patient),
		},
		professions: make(map[types.Profession]PatternSet, len(f.Professions)),
	}
	if f.InterrogativeLead != "" {
		lead := compileAll("interrogative_lead", []string{f.InterrogativeLead})
		if len(lead) == 1 {
			t.base.InterrogativeLead = lead[0]
		}
	}
	for p, v := range f.Professions {
		t.professions[p] = PatternSet{
			Practitioner: compileAll(string(p)+" practitioner", v.Practitioner),
			Patient:      compileAll(string(p)+" patient", v.Patient),
		}
	}

	if len(t.base.Practitioner) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("diarize: no practitioner patterns"))
	}
	if len(t.base.Patient) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("diarize: no patient patterns"))
	}
	if t.Labels.Practitioner == "" {
		t.Labels.Practitioner = "Practitioner"
	}
	if t.Labels.Patient == "" {
		t.Labels.Patient = "Patient"
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// For returns the base set merged with the vocabulary for p, if any.
func (t *Table) For(p types.Profession) *PatternSet {
	ps := &PatternSet{
		Practitioner:      append([]*regexp.Regexp(nil), t.base.Practitioner...),
		Patient:           append([]*regexp.Regexp(nil), t.base.Patient...),
		InterrogativeLead: t.base.InterrogativeLead,
	}
	if v, ok := t.professions[p]; ok {
		ps.Practitioner = append(ps.Practitioner, v.Practitioner...)
		ps.Patient = append(ps.Patient, v.Patient...)
	}
	return ps
}

// score counts matching patterns. A pattern contributes at most once.
func score(patterns []*regexp.Regexp, s string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(s) {
			n++
		}
	}
	return n
}
