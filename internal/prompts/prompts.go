// Package prompts holds the profession-keyed prompt library used by the note
// synthesizer, the in-session assistant and voice agent provisioning.
//
// The wording is configuration, not code: a default library is embedded and a
// deployment may replace any part of it with a YAML override file. Lookups for
// an unknown profession or an unrecognised custom label fall back to the
// default profession (general practice).
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/docpen/scribe/pkg/types"
)

//go:embed templates.yaml
var defaultYAML []byte

// Profession is the prompt material for one profession.
type Profession struct {
	Label string `yaml:"label"`
	Focus string `yaml:"focus"`
}

// NoteTemplates are shared around every profession's focus block.
type NoteTemplates struct {
	Preamble   string `yaml:"preamble"`
	Format     string `yaml:"format"`
	Regenerate string `yaml:"regenerate"`
}

// AssistantTemplates are the in-session assistant prompts.
type AssistantTemplates struct {
	System          string `yaml:"system"`
	PatientHistory  string `yaml:"patient_history"`
	ReferenceLookup string `yaml:"reference_lookup"`
	Feedback        string `yaml:"feedback"`
}

// VoiceAgentTemplates are used when provisioning a voice agent.
type VoiceAgentTemplates struct {
	Name             string `yaml:"name"`
	FirstMessage     string `yaml:"first_message"`
	BasePrompt       string `yaml:"base_prompt"`
	DynamicVariables string `yaml:"dynamic_variables"`
}

// Library is a complete prompt set.
type Library struct {
	Version           string                          `yaml:"version"`
	DefaultProfession types.Profession                `yaml:"default_profession"`
	Note              NoteTemplates                   `yaml:"note"`
	Professions       map[types.Profession]Profession `yaml:"professions"`
	CustomAliases     map[string]types.Profession     `yaml:"custom_aliases"`
	Assistant         AssistantTemplates              `yaml:"assistant"`
	VoiceAgent        VoiceAgentTemplates             `yaml:"voice_agent"`
}

// Default returns the embedded library.
func Default() *Library {
	lib, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded templates are invalid: %v", err))
	}
	return lib
}

// Parse decodes a complete library from YAML and validates it.
func Parse(data []byte) (*Library, error) {
	lib := &Library{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(lib); err != nil {
		return nil, fmt.Errorf("prompts: decode yaml: %w", err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Load reads an override file and layers it on top of the embedded library.
// Fields left empty in the file keep their default values; profession and
// alias entries are merged by key.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %q: %w", path, err)
	}

	lib := Default()
	var over Library
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&over); err != nil {
		return nil, fmt.Errorf("prompts: decode %q: %w", path, err)
	}
	lib.merge(&over)
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

func (l *Library) merge(o *Library) {
	setIf(&l.Version, o.Version)
	if o.DefaultProfession != "" {
		l.DefaultProfession = o.DefaultProfession
	}
	setIf(&l.Note.Preamble, o.Note.Preamble)
	setIf(&l.Note.Format, o.Note.Format)
	setIf(&l.Note.Regenerate, o.Note.Regenerate)
	setIf(&l.Assistant.System, o.Assistant.System)
	setIf(&l.Assistant.PatientHistory, o.Assistant.PatientHistory)
	setIf(&l.Assistant.ReferenceLookup, o.Assistant.ReferenceLookup)
	setIf(&l.Assistant.Feedback, o.Assistant.Feedback)
	setIf(&l.VoiceAgent.Name, o.VoiceAgent.Name)
	setIf(&l.VoiceAgent.FirstMessage, o.VoiceAgent.FirstMessage)
	setIf(&l.VoiceAgent.BasePrompt, o.VoiceAgent.BasePrompt)
	setIf(&l.VoiceAgent.DynamicVariables, o.VoiceAgent.DynamicVariables)
	for k, v := range o.Professions {
		l.Professions[k] = v
	}
	for k, v := range o.CustomAliases {
		l.CustomAliases[k] = v
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (l *Library) validate() error {
	var errs []error
	if l.Version == "" {
		errs = append(errs, errors.New("prompts: version is required"))
	}
	if _, ok := l.Professions[l.DefaultProfession]; !ok {
		errs = append(errs, fmt.Errorf("prompts: default_profession %q has no entry", l.DefaultProfession))
	}
	if l.CustomAliases == nil {
		l.CustomAliases = map[string]types.Profession{}
	}
	for alias, p := range l.CustomAliases {
		if _, ok := l.Professions[p]; !ok {
			errs = append(errs, fmt.Errorf("prompts: custom alias %q points to unknown profession %q", alias, p))
		}
	}
	named := map[string]string{
		"note.preamble":              l.Note.Preamble,
		"note.format":                l.Note.Format,
		"note.regenerate":            l.Note.Regenerate,
		"assistant.system":           l.Assistant.System,
		"assistant.patient_history":  l.Assistant.PatientHistory,
		"assistant.reference_lookup": l.Assistant.ReferenceLookup,
		"assistant.feedback":         l.Assistant.Feedback,
		"voice_agent.name":           l.VoiceAgent.Name,
		"voice_agent.base_prompt":    l.VoiceAgent.BasePrompt,
	}
	for name, text := range named {
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("prompts: %s is required", name))
			continue
		}
		if _, err := template.New(name).Option("missingkey=error").Parse(text); err != nil {
			errs = append(errs, fmt.Errorf("prompts: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve maps a profession and optional custom label to the profession whose
// prompts apply. CUSTOM resolves through the alias table; anything unknown
// resolves to the default profession.
func (l *Library) Resolve(p types.Profession, custom string) types.Profession {
	if p == types.ProfessionCustom {
		if alias, ok := l.CustomAliases[strings.ToLower(strings.TrimSpace(custom))]; ok {
			return alias
		}
		return l.DefaultProfession
	}
	if _, ok := l.Professions[p]; ok {
		return p
	}
	return l.DefaultProfession
}

// Label is the display name for prompts. A custom label is used as given.
func (l *Library) Label(p types.Profession, custom string) string {
	if p == types.ProfessionCustom && strings.TrimSpace(custom) != "" {
		return strings.TrimSpace(custom)
	}
	return l.Professions[l.Resolve(p, custom)].Label
}

// NoteInstructions assembles the full note instruction block for a profession.
func (l *Library) NoteInstructions(p types.Profession, custom string) (string, error) {
	preamble, err := Render(l.Note.Preamble, map[string]any{"Label": l.Label(p, custom)})
	if err != nil {
		return "", err
	}
	focus := l.Professions[l.Resolve(p, custom)].Focus
	return strings.TrimSpace(preamble) + "\n\n" + strings.TrimSpace(focus) + "\n\n" + strings.TrimSpace(l.Note.Format), nil
}

// Render executes a template string with data. Missing keys are errors.
func Render(text string, data any) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("prompts: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: execute: %w", err)
	}
	return buf.String(), nil
}
