package voiceagent

import (
	"fmt"
	"strings"

	"github.com/docpen/scribe/internal/prompts"
)

// Gender and Tone select a voice from the voice table.
type (
	Gender string
	Tone   string
)

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"

	ToneWarm         Tone = "warm"
	ToneProfessional Tone = "professional"
)

type voiceKey struct {
	gender Gender
	tone   Tone
}

var voices = map[voiceKey]string{
	{GenderFemale, ToneWarm}:         "21m00Tcm4TlvDq8ikWAM",
	{GenderMale, ToneProfessional}:   "pNInz6obpgDQGcFmaJgB",
	{GenderFemale, ToneProfessional}: "EXAVITQu4vr4xnSDxMaL",
	{GenderMale, ToneWarm}:           "TxGEqnHWrfWFTfGW9XjX",
}

// SelectVoice returns the voice for a gender and tone. Unknown or empty
// values fall back to female and warm respectively.
func SelectVoice(g Gender, t Tone) string {
	g = Gender(strings.ToLower(string(g)))
	t = Tone(strings.ToLower(string(t)))
	if g != GenderMale {
		g = GenderFemale
	}
	if t != ToneProfessional {
		t = ToneWarm
	}
	return voices[voiceKey{g, t}]
}

// BuildSystemPrompt assembles the agent prompt: the rendered base template,
// who the practitioner is, the current session context and the fixed
// explanation of the date and time variables.
func BuildSystemPrompt(lib *prompts.Library, cfg AgentConfig) (string, error) {
	label := lib.Label(cfg.Profession, cfg.CustomProfession)
	base, err := prompts.Render(lib.VoiceAgent.BasePrompt, map[string]any{"Label": label})
	if err != nil {
		return "", fmt.Errorf("voiceagent: base prompt: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(base))

	var who []string
	if v := strings.TrimSpace(cfg.PractitionerName); v != "" {
		who = append(who, "Practitioner: "+v)
	}
	if v := strings.TrimSpace(cfg.ClinicName); v != "" {
		who = append(who, "Clinic: "+v)
	}
	who = append(who, "Specialty: "+label)
	sb.WriteString("\n\n## Practice\n")
	sb.WriteString(strings.Join(who, "\n"))

	if v := strings.TrimSpace(cfg.SessionContext); v != "" {
		sb.WriteString("\n\n## Current session\n")
		sb.WriteString(v)
	}

	// Sent verbatim: the provider substitutes {{current_date}} and friends.
	sb.WriteString("\n\n## Context variables\n")
	sb.WriteString(strings.TrimSpace(lib.VoiceAgent.DynamicVariables))
	return sb.String(), nil
}
