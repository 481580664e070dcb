// Package types defines the shared clinical types used across the scribe packages.
//
// These types are passed between the speech-to-text adapters, the diarizer, the
// note synthesizer, the assistant router and the stores. Each package keeps its
// own internal types; cross-cutting data structures live here to avoid import
// cycles.
package types

import (
	"strings"
	"time"
)

// SpeakerRole identifies who said an utterance.
type SpeakerRole string

const (
	RolePractitioner SpeakerRole = "PRACTITIONER"
	RolePatient      SpeakerRole = "PATIENT"
	RoleOther        SpeakerRole = "OTHER"
)

// Opposite returns the other side of a two-party consultation. OTHER has no
// opposite and is returned unchanged.
func (r SpeakerRole) Opposite() SpeakerRole {
	switch r {
	case RolePractitioner:
		return RolePatient
	case RolePatient:
		return RolePractitioner
	default:
		return r
	}
}

// Segment is one attributed utterance of a clinical conversation.
// StartTime and EndTime are seconds from the start of the recording and never
// decrease within a session.
type Segment struct {
	Role       SpeakerRole `json:"speakerRole"`
	Label      string      `json:"speakerLabel,omitempty"`
	Content    string      `json:"content"`
	StartTime  float64     `json:"startTime"`
	EndTime    float64     `json:"endTime"`
	Confidence float64     `json:"confidence,omitempty"`
}

// TranscriptionResult is the merged, speaker-attributed transcript of a
// recording.
type TranscriptionResult struct {
	Segments []Segment `json:"segments"`
	FullText string    `json:"fullText"`
	Duration float64   `json:"duration"`
	Language string    `json:"language,omitempty"`
}

// Profession keys the prompt library, the diarization vocabularies and voice
// agent records.
type Profession string

const (
	ProfessionGeneralPractice   Profession = "GENERAL_PRACTICE"
	ProfessionDentist           Profession = "DENTIST"
	ProfessionPhysiotherapist   Profession = "PHYSIOTHERAPIST"
	ProfessionChiropractor      Profession = "CHIROPRACTOR"
	ProfessionOptometrist       Profession = "OPTOMETRIST"
	ProfessionPsychologist      Profession = "PSYCHOLOGIST"
	ProfessionDietitian         Profession = "DIETITIAN"
	ProfessionVeterinarian      Profession = "VETERINARIAN"
	ProfessionPharmacist        Profession = "PHARMACIST"
	ProfessionNursePractitioner Profession = "NURSE_PRACTITIONER"
	ProfessionPediatrician      Profession = "PEDIATRICIAN"
	ProfessionDermatologist     Profession = "DERMATOLOGIST"
	ProfessionCustom            Profession = "CUSTOM"
)

// Section names one block of a structured note.
type Section string

const (
	SectionSubjective      Section = "subjective"
	SectionObjective       Section = "objective"
	SectionAssessment      Section = "assessment"
	SectionPlan            Section = "plan"
	SectionAdditionalNotes Section = "additionalNotes"
)

// CoreSections are the four SOAP sections a usable note must populate at least
// one of.
var CoreSections = []Section{SectionSubjective, SectionObjective, SectionAssessment, SectionPlan}

// ParseSection maps user input such as "Subjective", "PLAN" or
// "additional notes" to a [Section].
func ParseSection(s string) (Section, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch key {
	case "subjective":
		return SectionSubjective, true
	case "objective":
		return SectionObjective, true
	case "assessment":
		return SectionAssessment, true
	case "plan":
		return SectionPlan, true
	case "additionalnotes", "additional_notes":
		return SectionAdditionalNotes, true
	}
	return "", false
}

// StructuredNote is a SOAP note plus generation metadata.
type StructuredNote struct {
	Subjective      string `json:"subjective"`
	Objective       string `json:"objective"`
	Assessment      string `json:"assessment"`
	Plan            string `json:"plan"`
	AdditionalNotes string `json:"additionalNotes,omitempty"`

	ProcessingTimeMs int64  `json:"processingTime"`
	Model            string `json:"model"`
	PromptVersion    string `json:"promptVersion"`
}

// Get returns the text of one section.
func (n *StructuredNote) Get(s Section) string {
	switch s {
	case SectionSubjective:
		return n.Subjective
	case SectionObjective:
		return n.Objective
	case SectionAssessment:
		return n.Assessment
	case SectionPlan:
		return n.Plan
	case SectionAdditionalNotes:
		return n.AdditionalNotes
	}
	return ""
}

// Set replaces the text of one section. Unknown sections are ignored.
func (n *StructuredNote) Set(s Section, text string) {
	switch s {
	case SectionSubjective:
		n.Subjective = text
	case SectionObjective:
		n.Objective = text
	case SectionAssessment:
		n.Assessment = text
	case SectionPlan:
		n.Plan = text
	case SectionAdditionalNotes:
		n.AdditionalNotes = text
	}
}

// IsEmpty reports whether all four core sections are blank. An empty note is a
// failed synthesis, not a valid clinical result.
func (n *StructuredNote) IsEmpty() bool {
	for _, s := range CoreSections {
		if strings.TrimSpace(n.Get(s)) != "" {
			return false
		}
	}
	return true
}

// MissingSections lists the core sections that are blank.
func (n *StructuredNote) MissingSections() []Section {
	var out []Section
	for _, s := range CoreSections {
		if strings.TrimSpace(n.Get(s)) == "" {
			out = append(out, s)
		}
	}
	return out
}

// QueryType is the intent of an in-session assistant query.
type QueryType string

const (
	QueryPatientHistory  QueryType = "patient_history"
	QueryDrugInteraction QueryType = "drug_interaction"
	QueryMedicalLookup   QueryType = "medical_lookup"
	QueryFeedback        QueryType = "feedback"
)

// Valid reports whether q is one of the known query types.
func (q QueryType) Valid() bool {
	switch q {
	case QueryPatientHistory, QueryDrugInteraction, QueryMedicalLookup, QueryFeedback:
		return true
	}
	return false
}

// AssistantQuery is one spoken or typed request to the in-session assistant.
type AssistantQuery struct {
	Type              QueryType `json:"queryType"`
	Text              string    `json:"queryText"`
	SessionID         string    `json:"sessionId,omitempty"`
	CurrentTranscript string    `json:"currentTranscript,omitempty"`
}

// SourceType classifies a citation attached to an assistant response.
type SourceType string

const (
	SourceRegulatory SourceType = "regulatory"
	SourceGuideline  SourceType = "guideline"
	SourceCRM        SourceType = "crm"
)

// Source is a citation inferred from assistant response content.
type Source struct {
	Type  SourceType `json:"type"`
	Title string     `json:"title"`
	URL   string     `json:"url,omitempty"`
}

// AssistantResponse is the answer to an [AssistantQuery].
type AssistantResponse struct {
	Text       string   `json:"responseText"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence,omitempty"`
}

// VoiceAgentRecord binds a (user, profession, custom profession) triple to an
// agent hosted by the conversational voice provider. At most one active record
// exists per triple.
type VoiceAgentRecord struct {
	ID               string
	UserID           string
	Profession       Profession
	CustomProfession string
	AgentID          string
	VoiceID          string
	SystemPrompt     string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionStatus is the lifecycle state of a clinical session.
type SessionStatus string

const (
	StatusRecording     SessionStatus = "RECORDING"
	StatusProcessing    SessionStatus = "PROCESSING"
	StatusReviewPending SessionStatus = "REVIEW_PENDING"
	StatusSigned        SessionStatus = "SIGNED"
	StatusArchived      SessionStatus = "ARCHIVED"
	StatusCancelled     SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusSigned || s == StatusArchived || s == StatusCancelled
}

// Session is one recorded consultation.
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	LeadID           string        `json:"leadId,omitempty"`
	PatientName      string        `json:"patientName,omitempty"`
	ChiefComplaint   string        `json:"chiefComplaint,omitempty"`
	Profession       Profession    `json:"profession"`
	CustomProfession string        `json:"customProfession,omitempty"`
	Language         string        `json:"language,omitempty"`
	Status           SessionStatus `json:"status"`
	Segments         []Segment     `json:"segments"`
	Duration         float64       `json:"duration"`
	CurrentVersion   int           `json:"currentVersion"`
	SignatureHash    string        `json:"signatureHash,omitempty"`
	SignedAt         time.Time     `json:"signedAt,omitzero"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// NoteVersion is one immutable revision of a session's note.
type NoteVersion struct {
	SessionID string         `json:"sessionId"`
	Version   int            `json:"version"`
	Note      StructuredNote `json:"note"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// LeadNote is a free-text note stored against a patient record by the
// surrounding CRM.
type LeadNote struct {
	ID        string
	LeadID    string
	Content   string
	CreatedAt time.Time
}

// SignedNote is the current note version of a signed session, as surfaced in a
// patient history digest.
type SignedNote struct {
	SessionID string
	SignedAt  time.Time
	Note      StructuredNote
}
