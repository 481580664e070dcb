package voiceagent

import "github.com/docpen/scribe/pkg/types"

// Action is what [Manager.GetOrCreateAgent] does for a lookup result.
type Action int

const (
	// ActionCreate provisions a new remote agent and stores its record.
	ActionCreate Action = iota

	// ActionReuse returns the stored agent untouched.
	ActionReuse

	// ActionReuseAndUpdate pushes a fresh system prompt, then returns the
	// stored agent.
	ActionReuseAndUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionReuse:
		return "reuse"
	case ActionReuseAndUpdate:
		return "reuse_update"
	default:
		return "unknown"
	}
}

// Decide picks the action for the active record found for a key (nil when
// there is none) and whether the caller supplied session context.
func Decide(record *types.VoiceAgentRecord, hasContext bool) Action {
	switch {
	case record == nil || !record.IsActive:
		return ActionCreate
	case hasContext:
		return ActionReuseAndUpdate
	default:
		return ActionReuse
	}
}
