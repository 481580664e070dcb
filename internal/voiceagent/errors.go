package voiceagent

import (
	"errors"
	"fmt"
)

// ErrNoAgent is returned when an operation needs an active agent and the key
// has none.
var ErrNoAgent = errors.New("voiceagent: no active agent")

// ProvisioningError reports that an agent could not be created or connected:
// no credential resolved, or the provider refused. A provider HTTP failure
// is available through errors.As as a *voiceagent.APIError from the provider
// package, carrying the raw response body.
type ProvisioningError struct {
	Op     string
	UserID string
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("voiceagent: %s for user %q", e.Op, e.UserID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
