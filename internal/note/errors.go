package note

import (
	"fmt"

	"github.com/docpen/scribe/pkg/types"
)

// SynthesisError means the model produced no usable note text, either because
// the completion call failed or because it returned no content. It is never
// retried here.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return "note: " + e.Op + ": completion returned no content"
	}
	return fmt.Sprintf("note: %s: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ParseRecoveryWarning reports a core section that no parser tier recovered.
// It is not a failure on its own; a note where every core section has a
// warning is.
type ParseRecoveryWarning struct {
	Section types.Section
}

func (w ParseRecoveryWarning) Error() string {
	return "note: section " + string(w.Section) + " not found in model output"
}

// Warnings lists a warning for every blank core section of n.
func Warnings(n *types.StructuredNote) []ParseRecoveryWarning {
	missing := n.MissingSections()
	if len(missing) == 0 {
		return nil
	}
	out := make([]ParseRecoveryWarning, len(missing))
	for i, s := range missing {
		out[i] = ParseRecoveryWarning{Section: s}
	}
	return out
}
