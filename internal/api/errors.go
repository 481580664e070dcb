package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/docpen/scribe/internal/assistant"
	"github.com/docpen/scribe/internal/note"
	"github.com/docpen/scribe/internal/resilience"
	"github.com/docpen/scribe/internal/session"
	"github.com/docpen/scribe/internal/store"
	"github.com/docpen/scribe/internal/voiceagent"
)

// classify maps an error to an HTTP status and a stable error code. Order
// matters: a breaker rejection is wrapped inside a SynthesisError, and a
// request timeout inside almost anything.
func classify(err error) (int, string) {
	var (
		reqErr   *requestError
		synthErr *note.SynthesisError
		provErr  *voiceagent.ProvisioningError
	)
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, assistant.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_request"

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, voiceagent.ErrNoAgent):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "conflict"

	case errors.Is(err, note.ErrEmptyNote),
		errors.Is(err, session.ErrNoNote),
		errors.Is(err, note.ErrNoTranscript):
		return http.StatusUnprocessableEntity, "unprocessable"

	case errors.Is(err, errNotConfigured),
		errors.Is(err, session.ErrNoSTT):
		return http.StatusNotImplemented, "not_configured"

	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "unavailable"

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"

	case errors.As(err, &synthErr),
		errors.As(err, &provErr),
		errors.Is(err, assistant.ErrEmptyResponse):
		return http.StatusBadGateway, "upstream_failure"
	}
	return http.StatusInternalServerError, "internal"
}
