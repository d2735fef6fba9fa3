package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/preset"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
	"github.com/samcharles93/quantcfg/internal/unify"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a run error to an HTTP status, an error type and a code.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, hwconfig.ErrMalformed),
		errors.Is(err, hwconfig.ErrUnsupportedVersion),
		errors.Is(err, toolconfig.ErrMalformed):
		return http.StatusBadRequest, "invalid_request_error", "malformed_input"
	case errors.Is(err, toolconfig.ErrUnsupportedPreset):
		return http.StatusBadRequest, "invalid_request_error", "unsupported_preset"
	case errors.Is(err, preset.ErrEmptyConfiguration):
		return http.StatusUnprocessableEntity, "resolution_error", "empty_configuration"
	case errors.Is(err, preset.ErrCannotUnify):
		return http.StatusUnprocessableEntity, "resolution_error", "cannot_unify"
	case errors.Is(err, unify.ErrOverlappingGroups):
		return http.StatusUnprocessableEntity, "resolution_error", "overlapping_groups"
	case errors.Is(err, graph.ErrUnknownNode), errors.Is(err, graph.ErrDanglingPort):
		return http.StatusUnprocessableEntity, "resolution_error", "invalid_graph"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "server_error", "canceled"
	}
	return http.StatusInternalServerError, "server_error", ""
}
