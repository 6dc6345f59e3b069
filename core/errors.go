package core

import "github.com/pkg/errors"

// Boundary error kinds. Every failure surfaced by the public operations wraps
// exactly one of these sentinels; Kind recovers it after wrapping.
var (
	ErrValidation          = errors.New("validation_error")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrSessionExpired      = errors.New("session_expired")
	ErrConflict            = errors.New("conflict")
	ErrApprovalNotFound    = errors.New("approval_not_found")
	ErrApprovalTerminal    = errors.New("approval_terminal")
	ErrTimeout             = errors.New("timeout")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrInternal            = errors.New("internal")
)

var kinds = []error{
	ErrValidation,
	ErrSessionNotFound,
	ErrSessionExpired,
	ErrConflict,
	ErrApprovalNotFound,
	ErrApprovalTerminal,
	ErrTimeout,
	ErrUpstreamUnavailable,
	ErrInternal,
}

// Kind returns the boundary sentinel wrapped by err, or ErrInternal when the
// error carries no kind. Returns nil for a nil error.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
