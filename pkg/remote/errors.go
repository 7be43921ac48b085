package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies remote store failures so callers can pick the right
// behavior: create-on-demand, re-read, stale fallback, or surfacing.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: record/comment absent. Often benign; triggers
	// create-on-demand.
	KindNotFound
	// KindAlreadyExists: lost a creation race. Treated as success by
	// retrying the read path.
	KindAlreadyExists
	// KindPermissionDenied: caller lacks rights. Surfaced verbatim, never
	// retried.
	KindPermissionDenied
	// KindRateLimited: triggers stale-cache fallback where permitted,
	// otherwise surfaced with a retry hint.
	KindRateLimited
	// KindValidation: malformed input. Surfaced, never retried.
	KindValidation
	// KindUnverified: a record was found but fails the trusted-writer
	// check. Fatal for that call, never silently accepted.
	KindUnverified
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindUnverified:
		return "unverified"
	default:
		return "unknown"
	}
}

// Error is a classified remote store failure. The classification must
// survive translation through every layer so consumers can distinguish
// "try again later" from "not allowed".
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Msg    string
	// RetryAfter carries the server's retry hint on rate-limited calls.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: %s (http %d): %s", e.Op, e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("remote %s: %s: %s", e.Op, e.Kind, e.Msg)
}

// KindOf extracts the classification from err, unwrapping as needed.
// Errors that are not remote errors report KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the retry hint attached to a rate-limited error, or
// zero when none is present.
func RetryAfterOf(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }
func IsAlreadyExists(err error) bool    { return KindOf(err) == KindAlreadyExists }
func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }
func IsRateLimited(err error) bool      { return KindOf(err) == KindRateLimited }
func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsUnverified(err error) bool       { return KindOf(err) == KindUnverified }
