package auth

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for authentication failures.
var (
	ErrBadCredentials       = errors.New("auth: bad credentials")
	ErrPasswordExpired      = errors.New("auth: password expired")
	ErrUserRevoked          = errors.New("auth: user revoked")
	ErrCertificateNotMapped = errors.New("auth: certificate not mapped")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrExpiredToken         = errors.New("auth: token expired")
	ErrExternalMechanism    = errors.New("auth: external mechanism error")
	ErrStoreUnavailable     = errors.New("auth: identity store unavailable")
	ErrConfiguration        = errors.New("auth: configuration error")
	ErrNoApplicableStrategy = errors.New("auth: no applicable strategy")
)

// Lookup and parse errors.
var (
	// ErrNotFound is returned by identity stores when no identity matches.
	ErrNotFound = errors.New("auth: identity not found")

	// ErrMalformedAccessID indicates a string is not "type:realm/uniqueId".
	ErrMalformedAccessID = errors.New("auth: malformed access id")
)

// Reason classifies why an attempt failed.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonBadCredentials
	ReasonPasswordExpired
	ReasonUserRevoked
	ReasonCertificateNotMapped
	ReasonInvalidToken
	ReasonExpiredToken
	ReasonExternalMechanism
	ReasonStoreUnavailable
	ReasonConfiguration
	ReasonNoApplicableStrategy
)

var reasonSentinels = map[Reason]error{
	ReasonBadCredentials:       ErrBadCredentials,
	ReasonPasswordExpired:      ErrPasswordExpired,
	ReasonUserRevoked:          ErrUserRevoked,
	ReasonCertificateNotMapped: ErrCertificateNotMapped,
	ReasonInvalidToken:         ErrInvalidToken,
	ReasonExpiredToken:         ErrExpiredToken,
	ReasonExternalMechanism:    ErrExternalMechanism,
	ReasonStoreUnavailable:     ErrStoreUnavailable,
	ReasonConfiguration:        ErrConfiguration,
	ReasonNoApplicableStrategy: ErrNoApplicableStrategy,
}

// String returns the snake_case reason name used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonBadCredentials:
		return "bad_credentials"
	case ReasonPasswordExpired:
		return "password_expired"
	case ReasonUserRevoked:
		return "user_revoked"
	case ReasonCertificateNotMapped:
		return "certificate_not_mapped"
	case ReasonInvalidToken:
		return "invalid_token"
	case ReasonExpiredToken:
		return "expired_token"
	case ReasonExternalMechanism:
		return "external_mechanism_error"
	case ReasonStoreUnavailable:
		return "store_unavailable"
	case ReasonConfiguration:
		return "configuration_error"
	case ReasonNoApplicableStrategy:
		return "no_applicable_strategy"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for r, or nil for ReasonUnknown.
func (r Reason) Err() error {
	return reasonSentinels[r]
}

// Failure is the error a strategy or the chain returns when an attempt
// fails. It matches both its reason sentinel and the underlying cause with
// errors.Is.
type Failure struct {
	Reason   Reason
	Strategy string
	Err      error
}

// NewFailure creates a failure.
func NewFailure(reason Reason, strategy string, err error) *Failure {
	return &Failure{Reason: reason, Strategy: strategy, Err: err}
}

func (f *Failure) Error() string {
	msg := "auth: " + f.Reason.String()
	if f.Strategy != "" {
		msg = "auth: " + f.Strategy + ": " + f.Reason.String()
	}
	if f.Err != nil && !errors.Is(f.Reason.Err(), f.Err) {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap exposes the reason sentinel and the cause.
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := f.Reason.Err(); s != nil {
		errs = append(errs, s)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// ReasonOf classifies err. It returns ReasonUnknown for nil or
// unrecognized errors.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	for r := ReasonBadCredentials; r <= ReasonNoApplicableStrategy; r++ {
		if errors.Is(err, r.Err()) {
			return r
		}
	}
	return ReasonUnknown
}

// IsRetryable reports whether the caller can fix the failure by
// authenticating again with fresh credentials.
func IsRetryable(err error) bool {
	switch ReasonOf(err) {
	case ReasonExpiredToken, ReasonPasswordExpired:
		return true
	default:
		return false
	}
}

// IsBackendFailure reports whether err reflects an infrastructure problem
// rather than a credential problem.
func IsBackendFailure(err error) bool {
	switch ReasonOf(err) {
	case ReasonStoreUnavailable, ReasonConfiguration:
		return true
	default:
		return false
	}
}

// StoreFailure converts an identity store error into a failure. Lookup
// misses become miss and unrecognized errors are treated as the store being
// unavailable. Context errors are returned unchanged.
func StoreFailure(strategy string, err error, miss Reason) error {
	switch {
	case isContextError(err):
		return err
	case errors.Is(err, ErrNotFound):
		return NewFailure(miss, strategy, err)
	case errors.Is(err, ErrBadCredentials):
		return NewFailure(ReasonBadCredentials, strategy, err)
	case errors.Is(err, ErrPasswordExpired):
		return NewFailure(ReasonPasswordExpired, strategy, err)
	case errors.Is(err, ErrUserRevoked):
		return NewFailure(ReasonUserRevoked, strategy, err)
	case errors.Is(err, ErrStoreUnavailable):
		return NewFailure(ReasonStoreUnavailable, strategy, err)
	default:
		return NewFailure(ReasonStoreUnavailable, strategy, fmt.Errorf("identity store: %w", err))
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
