package otpkit

import (
	"context"
	"errors"
)

var (
	// ErrIdentifierRequired reports an empty identifier. Fails fast, no store access.
	ErrIdentifierRequired = errors.New("identifier required")
	// ErrPurposeRequired reports an empty purpose namespace.
	ErrPurposeRequired = errors.New("purpose required")
	// ErrCodeRequired reports an empty submitted code.
	ErrCodeRequired = errors.New("code required")
	// ErrCodeFormat reports a submitted code that is not the configured number of digits.
	ErrCodeFormat = errors.New("code must be numeric with the configured digit count")

	// ErrRateLimited reports that the issuance cap for the trailing window is exhausted.
	ErrRateLimited = errors.New("otp issuance rate limited")
	// ErrCodeInvalid reports a failed verification. It deliberately covers both
	// "no outstanding code" and "wrong code" so callers cannot probe whether a
	// code was ever issued for an identifier.
	ErrCodeInvalid = errors.New("invalid or expired otp")
	// ErrCodeExpired reports that the outstanding code's TTL has elapsed.
	ErrCodeExpired = errors.New("otp expired")
	// ErrTooManyAttempts reports that the record's attempt budget is exhausted.
	ErrTooManyAttempts = errors.New("otp max attempts exceeded")

	// ErrStoreUnavailable reports a store read/write failure or timeout.
	ErrStoreUnavailable = errors.New("otp store unavailable")
	// ErrCodeGeneration reports a failure to draw randomness for a new code.
	ErrCodeGeneration = errors.New("otp code generation failed")
	// ErrVersionConflict reports a lost optimistic-concurrency race on a record.
	ErrVersionConflict = errors.New("otp record version conflict")

	// ErrNoOpenCode is returned by Store implementations when no outstanding
	// record exists for an (identifier, purpose) pair.
	ErrNoOpenCode = errors.New("no open otp record")

	// ErrEngineNotReady reports use of an Engine whose dependencies were not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind partitions engine errors so callers never conflate "your code was
// wrong" with "we couldn't check".
type ErrorKind int

const (
	// KindUnknown is returned for nil or unclassified errors.
	KindUnknown ErrorKind = iota
	// KindValidation covers malformed input rejected before any store access.
	KindValidation
	// KindPolicy covers expected, user-facing denials: rate limited, expired,
	// attempts exceeded, incorrect code.
	KindPolicy
	// KindInfrastructure covers store failures, timeouts, and lost
	// concurrency races.
	KindInfrastructure
)

// Kind classifies err into an [ErrorKind] by unwrapping to the package
// sentinels. Context cancellation and deadline errors classify as
// infrastructure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrIdentifierRequired),
		errors.Is(err, ErrPurposeRequired),
		errors.Is(err, ErrCodeRequired),
		errors.Is(err, ErrCodeFormat):
		return KindValidation
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrTooManyAttempts):
		return KindPolicy
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrCodeGeneration),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrEngineNotReady),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindInfrastructure
	default:
		return KindUnknown
	}
}
