package otpkit

import (
	"context"
	"time"
)

// CodeRecord is one issued code for an (identifier, purpose) pair.
//
// A record with a zero UsedAt is outstanding. Once UsedAt is set the record
// is terminal: it is never matched again, whatever UsedReason says. The store
// guarantees at most one outstanding record per pair at any time.
type CodeRecord struct {
	ID          string
	Identifier  string
	Purpose     string
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	UsedAt      time.Time
	UsedReason  string
	// Version advances on every mutation and backs the optimistic
	// compare-and-set in Store.UpdateRecord.
	Version uint32
}

// Outstanding reports whether the record has not reached a terminal state.
func (r *CodeRecord) Outstanding() bool {
	return r != nil && r.UsedAt.IsZero()
}

// Used-reason values recorded on terminal transitions.
const (
	UsedVerified   = "verified"
	UsedExpired    = "expired"
	UsedExhausted  = "max_attempts_exceeded"
	UsedSuperseded = "superseded"
)

// IssueResult is the outcome of [Engine.Issue].
//
// Code is always populated for the in-process caller, which needs it to hand
// to a delivery [Sender]. Transports must redact it from user-facing
// responses unless an explicit development flag says otherwise.
type IssueResult struct {
	Code      string
	ExpiresAt time.Time
	// BlockedUntil is set alongside ErrRateLimited and reports when the
	// oldest counted issuance exits the rate window.
	BlockedUntil time.Time
}

// VerifyResult is the outcome of [Engine.Verify].
type VerifyResult struct {
	// RemainingAttempts is set alongside ErrCodeInvalid when a mismatch
	// consumed one attempt from the record's budget.
	RemainingAttempts int
}

// RateDecision is the outcome of [RateLimiter.Check].
type RateDecision struct {
	Allowed      bool
	Reason       string
	BlockedUntil time.Time
}

// Store is the persistence collaborator. Implementations must make
// InsertSuperseding atomic with respect to a single (identifier, purpose)
// pair and UpdateRecord a compare-and-set, so that concurrent issuance never
// leaves two outstanding records and concurrent verification never succeeds
// twice against one record.
//
// Store methods honor ctx cancellation and deadlines; failures surface as
// implementation errors which the engine maps to ErrStoreUnavailable.
type Store interface {
	// GetLatestOpen returns the outstanding record for the pair, or
	// ErrNoOpenCode. A present-but-expired record is still returned so the
	// caller can drive the expiry transition and audit it.
	GetLatestOpen(ctx context.Context, identifier, purpose string) (*CodeRecord, error)

	// InsertSuperseding marks any outstanding record for the pair as used
	// (superseded) and inserts rec as the new outstanding record, in one
	// atomic step. It also appends an issuance event to the pair's history
	// so subsequent CountIssuedSince calls observe this issue;
	// historyWindow bounds how long that event must be retained.
	//
	// When maxIssued > 0 and the pair already has maxIssued events inside
	// the trailing historyWindow, the insert is refused with ErrRateLimited,
	// atomically with the count. This closes the race between a separate
	// rate check and the insert: two concurrent calls can never push the
	// window total past the cap. maxIssued <= 0 disables the guard.
	InsertSuperseding(ctx context.Context, rec *CodeRecord, historyWindow time.Duration, maxIssued int) error

	// UpdateRecord persists rec if the stored version still equals
	// expectedVersion, advancing rec.Version. Returns ErrVersionConflict
	// when the record moved underneath the caller.
	UpdateRecord(ctx context.Context, rec *CodeRecord, expectedVersion uint32) error

	// CountIssuedSince reports how many codes were issued for the pair at or
	// after since, and the timestamp of the oldest counted issuance (zero
	// when the count is zero).
	CountIssuedSince(ctx context.Context, identifier, purpose string, since time.Time) (int, time.Time, error)
}

// Sender delivers a generated code to the subject over an out-of-band
// channel. The engine never calls Send; wrapping callers do, after a
// successful Issue. Implementations live under delivery/.
type Sender interface {
	Send(ctx context.Context, identifier, code string) error
}

// Clock abstracts time.Now so expiry and rate-window behavior is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock [Clock] used by default.
func SystemClock() Clock { return systemClock{} }
