package otpkit

import (
	"context"
	"fmt"
)

// RateLimiter decides whether a new code may be issued for an
// (identifier, purpose) pair based on recent issuance history. It is a leaf
// component: the check is a pure read, and the issuance event that feeds
// subsequent checks is appended by the store when the issuer inserts the new
// record.
type RateLimiter struct {
	store Store
	clock Clock
	cfg   RateLimitConfig
}

// NewRateLimiter returns a limiter over store with the given window and cap.
func NewRateLimiter(store Store, clock Clock, cfg RateLimitConfig) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{
		store: store,
		clock: clock,
		cfg:   cfg,
	}
}

// Check counts issuance events for the pair within the trailing window.
// When the cap is reached it denies with Reason "rate_limited" and
// BlockedUntil set to the moment the oldest counted event exits the window.
//
// A store read failure is an infrastructure error, distinct from a denial;
// callers must not treat it as "allowed".
func (l *RateLimiter) Check(ctx context.Context, identifier, purpose string) (RateDecision, error) {
	if identifier == "" {
		return RateDecision{}, ErrIdentifierRequired
	}
	if purpose == "" {
		return RateDecision{}, ErrPurposeRequired
	}

	now := l.clock.Now()
	since := now.Add(-l.cfg.Window)

	count, oldest, err := l.store.CountIssuedSince(ctx, identifier, purpose, since)
	if err != nil {
		return RateDecision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count >= l.cfg.MaxIssued {
		return RateDecision{
			Allowed:      false,
			Reason:       ReasonRateLimited,
			BlockedUntil: oldest.Add(l.cfg.Window),
		}, nil
	}

	return RateDecision{Allowed: true}, nil
}
