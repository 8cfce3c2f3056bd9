package otpkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyLifecycle(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	engine := newClockEngine(t, store, clock, DefaultConfig(), nil)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := wrongCode(issued.Code)
	res, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, wrong)
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for wrong code, got %v", err)
	}
	if res.RemainingAttempts != 2 {
		t.Fatalf("RemainingAttempts = %d, want 2", res.RemainingAttempts)
	}

	// Nine minutes in, the code is still inside its ten minute TTL.
	clock.Advance(9 * time.Minute)
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); err != nil {
		t.Fatalf("Verify with correct code failed: %v", err)
	}

	// The record was consumed; a replay of the same code must fail and be
	// indistinguishable from never having issued one.
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid on replay, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	engine := newClockEngine(t, store, clock, DefaultConfig(), nil)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(11 * time.Minute)

	_, err = engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code)
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}

	// Expiry is terminal. The second submission sees no outstanding record.
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid after expiry transition, got %v", err)
	}
}

func TestVerifyExactExpiryBoundary(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	engine := newClockEngine(t, store, clock, DefaultConfig(), nil)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// At exactly ExpiresAt the code is still valid; only after it is expired.
	clock.Advance(10 * time.Minute)
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); err != nil {
		t.Fatalf("Verify at expiry instant failed: %v", err)
	}
}

func TestVerifyMaxAttempts(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	engine := newClockEngine(t, store, clock, DefaultConfig(), nil)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	wrong := wrongCode(issued.Code)

	for want := 2; want >= 0; want-- {
		res, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, wrong)
		if !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected ErrCodeInvalid, got %v", err)
		}
		if res.RemainingAttempts != want {
			t.Fatalf("RemainingAttempts = %d, want %d", res.RemainingAttempts, want)
		}
	}

	// The budget is spent. Even the correct code is rejected now.
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	// Exhaustion is terminal, so later submissions see no outstanding record.
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid after exhaustion, got %v", err)
	}
}

func TestVerifyNoOutstandingCode(t *testing.T) {
	engine, _ := newRedisEngine(t)
	ctx := context.Background()

	// No code was ever issued. The answer must be the same error a wrong
	// code produces, so callers cannot enumerate active identifiers.
	_, err := engine.Verify(ctx, "nobody@example.com", DefaultPurpose, "123456")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if Kind(err) != KindPolicy {
		t.Fatalf("expected policy kind, got %v", Kind(err))
	}
}

func TestVerifyValidation(t *testing.T) {
	engine, _ := newRedisEngine(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		identifier string
		code       string
		want       error
	}{
		{"empty identifier", "", "123456", ErrIdentifierRequired},
		{"empty code", "alice@example.com", "", ErrCodeRequired},
		{"short code", "alice@example.com", "12345", ErrCodeFormat},
		{"long code", "alice@example.com", "1234567", ErrCodeFormat},
		{"non numeric", "alice@example.com", "12a456", ErrCodeFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Verify(ctx, tc.identifier, DefaultPurpose, tc.code)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if Kind(err) != KindValidation {
				t.Fatalf("expected validation kind, got %v", Kind(err))
			}
		})
	}
}

func TestVerifyStoreUnavailable(t *testing.T) {
	engine, mr := newRedisEngine(t)
	ctx := context.Background()

	if _, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	mr.Close()

	_, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, "123456")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestVerifyAuditTrail(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	sink := NewChannelSink(16)
	engine := newClockEngine(t, store, clock, DefaultConfig(), sink)
	ctx := context.Background()

	issued, err := engine.Issue(ctx, "alice@example.com", DefaultPurpose)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, wrongCode(issued.Code)); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if _, err := engine.Verify(ctx, "alice@example.com", DefaultPurpose, issued.Code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	generated := waitForEntry(t, sink)
	if generated.Action != ActionGenerated {
		t.Fatalf("first action = %q, want %q", generated.Action, ActionGenerated)
	}

	failed := waitForEntry(t, sink)
	if failed.Action != ActionFailed {
		t.Fatalf("second action = %q, want %q", failed.Action, ActionFailed)
	}
	if failed.Metadata["reason"] != ReasonIncorrectCode {
		t.Fatalf("failure reason = %q, want %q", failed.Metadata["reason"], ReasonIncorrectCode)
	}

	verified := waitForEntry(t, sink)
	if verified.Action != ActionVerified {
		t.Fatalf("third action = %q, want %q", verified.Action, ActionVerified)
	}
}

func TestVerifyNoValidOTPAuditReason(t *testing.T) {
	store := newTestMemStore()
	sink := NewChannelSink(4)
	engine := newClockEngine(t, store, nil, DefaultConfig(), sink)
	ctx := context.Background()

	if _, err := engine.Verify(ctx, "nobody@example.com", DefaultPurpose, "123456"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}

	entry := waitForEntry(t, sink)
	if entry.Action != ActionFailed || entry.Metadata["reason"] != ReasonNoValidOTP {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

// wrongCode derives a same-length numeric code guaranteed to differ from c.
func wrongCode(c string) string {
	b := []byte(c)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}
