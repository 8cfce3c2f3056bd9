package otpkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"

	"github.com/otpkit/otpkit/internal"
	"go.uber.org/zap"
)

// Verify compares submittedCode against the outstanding code for
// (identifier, purpose) and drives the record's state machine: a match
// consumes the record, a mismatch spends one attempt, expiry and attempt
// exhaustion are terminal.
//
// "No outstanding code" and "wrong code" both return ErrCodeInvalid so a
// caller cannot probe whether a code was ever issued. Expiry
// (ErrCodeExpired) and exhaustion (ErrTooManyAttempts) are distinguishable
// because they are not sensitive. Every terminal transition and every
// mismatch writes exactly one audit entry.
func (e *Engine) Verify(ctx context.Context, identifier, purpose, submittedCode string) (VerifyResult, error) {
	if e == nil || e.store == nil {
		return VerifyResult{}, ErrEngineNotReady
	}
	if identifier == "" {
		return VerifyResult{}, ErrIdentifierRequired
	}
	if purpose == "" {
		return VerifyResult{}, ErrPurposeRequired
	}
	if submittedCode == "" {
		return VerifyResult{}, ErrCodeRequired
	}
	if len(submittedCode) != e.config.Code.Digits || !internal.IsNumericString(submittedCode) {
		return VerifyResult{}, ErrCodeFormat
	}

	rec, err := e.store.GetLatestOpen(ctx, identifier, purpose)
	if err != nil {
		if errors.Is(err, ErrNoOpenCode) {
			e.metricInc(MetricVerifyFailure)
			e.emitAudit(ctx, ActionFailed, identifier, purpose, func() map[string]string {
				return map[string]string{"reason": ReasonNoValidOTP}
			})
			return VerifyResult{}, ErrCodeInvalid
		}
		e.logger.Error("otp record lookup failed",
			zap.String("purpose", purpose),
			zap.Error(err),
		)
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.clock.Now()

	if now.After(rec.ExpiresAt) {
		if err := e.markUsed(ctx, rec, UsedExpired); err != nil {
			return VerifyResult{}, err
		}
		e.metricInc(MetricVerifyExpired)
		e.emitAudit(ctx, ActionExpired, identifier, purpose, nil)
		return VerifyResult{}, ErrCodeExpired
	}

	if rec.Attempts >= rec.MaxAttempts {
		if err := e.markUsed(ctx, rec, UsedExhausted); err != nil {
			return VerifyResult{}, err
		}
		e.metricInc(MetricVerifyExhausted)
		e.emitAudit(ctx, ActionFailed, identifier, purpose, func() map[string]string {
			return map[string]string{"reason": ReasonMaxAttemptsExceeded}
		})
		return VerifyResult{}, ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(submittedCode)) != 1 {
		expected := rec.Version
		rec.Attempts++
		if err := e.store.UpdateRecord(ctx, rec, expected); err != nil {
			return VerifyResult{}, e.updateError(purpose, err)
		}
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, ActionFailed, identifier, purpose, func() map[string]string {
			return map[string]string{
				"reason":   ReasonIncorrectCode,
				"attempts": strconv.Itoa(rec.Attempts),
			}
		})
		return VerifyResult{
			RemainingAttempts: rec.MaxAttempts - rec.Attempts,
		}, ErrCodeInvalid
	}

	if err := e.markUsed(ctx, rec, UsedVerified); err != nil {
		return VerifyResult{}, err
	}
	e.metricInc(MetricVerifySuccess)
	e.emitAudit(ctx, ActionVerified, identifier, purpose, nil)
	return VerifyResult{}, nil
}

// markUsed drives a terminal transition under the record's version guard.
func (e *Engine) markUsed(ctx context.Context, rec *CodeRecord, reason string) error {
	expected := rec.Version
	rec.UsedAt = e.clock.Now()
	rec.UsedReason = reason
	if err := e.store.UpdateRecord(ctx, rec, expected); err != nil {
		return e.updateError(rec.Purpose, err)
	}
	return nil
}

func (e *Engine) updateError(purpose string, err error) error {
	if errors.Is(err, ErrVersionConflict) {
		// A concurrent Verify or Issue won the race; the caller sees an
		// infrastructure error, never a second success.
		return ErrVersionConflict
	}
	e.logger.Error("otp record update failed",
		zap.String("purpose", purpose),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
