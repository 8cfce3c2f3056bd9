package otpkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/otpkit/otpkit/internal"
	"go.uber.org/zap"
)

// Issue generates a new code for (identifier, purpose), supersedes any
// outstanding code for the pair, persists the new record, and audits the
// outcome.
//
// On a rate-limit denial the error is ErrRateLimited and
// IssueResult.BlockedUntil reports when issuance reopens. On a store failure
// the error classifies as KindInfrastructure and no record or audit entry is
// written.
//
// The returned code is for the in-process caller to hand to a delivery
// [Sender]; transports must not expose it to end users outside an explicit
// development configuration.
func (e *Engine) Issue(ctx context.Context, identifier, purpose string) (IssueResult, error) {
	if e == nil || e.store == nil || e.limiter == nil {
		return IssueResult{}, ErrEngineNotReady
	}
	if identifier == "" {
		return IssueResult{}, ErrIdentifierRequired
	}
	if purpose == "" {
		return IssueResult{}, ErrPurposeRequired
	}

	decision, err := e.limiter.Check(ctx, identifier, purpose)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.logger.Error("otp issuance rate check failed",
			zap.String("purpose", purpose),
			zap.Error(err),
		)
		return IssueResult{}, err
	}
	if !decision.Allowed {
		e.metricInc(MetricIssueRateLimited)
		e.emitAudit(ctx, ActionRateLimited, identifier, purpose, func() map[string]string {
			return map[string]string{
				"reason":        decision.Reason,
				"blocked_until": decision.BlockedUntil.UTC().Format(timeLayout),
			}
		})
		return IssueResult{BlockedUntil: decision.BlockedUntil}, ErrRateLimited
	}

	code, err := internal.NewNumericCode(e.config.Code.Digits)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		return IssueResult{}, fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}

	now := e.clock.Now()
	rec := &CodeRecord{
		ID:          uuid.NewString(),
		Identifier:  identifier,
		Purpose:     purpose,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.Code.TTL),
		Attempts:    0,
		MaxAttempts: e.config.Code.MaxAttempts,
	}

	// Supersession, the cap re-check, and the insert are one atomic store
	// step: concurrent Issue calls can neither leave two outstanding records
	// nor push the issuance count past the cap between the limiter check
	// above and the write.
	if err := e.store.InsertSuperseding(ctx, rec, e.config.RateLimit.Window, e.config.RateLimit.MaxIssued); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return e.issueDenied(ctx, identifier, purpose)
		}
		e.metricInc(MetricIssueFailure)
		e.logger.Error("otp record insert failed",
			zap.String("purpose", purpose),
			zap.Error(err),
		)
		return IssueResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, ActionGenerated, identifier, purpose, func() map[string]string {
		return map[string]string{
			"expires_at":   rec.ExpiresAt.UTC().Format(timeLayout),
			"max_attempts": strconv.Itoa(rec.MaxAttempts),
		}
	})

	return IssueResult{
		Code:      code,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// issueDenied handles a cap refusal raised inside the store insert, after
// the limiter check already passed. The limiter is re-read, best effort, to
// recover the blocked-until horizon for the caller.
func (e *Engine) issueDenied(ctx context.Context, identifier, purpose string) (IssueResult, error) {
	var blockedUntil time.Time
	if decision, err := e.limiter.Check(ctx, identifier, purpose); err == nil && !decision.Allowed {
		blockedUntil = decision.BlockedUntil
	}

	e.metricInc(MetricIssueRateLimited)
	e.emitAudit(ctx, ActionRateLimited, identifier, purpose, func() map[string]string {
		md := map[string]string{"reason": ReasonRateLimited}
		if !blockedUntil.IsZero() {
			md["blocked_until"] = blockedUntil.UTC().Format(timeLayout)
		}
		return md
	})
	return IssueResult{BlockedUntil: blockedUntil}, ErrRateLimited
}
