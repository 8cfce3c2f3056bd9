package otpkit

import (
	"context"
	"time"
)

// timeLayout formats timestamps carried in audit metadata.
const timeLayout = time.RFC3339

// emitAudit enqueues one lifecycle entry. Emission is asynchronous and never
// blocks the caller's response; see auditDispatcher.
func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	identifier, purpose string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["user_agent"] = ua
	}

	e.audit.Emit(ctx, AuditEntry{
		Timestamp:  e.clock.Now().UTC(),
		Action:     action,
		Identifier: identifier,
		Purpose:    purpose,
		IP:         clientIPFromContext(ctx),
		Metadata:   metadata,
	})
}
