package otpkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Audit actions. Every lifecycle transition of a code record emits exactly
// one entry with one of these actions.
const (
	ActionGenerated   = "generated"
	ActionRateLimited = "rate_limited"
	ActionVerified    = "verified"
	ActionFailed      = "failed"
	ActionExpired     = "expired"
)

// Reason codes carried in entry metadata for ActionFailed.
const (
	ReasonNoValidOTP          = "no_valid_otp"
	ReasonIncorrectCode       = "incorrect_code"
	ReasonMaxAttemptsExceeded = "max_attempts_exceeded"
	ReasonRateLimited         = "rate_limited"
)

// AuditEntry is one append-only lifecycle event. Entries are never updated
// or deleted by this package.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	Identifier string            `json:"identifier"`
	Purpose    string            `json:"purpose"`
	IP         string            `json:"ip,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives entries from the engine's dispatcher. Emit must not
// block longer than ctx allows; a sink failure never blocks the end-user
// response.
type AuditSink interface {
	Emit(ctx context.Context, entry AuditEntry)
}

// NoOpSink discards entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEntry) {}

// ChannelSink buffers entries on a channel for consumption by tests or a
// custom shipper.
type ChannelSink struct {
	entries chan AuditEntry
}

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		entries: make(chan AuditEntry, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, entry AuditEntry) {
	select {
	case s.entries <- entry:
	case <-ctx.Done():
	}
}

// Entries exposes the receive side of the sink.
func (s *ChannelSink) Entries() <-chan AuditEntry {
	return s.entries
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink returns a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, entry AuditEntry) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LoggerSink emits entries as structured zap records at info level.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink returns a LoggerSink over logger.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(_ context.Context, entry AuditEntry) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info("otp audit",
		zap.Time("timestamp", entry.Timestamp),
		zap.String("action", entry.Action),
		zap.String("identifier", entry.Identifier),
		zap.String("purpose", entry.Purpose),
		zap.String("ip", entry.IP),
		zap.Any("metadata", entry.Metadata),
	)
}
