// Package otpkit provides a one-time-passcode issuance and verification core
// with sliding-window rate limiting, append-only audit events, and pluggable
// storage, delivery, and clock collaborators.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Every Issue/Verify invocation is an independent unit of
// work; all shared state lives in the backing [Store].
//
// # Architecture boundaries
//
// otpkit is the public surface. It exposes [Engine], [Builder], [Config],
// [Store], and value types (CodeRecord, AuditEntry, MetricsSnapshot). The
// engine produces codes and decides verification outcomes; it never delivers
// codes to end users. Delivery is the wrapping caller's concern, expressed
// through the [Sender] interface and the implementations under delivery/.
//
// # What this package must NOT do
//
//   - Send email or SMS. The engine hands the generated code to its
//     in-process caller; transports redact it from user-facing responses
//     unless explicitly configured otherwise.
//   - Issue sessions or tokens after a successful verification. The engine's
//     job ends at verified true/false.
//   - Retry failed store operations on the caller's behalf. Retrying a
//     Verify after a transient store error must not be conflated with a
//     genuine attempt against the record's budget.
package otpkit
