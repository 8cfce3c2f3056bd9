package otpkit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEntry) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEntry) {
	<-s.gate
}

func TestAuditDispatcherDeliversEntries(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink, nil)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEntry{Action: ActionGenerated})
	}
	d.Close()

	if got := sink.count.Load(); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", d.Dropped())
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	// The worker blocks on the gated sink; the buffer holds one more entry.
	// Everything beyond that must be dropped, never block the caller.
	for i := 0; i < 8; i++ {
		d.Emit(context.Background(), AuditEntry{Action: ActionFailed})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected dropped entries with a blocked sink")
	}

	close(sink.gate)
	d.Close()
}

func TestAuditDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{}, nil)
	if d != nil {
		t.Fatalf("disabled audit must not start a dispatcher")
	}
	// Nil dispatchers are safe to use.
	d.Emit(context.Background(), AuditEntry{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("Dropped on nil dispatcher = %d, want 0", d.Dropped())
	}
}

func TestAuditDispatcherCloseDrains(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink, nil)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), AuditEntry{Action: ActionVerified})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("delivered = %d, want 50 after Close drain", got)
	}

	// Emit after Close is a no-op.
	d.Emit(context.Background(), AuditEntry{Action: ActionVerified})
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("delivered = %d after post-Close Emit, want 50", got)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	sink.Emit(context.Background(), AuditEntry{
		Timestamp:  at,
		Action:     ActionGenerated,
		Identifier: "alice@example.com",
		Purpose:    DefaultPurpose,
		Metadata:   map[string]string{"max_attempts": "3"},
	})
	sink.Emit(context.Background(), AuditEntry{
		Timestamp:  at.Add(time.Minute),
		Action:     ActionVerified,
		Identifier: "alice@example.com",
		Purpose:    DefaultPurpose,
	})

	scanner := bufio.NewScanner(&buf)
	var entries []AuditEntry
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != ActionGenerated || entries[1].Action != ActionVerified {
		t.Fatalf("unexpected actions: %q, %q", entries[0].Action, entries[1].Action)
	}
	if entries[0].Metadata["max_attempts"] != "3" {
		t.Fatalf("metadata lost in round trip: %+v", entries[0])
	}
}

func TestChannelSinkDoesNotBlockOnCancel(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), AuditEntry{Action: ActionGenerated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, AuditEntry{Action: ActionVerified})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Emit blocked on a full channel with canceled context")
	}
}
