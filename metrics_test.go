package otpkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricIssueSuccess)
	m.Inc(MetricIssueSuccess)
	m.Inc(MetricVerifyFailure)

	snap := m.Snapshot()
	if snap.Counters[MetricIssueSuccess] != 2 {
		t.Fatalf("issue success = %d, want 2", snap.Counters[MetricIssueSuccess])
	}
	if snap.Counters[MetricVerifyFailure] != 1 {
		t.Fatalf("verify failure = %d, want 1", snap.Counters[MetricVerifyFailure])
	}
	if snap.Counters[MetricVerifySuccess] != 0 {
		t.Fatalf("verify success = %d, want 0", snap.Counters[MetricVerifySuccess])
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricIssueSuccess)

	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("disabled metrics must snapshot empty, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricVerifySuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().Counters[MetricVerifySuccess]; got != 8000 {
		t.Fatalf("verify success = %d, want 8000", got)
	}
}

func TestEngineCountsOutcomes(t *testing.T) {
	store := newTestMemStore()
	clock := newFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	engine := newClockEngine(t, store, clock, DefaultConfig(), nil)
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

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricIssueSuccess] != 1 {
		t.Fatalf("issue success = %d, want 1", snap.Counters[MetricIssueSuccess])
	}
	if snap.Counters[MetricVerifyFailure] != 1 {
		t.Fatalf("verify failure = %d, want 1", snap.Counters[MetricVerifyFailure])
	}
	if snap.Counters[MetricVerifySuccess] != 1 {
		t.Fatalf("verify success = %d, want 1", snap.Counters[MetricVerifySuccess])
	}
}
