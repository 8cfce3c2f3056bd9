package otpkit

import (
	"context"
	"sync"
	"time"
)

// testMemStore is a minimal in-memory Store for engine tests that need a
// deterministic clock. The Redis-backed equivalent is exercised separately.
type testMemStore struct {
	mu      sync.Mutex
	records map[string]*CodeRecord
	history map[string][]time.Time
}

func newTestMemStore() *testMemStore {
	return &testMemStore{
		records: make(map[string]*CodeRecord),
		history: make(map[string][]time.Time),
	}
}

func storeKey(identifier, purpose string) string {
	return purpose + "/" + identifier
}

func (s *testMemStore) GetLatestOpen(ctx context.Context, identifier, purpose string) (*CodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[storeKey(identifier, purpose)]
	if !ok || !rec.Outstanding() {
		return nil, ErrNoOpenCode
	}
	clone := *rec
	return &clone, nil
}

func (s *testMemStore) InsertSuperseding(ctx context.Context, rec *CodeRecord, historyWindow time.Duration, maxIssued int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(rec.Identifier, rec.Purpose)

	if maxIssued > 0 {
		windowStart := rec.CreatedAt.Add(-historyWindow)
		var count int
		for _, at := range s.history[key] {
			if !at.Before(windowStart) {
				count++
			}
		}
		if count >= maxIssued {
			return ErrRateLimited
		}
	}

	clone := *rec
	s.records[key] = &clone

	trimBefore := rec.CreatedAt.Add(-historyWindow)
	kept := s.history[key][:0]
	for _, at := range s.history[key] {
		if !at.Before(trimBefore) {
			kept = append(kept, at)
		}
	}
	s.history[key] = append(kept, rec.CreatedAt)
	return nil
}

func (s *testMemStore) UpdateRecord(ctx context.Context, rec *CodeRecord, expectedVersion uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(rec.Identifier, rec.Purpose)
	stored, ok := s.records[key]
	if !ok || stored.ID != rec.ID || stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	clone := *rec
	s.records[key] = &clone
	return nil
}

func (s *testMemStore) CountIssuedSince(ctx context.Context, identifier, purpose string, since time.Time) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	var oldest time.Time
	for _, at := range s.history[storeKey(identifier, purpose)] {
		if at.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return count, oldest, nil
}
