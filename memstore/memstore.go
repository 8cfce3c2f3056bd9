// Package memstore provides an in-memory otpkit.Store for tests and
// single-process development setups. It honors the same atomicity contract
// as the production backends: supersede-then-insert is one step under the
// store mutex, and updates are version-guarded.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/otpkit/otpkit"
)

type pairKey struct {
	identifier string
	purpose    string
}

// Store is a mutex-guarded implementation of otpkit.Store. The zero value is
// not usable; construct with New.
type Store struct {
	mu      sync.Mutex
	records map[pairKey]*otpkit.CodeRecord
	history map[pairKey][]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[pairKey]*otpkit.CodeRecord),
		history: make(map[pairKey][]time.Time),
	}
}

// GetLatestOpen implements otpkit.Store.
func (s *Store) GetLatestOpen(ctx context.Context, identifier, purpose string) (*otpkit.CodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[pairKey{identifier, purpose}]
	if !ok || !rec.Outstanding() {
		return nil, otpkit.ErrNoOpenCode
	}
	clone := *rec
	return &clone, nil
}

// InsertSuperseding implements otpkit.Store. The cap check and the insert
// run under the same mutex hold, so concurrent callers cannot overshoot
// maxIssued.
func (s *Store) InsertSuperseding(ctx context.Context, rec *otpkit.CodeRecord, historyWindow time.Duration, maxIssued int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{rec.Identifier, rec.Purpose}

	if maxIssued > 0 {
		windowStart := rec.CreatedAt.Add(-historyWindow)
		var count int
		for _, at := range s.history[key] {
			if !at.Before(windowStart) {
				count++
			}
		}
		if count >= maxIssued {
			return otpkit.ErrRateLimited
		}
	}

	// Replacing the record at the pair's key is the supersession: the prior
	// outstanding code ceases to be matchable in the same step.
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

// UpdateRecord implements otpkit.Store.
func (s *Store) UpdateRecord(ctx context.Context, rec *otpkit.CodeRecord, expectedVersion uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{rec.Identifier, rec.Purpose}
	stored, ok := s.records[key]
	if !ok || stored.ID != rec.ID || stored.Version != expectedVersion {
		return otpkit.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	clone := *rec
	s.records[key] = &clone
	return nil
}

// CountIssuedSince implements otpkit.Store.
func (s *Store) CountIssuedSince(ctx context.Context, identifier, purpose string, since time.Time) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	var oldest time.Time
	for _, at := range s.history[pairKey{identifier, purpose}] {
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
