// Package pgstore provides a Postgres-backed otpkit.Store over sqlx.
//
// Expected schema:
//
//	CREATE TABLE otp_codes (
//	  id TEXT PRIMARY KEY,
//	  identifier TEXT NOT NULL,
//	  purpose TEXT NOT NULL,
//	  code TEXT NOT NULL,
//	  created_at TIMESTAMP WITH TIME ZONE NOT NULL,
//	  expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
//	  attempts INT NOT NULL DEFAULT 0,
//	  max_attempts INT NOT NULL,
//	  used_at TIMESTAMP WITH TIME ZONE,
//	  used_reason TEXT NOT NULL DEFAULT '',
//	  version BIGINT NOT NULL DEFAULT 0
//	);
//	CREATE UNIQUE INDEX otp_codes_open_pair
//	  ON otp_codes (identifier, purpose) WHERE used_at IS NULL;
//	CREATE INDEX otp_codes_issued ON otp_codes (identifier, purpose, created_at);
//
// The partial unique index enforces the at-most-one-outstanding invariant at
// the database level on top of the transactional supersede-then-insert.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/otpkit/otpkit"
)

// Store implements otpkit.Store over a Postgres database.
type Store struct {
	db *sqlx.DB
}

// New returns a Store over db.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type codeRow struct {
	ID          string       `db:"id"`
	Identifier  string       `db:"identifier"`
	Purpose     string       `db:"purpose"`
	Code        string       `db:"code"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
	Attempts    int          `db:"attempts"`
	MaxAttempts int          `db:"max_attempts"`
	UsedAt      sql.NullTime `db:"used_at"`
	UsedReason  string       `db:"used_reason"`
	Version     int64        `db:"version"`
}

func (r codeRow) record() *otpkit.CodeRecord {
	rec := &otpkit.CodeRecord{
		ID:          r.ID,
		Identifier:  r.Identifier,
		Purpose:     r.Purpose,
		Code:        r.Code,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		UsedReason:  r.UsedReason,
		Version:     uint32(r.Version),
	}
	if r.UsedAt.Valid {
		rec.UsedAt = r.UsedAt.Time
	}
	return rec
}

// GetLatestOpen implements otpkit.Store.
func (s *Store) GetLatestOpen(ctx context.Context, identifier, purpose string) (*otpkit.CodeRecord, error) {
	var row codeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, identifier, purpose, code, created_at, expires_at,
		       attempts, max_attempts, used_at, used_reason, version
		FROM otp_codes
		WHERE identifier = $1 AND purpose = $2 AND used_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, identifier, purpose)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, otpkit.ErrNoOpenCode
		}
		return nil, fmt.Errorf("select open record: %w", err)
	}
	return row.record(), nil
}

// InsertSuperseding implements otpkit.Store. The cap check, the supersede
// UPDATE, and the INSERT run in one serializable transaction; the issuance
// history is the table itself.
func (s *Store) InsertSuperseding(ctx context.Context, rec *otpkit.CodeRecord, historyWindow time.Duration, maxIssued int) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if maxIssued > 0 {
		var count int
		err := tx.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM otp_codes
			WHERE identifier = $1 AND purpose = $2 AND created_at >= $3`,
			rec.Identifier, rec.Purpose, rec.CreatedAt.Add(-historyWindow))
		if err != nil {
			return fmt.Errorf("count issued: %w", err)
		}
		if count >= maxIssued {
			return otpkit.ErrRateLimited
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE otp_codes
		SET used_at = $1, used_reason = $2, version = version + 1
		WHERE identifier = $3 AND purpose = $4 AND used_at IS NULL`,
		rec.CreatedAt, otpkit.UsedSuperseded, rec.Identifier, rec.Purpose)
	if err != nil {
		return fmt.Errorf("supersede: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO otp_codes
		  (id, identifier, purpose, code, created_at, expires_at, attempts, max_attempts, used_reason, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', 0)`,
		rec.ID, rec.Identifier, rec.Purpose, rec.Code,
		rec.CreatedAt, rec.ExpiresAt, rec.Attempts, rec.MaxAttempts)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateRecord implements otpkit.Store as a single-statement optimistic
// update on the version column.
func (s *Store) UpdateRecord(ctx context.Context, rec *otpkit.CodeRecord, expectedVersion uint32) error {
	var usedAt sql.NullTime
	if !rec.UsedAt.IsZero() {
		usedAt = sql.NullTime{Time: rec.UsedAt, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE otp_codes
		SET attempts = $1, used_at = $2, used_reason = $3, version = version + 1
		WHERE id = $4 AND version = $5`,
		rec.Attempts, usedAt, rec.UsedReason, rec.ID, int64(expectedVersion))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return otpkit.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	return nil
}

// CountIssuedSince implements otpkit.Store as a pure read over the table.
func (s *Store) CountIssuedSince(ctx context.Context, identifier, purpose string, since time.Time) (int, time.Time, error) {
	var row struct {
		Count  int          `db:"n"`
		Oldest sql.NullTime `db:"oldest"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS n, MIN(created_at) AS oldest
		FROM otp_codes
		WHERE identifier = $1 AND purpose = $2 AND created_at >= $3`,
		identifier, purpose, since)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count issued: %w", err)
	}

	var oldest time.Time
	if row.Oldest.Valid {
		oldest = row.Oldest.Time
	}
	return row.Count, oldest, nil
}
