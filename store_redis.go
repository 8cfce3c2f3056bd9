package otpkit

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1

	// Terminal records stay readable past their expiry so the expiry
	// transition can still be observed and audited; the key TTL is the
	// external garbage collector.
	usedRecordRetention = time.Hour
)

// RedisStore is the bundled [Store] over a single Redis instance.
//
// The outstanding record for an (identifier, purpose) pair lives at one key,
// so supersede-then-insert collapses into a single SET: whichever concurrent
// Issue call writes last is the one outstanding record, and the loser's code
// can never verify. Issuance history is a per-pair sorted set scored by
// issuance time, feeding the sliding rate window.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore writing under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisStore) recordKey(identifier, purpose string) string {
	return s.prefix + ":code:" + purpose + ":" + identifier
}

func (s *RedisStore) historyKey(identifier, purpose string) string {
	return s.prefix + ":hist:" + purpose + ":" + identifier
}

// GetLatestOpen implements [Store]. Expired-but-present records are
// returned; records already marked used report ErrNoOpenCode.
func (s *RedisStore) GetLatestOpen(ctx context.Context, identifier, purpose string) (*CodeRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(identifier, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoOpenCode
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	rec, err := decodeCodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if !rec.Outstanding() {
		return nil, ErrNoOpenCode
	}
	return rec, nil
}

// InsertSuperseding implements [Store]. The record SET overwrites any prior
// record at the pair's key, which is exactly the supersession semantic: the
// previous outstanding code ceases to exist as a matchable record in the
// same atomic step that makes the new one outstanding. The history key is
// WATCHed so the cap check and the event append cannot interleave with a
// concurrent insert for the same pair.
func (s *RedisStore) InsertSuperseding(ctx context.Context, rec *CodeRecord, historyWindow time.Duration, maxIssued int) error {
	const maxRetries = 4

	encoded, err := encodeCodeRecord(rec)
	if err != nil {
		return err
	}

	recordTTL := rec.ExpiresAt.Sub(rec.CreatedAt) + usedRecordRetention
	histKey := s.historyKey(rec.Identifier, rec.Purpose)
	windowStart := rec.CreatedAt.Add(-historyWindow).UnixNano()

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			if maxIssued > 0 {
				count, err := tx.ZCount(ctx, histKey,
					strconv.FormatInt(windowStart, 10), "+inf").Result()
				if err != nil {
					return err
				}
				if count >= int64(maxIssued) {
					return ErrRateLimited
				}
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.recordKey(rec.Identifier, rec.Purpose), encoded, recordTTL)
				pipe.ZAdd(ctx, histKey, redis.Z{
					Score:  float64(rec.CreatedAt.UnixNano()),
					Member: rec.ID,
				})
				pipe.ZRemRangeByScore(ctx, histKey, "-inf", strconv.FormatInt(windowStart, 10))
				pipe.Expire(ctx, histKey, historyWindow+recordTTL)
				return nil
			})
			return err
		}, histKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrRateLimited) {
			return ErrRateLimited
		}
		if err != nil {
			return fmt.Errorf("redis insert: %w", err)
		}
		return nil
	}

	return fmt.Errorf("redis insert: %w", redis.TxFailedErr)
}

// UpdateRecord implements [Store] with a WATCH-guarded read-modify-write.
// The optimistic loop retries a bounded number of times on transaction
// interference; a version mismatch is reported as ErrVersionConflict without
// retrying, since the record genuinely moved.
func (s *RedisStore) UpdateRecord(ctx context.Context, rec *CodeRecord, expectedVersion uint32) error {
	const maxRetries = 4
	key := s.recordKey(rec.Identifier, rec.Purpose)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					// The record vanished underneath the caller; from the
					// caller's view that is a lost race, not a missing key.
					return ErrVersionConflict
				}
				return err
			}

			stored, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}
			// The ID check matters as much as the version: a superseding
			// insert resets the key to a fresh record at version 0, and a
			// stale caller still holding the previous generation must not
			// pass the CAS and clobber it.
			if stored.ID != rec.ID || stored.Version != expectedVersion {
				return ErrVersionConflict
			}

			rec.Version = expectedVersion + 1
			encoded, err := encodeCodeRecord(rec)
			if err != nil {
				return err
			}

			pttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if pttl <= 0 {
				pttl = usedRecordRetention
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, pttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return ErrVersionConflict
			}
			return fmt.Errorf("redis update: %w", err)
		}
		return nil
	}

	return ErrVersionConflict
}

// CountIssuedSince implements [Store] as a pure read over the history set.
func (s *RedisStore) CountIssuedSince(ctx context.Context, identifier, purpose string, since time.Time) (int, time.Time, error) {
	key := s.historyKey(identifier, purpose)
	min := strconv.FormatInt(since.UnixNano(), 10)

	count, err := s.redis.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis zcount: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   min,
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis zrange: %w", err)
	}
	if len(oldest) == 0 {
		return int(count), time.Time{}, nil
	}

	return int(count), time.Unix(0, int64(oldest[0].Score)), nil
}

func encodeCodeRecord(rec *CodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, uint16(rec.Attempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(rec.MaxAttempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.Version); err != nil {
		return nil, err
	}
	for _, ts := range []time.Time{rec.CreatedAt, rec.ExpiresAt, rec.UsedAt} {
		var unix int64
		if !ts.IsZero() {
			unix = ts.UnixNano()
		}
		if err := binary.Write(&buf, binary.BigEndian, unix); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{rec.ID, rec.Identifier, rec.Purpose, rec.Code, rec.UsedReason} {
		if len(field) > 65535 {
			return nil, errors.New("code record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeCodeRecord(data []byte) (*CodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	var attempts, maxAttempts uint16
	if err := binary.Read(reader, binary.BigEndian, &attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &maxAttempts); err != nil {
		return nil, err
	}

	rec := &CodeRecord{
		Attempts:    int(attempts),
		MaxAttempts: int(maxAttempts),
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.Version); err != nil {
		return nil, err
	}

	times := make([]time.Time, 3)
	for i := range times {
		var unix int64
		if err := binary.Read(reader, binary.BigEndian, &unix); err != nil {
			return nil, err
		}
		if unix != 0 {
			times[i] = time.Unix(0, unix)
		}
	}
	rec.CreatedAt, rec.ExpiresAt, rec.UsedAt = times[0], times[1], times[2]

	fields := make([]string, 5)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	rec.ID, rec.Identifier, rec.Purpose, rec.Code, rec.UsedReason = fields[0], fields[1], fields[2], fields[3], fields[4]

	return rec, nil
}
