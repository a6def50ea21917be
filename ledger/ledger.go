/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ledger persists failed operations together with their next retry time.
//
// Each entry is stored twice: as a JSON record under "ledger:<messageId>" and as
// a member of the "retryQueue" sorted set scored by its next retry time in epoch
// seconds. Every mutation writes both inside one MULTI/EXEC guarded by WATCH on
// the record key, so a record never exists without its index entry and a
// concurrent writer forces a reload instead of a lost update.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Munozca230/order-processing-system/internal/backoff"
	"github.com/Munozca230/order-processing-system/model"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ledger:"
	QueueKey  = "retryQueue"

	DefaultTTL = 7 * 24 * time.Hour

	defaultTxRetries = 10
)

var (
	ErrNotFound = errors.New("ledger entry not found")

	// ErrConflict is returned when optimistic transactions kept colliding.
	ErrConflict = errors.New("ledger entry modified concurrently")

	// ErrNotDue is returned by Advance when the entry was rescheduled by
	// someone else after it was listed as due.
	ErrNotDue = errors.New("ledger entry is not due")
)

// Failure describes one failed operation to record.
type Failure struct {
	MessageID    string
	Content      string
	ErrorMessage string
	RetryCount   int
	Reason       string
}

type Store struct {
	client    redis.UniversalClient
	policy    backoff.Policy
	ttl       time.Duration
	now       func() time.Time
	txRetries int
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTTL sets the expiry of stored records.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(client redis.UniversalClient, policy backoff.Policy, opts ...Option) *Store {
	s := &Store{
		client:    client,
		policy:    policy,
		ttl:       DefaultTTL,
		now:       time.Now,
		txRetries: defaultTxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the record key of a message id.
func Key(messageID string) string {
	return keyPrefix + messageID
}

// Score converts a retry time to its sorted-set score.
func Score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// RecordFailure creates or refreshes the entry of f.MessageID. The stored retry
// count never goes down: an existing entry keeps max(stored, f.RetryCount).
func (s *Store) RecordFailure(ctx context.Context, f Failure) (*model.FailureRecord, error) {
	if f.MessageID == "" {
		return nil, errors.New("ledger: message id is required")
	}
	if f.Reason == "" {
		f.Reason = model.ReasonRetriesExhausted
	}
	if f.RetryCount < 0 {
		f.RetryCount = 0
	}

	key := Key(f.MessageID)
	var out *model.FailureRecord

	err := s.update(ctx, key, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}

		now := s.now()
		record := &model.FailureRecord{
			MessageID:     f.MessageID,
			Content:       f.Content,
			ErrorMessage:  f.ErrorMessage,
			RetryCount:    f.RetryCount,
			FirstFailedAt: now,
			LastRetryAt:   now,
			FailureReason: f.Reason,
		}
		if existing != nil {
			record.FirstFailedAt = existing.FirstFailedAt
			if existing.RetryCount > record.RetryCount {
				record.RetryCount = existing.RetryCount
			}
		}
		record.NextRetryAt = s.policy.NextRetryAt(now, record.RetryCount)

		if err := s.write(ctx, tx, record); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record failure %s: %w", f.MessageID, err)
	}
	return out, nil
}

// Fetch returns the entry of messageID, or nil when there is none.
func (s *Store) Fetch(ctx context.Context, messageID string) (*model.FailureRecord, error) {
	return s.load(ctx, s.client, Key(messageID))
}

// Due returns up to limit message ids whose next retry time is not after now,
// earliest first. A non-positive limit returns all of them.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(Score(now), 'f', -1, 64),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, QueueKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("scan retry queue: %w", err)
	}
	return ids, nil
}

// Advance bumps the retry count of a due entry and reschedules it. The due
// check runs inside the transaction, so of several sweepers racing on the same
// entry only one advances it.
func (s *Store) Advance(ctx context.Context, messageID string) (*model.FailureRecord, error) {
	key := Key(messageID)
	var out *model.FailureRecord

	err := s.update(ctx, key, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrNotFound
		}

		now := s.now()
		if record.NextRetryAt.After(now) {
			return ErrNotDue
		}
		record.RetryCount++
		record.LastRetryAt = now
		record.NextRetryAt = s.policy.NextRetryAt(now, record.RetryCount)

		if err := s.write(ctx, tx, record); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance %s: %w", messageID, err)
	}
	return out, nil
}

// Drop removes both the record and its index entry. Dropping a missing entry is not an error.
func (s *Store) Drop(ctx context.Context, messageID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, Key(messageID))
		pipe.ZRem(ctx, QueueKey, messageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop %s: %w", messageID, err)
	}
	return nil
}

// Pending returns the number of indexed entries.
func (s *Store) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, QueueKey).Result()
}

func (s *Store) update(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < s.txRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, c getter, key string) (*model.FailureRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record model.FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &record, nil
}

func (s *Store) write(ctx context.Context, tx *redis.Tx, record *model.FailureRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(record.MessageID), data, s.ttl)
		pipe.ZAdd(ctx, QueueKey, redis.Z{Score: Score(record.NextRetryAt), Member: record.MessageID})
		return nil
	})
	return err
}
