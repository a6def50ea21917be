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

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Munozca230/order-processing-system/internal/metrics"
	"github.com/Munozca230/order-processing-system/ledger"
	"github.com/Munozca230/order-processing-system/model"
)

const (
	DefaultSweepInterval   = 30 * time.Second
	DefaultSweepMaxRetries = 10
	DefaultSweepBatchSize  = 100
)

// Ledger is the part of the failure ledger the sweeper drives.
type Ledger interface {
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Fetch(ctx context.Context, messageID string) (*model.FailureRecord, error)
	// Advance returns ledger.ErrNotDue when the entry is no longer due.
	Advance(ctx context.Context, messageID string) (*model.FailureRecord, error)
	Drop(ctx context.Context, messageID string) error
	Pending(ctx context.Context) (int64, error)
}

// Resolver reports whether the work behind a ledger entry has since completed.
type Resolver interface {
	Resolved(ctx context.Context, record *model.FailureRecord) (bool, error)
}

// Replayer re-submits the work behind a ledger entry. It returns false when
// the entry carries nothing it can replay.
type Replayer interface {
	Replay(ctx context.Context, record *model.FailureRecord) (bool, error)
}

type SweeperConfig struct {
	Interval   time.Duration
	MaxRetries int
	BatchSize  int
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Advanced int `json:"advanced"`
	Replayed int `json:"replayed"`
	Resolved int `json:"resolved"`
	GaveUp   int `json:"gave_up"`
	Orphans  int `json:"orphans"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Sweeper periodically scans the ledger for due entries, reschedules them and
// drops the ones that are resolved or out of retries.
type Sweeper struct {
	ledger   Ledger
	cfg      SweeperConfig
	resolver Resolver
	replayer Replayer
	onGiveUp func(*model.FailureRecord)
	now      func() time.Time

	sweepMu sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

type SweeperOption func(*Sweeper)

func WithResolver(r Resolver) SweeperOption {
	return func(s *Sweeper) { s.resolver = r }
}

func WithReplayer(r Replayer) SweeperOption {
	return func(s *Sweeper) { s.replayer = r }
}

// WithGiveUpHandler is called for every entry dropped after running out of retries.
func WithGiveUpHandler(fn func(*model.FailureRecord)) SweeperOption {
	return func(s *Sweeper) { s.onGiveUp = fn }
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(l Ledger, cfg SweeperConfig, opts ...SweeperOption) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSweepMaxRetries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	s := &Sweeper{ledger: l, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules a sweep every configured interval until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		if _, err := s.Sweep(ctx); err != nil {
			logrus.WithError(err).Error("ledger sweep failed")
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	s.cron = c
	logrus.WithField("interval", s.cfg.Interval.String()).Info("ledger sweeper started")
	return nil
}

// Stop unschedules the sweep and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	logrus.Info("ledger sweeper stopped")
}

// Sweep runs one pass over the due entries. Concurrent calls are serialized.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var result SweepResult
	ids, err := s.ledger.Due(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Scanned++
		if err := s.sweepOne(ctx, id, &result); err != nil {
			result.Errors++
			metrics.SweepActions.WithLabelValues(metrics.SweepError).Inc()
			logrus.WithField("message_id", id).WithError(err).Warn("failed to sweep ledger entry")
		}
	}

	if pending, err := s.ledger.Pending(ctx); err == nil {
		metrics.LedgerPending.Set(float64(pending))
	}

	if result.Scanned > 0 {
		logrus.WithFields(logrus.Fields{
			"scanned":  result.Scanned,
			"advanced": result.Advanced,
			"replayed": result.Replayed,
			"resolved": result.Resolved,
			"gave_up":  result.GaveUp,
			"orphans":  result.Orphans,
			"skipped":  result.Skipped,
		}).Info("ledger sweep finished")
	}
	return result, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id string, result *SweepResult) error {
	record, err := s.ledger.Fetch(ctx, id)
	if err != nil {
		return err
	}

	if record == nil {
		if err := s.ledger.Drop(ctx, id); err != nil {
			return err
		}
		result.Orphans++
		metrics.SweepActions.WithLabelValues(metrics.SweepOrphan).Inc()
		return nil
	}

	if s.resolver != nil {
		resolved, err := s.resolver.Resolved(ctx, record)
		if err != nil {
			return err
		}
		if resolved {
			if err := s.ledger.Drop(ctx, id); err != nil {
				return err
			}
			result.Resolved++
			metrics.SweepActions.WithLabelValues(metrics.SweepResolved).Inc()
			return nil
		}
	}

	if record.RetryCount >= s.cfg.MaxRetries {
		if err := s.ledger.Drop(ctx, id); err != nil {
			return err
		}
		result.GaveUp++
		metrics.SweepActions.WithLabelValues(metrics.SweepGaveUp).Inc()
		logrus.WithFields(logrus.Fields{
			"message_id":     id,
			"retry_count":    record.RetryCount,
			"failure_reason": record.FailureReason,
		}).Error("dead letter: giving up on ledger entry")
		if s.onGiveUp != nil {
			s.onGiveUp(record)
		}
		return nil
	}

	advanced, err := s.ledger.Advance(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		// Dropped between Fetch and Advance.
		return s.ledger.Drop(ctx, id)
	}
	if errors.Is(err, ledger.ErrNotDue) {
		// Another sweeper or a fresh inline failure rescheduled it.
		result.Skipped++
		metrics.SweepActions.WithLabelValues(metrics.SweepSkipped).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	result.Advanced++
	metrics.SweepActions.WithLabelValues(metrics.SweepAdvanced).Inc()

	if s.replayer == nil || advanced.FailureReason != model.ReasonRetriesExhausted {
		return nil
	}
	replayed, err := s.replayer.Replay(ctx, advanced)
	if err != nil {
		return fmt.Errorf("replay %s: %w", id, err)
	}
	if replayed {
		result.Replayed++
		metrics.SweepActions.WithLabelValues(metrics.SweepReplayed).Inc()
	}
	return nil
}
