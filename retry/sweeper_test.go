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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Munozca230/order-processing-system/internal/backoff"
	"github.com/Munozca230/order-processing-system/ledger"
	"github.com/Munozca230/order-processing-system/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubResolver struct {
	resolved map[string]bool
}

func (r stubResolver) Resolved(_ context.Context, record *model.FailureRecord) (bool, error) {
	return r.resolved[record.MessageID], nil
}

type recordingReplayer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingReplayer) Replay(_ context.Context, record *model.FailureRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, record.MessageID)
	return true, nil
}

func (r *recordingReplayer) replayed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newSweepFixture(t *testing.T) (*ledger.Store, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return ledger.New(client, backoff.New(time.Second), ledger.WithClock(clock.Now)), mr, clock
}

func TestSweep_NothingDue(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "m1"})
	require.NoError(t, err)

	s := NewSweeper(store, SweeperConfig{}, WithSweepClock(clock.Now))
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
}

func TestSweep_AdvancesDueEntries(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o1_customer_c1", Content: "customer:c1"})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	s := NewSweeper(store, SweeperConfig{}, WithSweepClock(clock.Now))

	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Advanced)

	record, err := store.Fetch(ctx, "order_o1_customer_c1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.RetryCount)
	assert.True(t, record.NextRetryAt.Equal(clock.Now().Add(2*time.Second)))

	// Rescheduled into the future, so an immediate second pass is a no-op.
	result, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
}

func TestSweep_DropsOrphanIndexEntries(t *testing.T) {
	store, mr, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "m1"})
	require.NoError(t, err)
	mr.Del(ledger.Key("m1"))

	clock.Advance(time.Minute)
	result, err := NewSweeper(store, SweeperConfig{}, WithSweepClock(clock.Now)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Orphans)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestSweep_GivesUpAtMaxRetries(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "m1", RetryCount: 3})
	require.NoError(t, err)

	var gaveUp []string
	s := NewSweeper(store, SweeperConfig{MaxRetries: 3},
		WithSweepClock(clock.Now),
		WithGiveUpHandler(func(r *model.FailureRecord) { gaveUp = append(gaveUp, r.MessageID) }),
	)

	clock.Advance(time.Hour)
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.GaveUp)
	assert.Equal(t, []string{"m1"}, gaveUp)

	record, err := store.Fetch(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSweep_RetriesUntilGiveUp(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "m1"})
	require.NoError(t, err)

	s := NewSweeper(store, SweeperConfig{MaxRetries: 3}, WithSweepClock(clock.Now))

	advanced, gaveUp := 0, 0
	for i := 0; i < 10; i++ {
		clock.Advance(time.Hour)
		result, err := s.Sweep(ctx)
		require.NoError(t, err)
		advanced += result.Advanced
		gaveUp += result.GaveUp
	}

	assert.Equal(t, 3, advanced)
	assert.Equal(t, 1, gaveUp)
	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestSweep_DropsResolvedEntries(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o1"})
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o2"})
	require.NoError(t, err)

	s := NewSweeper(store, SweeperConfig{},
		WithSweepClock(clock.Now),
		WithResolver(stubResolver{resolved: map[string]bool{"order_o1": true}}),
	)

	clock.Advance(time.Minute)
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.Advanced)

	record, err := store.Fetch(ctx, "order_o1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSweep_ReplaysOnlyExhaustedEntries(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o1", Reason: model.ReasonRetriesExhausted})
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o2", Reason: model.ReasonValidationFailed})
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o3", Reason: model.ReasonNonRetryable})
	require.NoError(t, err)

	replayer := &recordingReplayer{}
	s := NewSweeper(store, SweeperConfig{}, WithSweepClock(clock.Now), WithReplayer(replayer))

	clock.Advance(time.Minute)
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Advanced)
	assert.Equal(t, 1, result.Replayed)
	assert.Equal(t, []string{"order_o1"}, replayer.replayed())
}

// staleDue lists ids captured before another sweeper touched them.
type staleDue struct {
	*ledger.Store
	ids []string
}

func (l staleDue) Due(context.Context, time.Time, int) ([]string, error) {
	return l.ids, nil
}

func TestSweep_SkipsEntriesRescheduledByAnotherSweeper(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "order_o1", Reason: model.ReasonRetriesExhausted})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	first := &recordingReplayer{}
	result, err := NewSweeper(store, SweeperConfig{}, WithSweepClock(clock.Now), WithReplayer(first)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)

	second := &recordingReplayer{}
	late := NewSweeper(staleDue{Store: store, ids: []string{"order_o1"}}, SweeperConfig{},
		WithSweepClock(clock.Now), WithReplayer(second))
	result, err = late.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Advanced)
	assert.Empty(t, second.replayed())

	record, err := store.Fetch(ctx, "order_o1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.RetryCount)
}

func TestSweep_BatchSize(t *testing.T) {
	store, _, clock := newSweepFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: id})
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)
	result, err := NewSweeper(store, SweeperConfig{BatchSize: 2}, WithSweepClock(clock.Now)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
}

func TestSweeper_StartStop(t *testing.T) {
	store, _, _ := newSweepFixture(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ledger.Failure{MessageID: "m1"})
	require.NoError(t, err)

	// The ledger clock is frozen, so the entry is due for a wall-clock sweeper.
	s := NewSweeper(store, SweeperConfig{Interval: time.Second})
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool {
		record, err := store.Fetch(ctx, "m1")
		return err == nil && record != nil && record.RetryCount >= 1
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	s.Stop()
}
