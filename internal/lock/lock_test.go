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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedToken(token string) Option {
	return WithTokenGenerator(func() string { return token })
}

func TestManager_Acquire_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second, fixedToken("token-1"))

	mock.ExpectSetNX("lock:o1", "token-1", 30*time.Second).SetVal(true)

	lease, ok, err := m.Acquire(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, lease)
	assert.Equal(t, "lock:o1", lease.Key)
	assert.Equal(t, "token-1", lease.Token)
	assert.Equal(t, "o1", lease.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_Acquire_AlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second, fixedToken("token-1"))

	mock.ExpectSetNX("lock:o1", "token-1", 30*time.Second).SetVal(false)

	lease, ok, err := m.Acquire(context.Background(), "o1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_Acquire_StoreError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second, fixedToken("token-1"))

	mock.ExpectSetNX("lock:o1", "token-1", 30*time.Second).SetErr(errors.New("connection refused"))

	lease, ok, err := m.Acquire(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, ok)
	assert.Nil(t, lease)
}

func TestLease_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second, fixedToken("token-1"))

	mock.ExpectSetNX("lock:o1", "token-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lock:o1"}, "token-1").SetVal(int64(1))

	lease, ok, err := m.Acquire(context.Background(), "o1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_Release_NotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second)
	lease := &Lease{Key: "lock:o1", Token: "stale", OrderID: "o1", manager: m}

	mock.ExpectEval(releaseScript, []string{"lock:o1"}, "stale").SetVal(int64(0))

	err := lease.Release(context.Background())
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, 30*time.Second)
	lease := &Lease{Key: "lock:o1", Token: "token-1", OrderID: "o1", manager: m}

	mock.ExpectEval(extendScript, []string{"lock:o1"}, "token-1", "5000").SetVal(int64(1))
	assert.NoError(t, lease.Extend(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"lock:o1"}, "token-1", "5000").SetVal(int64(0))
	assert.ErrorIs(t, lease.Extend(context.Background(), 5*time.Second), ErrLeaseLost)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewManager_DefaultTTL(t *testing.T) {
	db, _ := redismock.NewClientMock()
	assert.Equal(t, DefaultTTL, NewManager(db, 0).TTL())
}

func newMiniredisManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, ttl), mr
}

func TestManager_ExpiredLeaseCanBeReacquired(t *testing.T) {
	m, mr := newMiniredisManager(t, 30*time.Second)
	ctx := context.Background()

	first, ok, err := m.Acquire(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.Acquire(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(31 * time.Second)

	second, ok, err := m.Acquire(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder must not remove the new holder's key.
	assert.ErrorIs(t, first.Release(ctx), ErrLeaseLost)
	value, err := mr.Get(Key("o1"))
	require.NoError(t, err)
	assert.Equal(t, second.Token, value)

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists(Key("o1")))
}

func TestManager_ConcurrentAcquire(t *testing.T) {
	m, _ := newMiniredisManager(t, 30*time.Second)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.Acquire(ctx, "o1")
			if err == nil && ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestManager_DistinctOrdersDoNotContend(t *testing.T) {
	m, _ := newMiniredisManager(t, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, ok, err := m.Acquire(ctx, fmt.Sprintf("o%d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
