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
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block an order.
	DefaultTTL = 30 * time.Second

	keyPrefix = "lock:"

	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

var (
	// ErrLockUnavailable wraps store errors seen while acquiring. Callers must
	// treat it as "could not decide", never as "lock held elsewhere".
	ErrLockUnavailable = errors.New("lock store unavailable")

	// ErrLeaseLost is returned when the key expired or now belongs to another holder.
	ErrLeaseLost = errors.New("lease lost")
)

// Manager hands out per-order mutual-exclusion leases backed by Redis.
type Manager struct {
	client   redis.UniversalClient
	ttl      time.Duration
	newToken func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenGenerator overrides the fencing token source.
func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.newToken = gen
	}
}

// NewManager creates a lock manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(client redis.UniversalClient, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		client:   client,
		ttl:      ttl,
		newToken: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Key returns the store key guarding an order.
func Key(orderID string) string {
	return keyPrefix + orderID
}

// Lease is a held lock. The token is written as the key's value so only the
// holder can release or extend it.
type Lease struct {
	Key     string
	Token   string
	OrderID string

	manager *Manager
}

// Acquire tries once to take the lock for an order. It returns (nil, false, nil)
// when another holder owns it, and an error wrapping ErrLockUnavailable when the
// store could not answer.
func (m *Manager) Acquire(ctx context.Context, orderID string) (*Lease, bool, error) {
	key := Key(orderID)
	token := m.newToken()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire %s: %v", ErrLockUnavailable, key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &Lease{Key: key, Token: token, OrderID: orderID, manager: m}, true, nil
}

// Release deletes the key if it still carries this lease's token.
func (l *Lease) Release(ctx context.Context) error {
	result, err := l.manager.client.Eval(ctx, releaseScript, []string{l.Key}, l.Token).Result()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.Key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("release %s: %w", l.Key, ErrLeaseLost)
	}
	return nil
}

// Extend pushes the expiry of a held lease out to now+d. It fails with
// ErrLeaseLost once the key expired or was taken over.
func (l *Lease) Extend(ctx context.Context, d time.Duration) error {
	result, err := l.manager.client.Eval(ctx, extendScript, []string{l.Key}, l.Token, fmt.Sprintf("%d", d.Milliseconds())).Result()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.Key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("extend %s: %w", l.Key, ErrLeaseLost)
	}
	return nil
}
