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

package orderworker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/apierror"
	"github.com/Munozca230/order-processing-system/internal/request"
	"github.com/Munozca230/order-processing-system/model"
)

func testConfig(redisAddr string) *config.Configuration {
	return &config.Configuration{
		ProjectName: "Order Worker",
		Redis:       config.RedisConfig{Dns: redisAddr},
		DataSource:  config.DataSourceConfig{Dns: "postgres://localhost/orders?sslmode=disable"},
		Queue: config.QueueConfig{
			OrderQueue:       "new:order",
			WebhookQueue:     "order_webhooks",
			NumberOfQueues:   4,
			Concurrency:      10,
			MaxRetryAttempts: 5,
		},
		Lock: config.LockConfig{TTLSeconds: 30},
		Retry: config.RetryConfig{
			MaxAttempts:          3,
			BackoffUnitMs:        1,
			SweepIntervalSeconds: 30,
			SweepMaxRetries:      10,
			SweepBatchSize:       100,
			PersistMaxAttempts:   3,
		},
		Ledger: config.LedgerConfig{TTLHours: 168},
		Lookup: config.LookupConfig{TimeoutSeconds: 2},
	}
}

// memoryStore is an in-memory order store with upsert-by-order-id semantics.
type memoryStore struct {
	mu          sync.Mutex
	orders      map[string]*model.OrderRecord
	upserts     int
	failUpserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: map[string]*model.OrderRecord{}}
}

func (s *memoryStore) UpsertOrder(_ context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	if s.failUpserts > 0 {
		s.failUpserts--
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save order", nil)
	}

	stored := *record
	if existing, ok := s.orders[record.OrderID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	s.orders[record.OrderID] = &stored
	out := stored
	return &out, nil
}

func (s *memoryStore) GetOrderByOrderID(_ context.Context, orderID string) (*model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.orders[orderID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
	}
	out := *record
	return &out, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// stubLookup serves customers and products from functions.
type stubLookup struct {
	customer      func(ctx context.Context, id string) (*model.CustomerDetails, error)
	product       func(ctx context.Context, id string) (*model.ProductDetails, error)
	customerCalls atomic.Int32
	productCalls  atomic.Int32
}

func (s *stubLookup) GetCustomer(ctx context.Context, id string) (*model.CustomerDetails, error) {
	s.customerCalls.Add(1)
	if s.customer == nil {
		return &model.CustomerDetails{CustomerID: id, Name: "Ada", Active: true}, nil
	}
	return s.customer(ctx, id)
}

func (s *stubLookup) GetProduct(ctx context.Context, id string) (*model.ProductDetails, error) {
	s.productCalls.Add(1)
	if s.product == nil {
		return &model.ProductDetails{ProductID: id, Name: "Widget " + id, Price: decimal.RequireFromString("9.99")}, nil
	}
	return s.product(ctx, id)
}

func unavailable(url string) error {
	return &request.StatusError{Method: "GET", URL: url, Code: 503}
}

func notFound(url string) error {
	return &request.StatusError{Method: "GET", URL: url, Code: 404}
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []*model.OrderRecord
	totals  []decimal.Decimal
	err     error
}

func (n *recordingNotifier) OrderCompleted(_ context.Context, record *model.OrderRecord, enriched *model.EnrichedOrder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, record)
	n.totals = append(n.totals, enriched.Total())
	return n.err
}

type testHarness struct {
	worker *Worker
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *memoryStore
	lookup *stubLookup
	now    time.Time
}

func newHarness(t *testing.T, lookup *stubLookup, opts ...func(*Dependencies)) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if lookup == nil {
		lookup = &stubLookup{}
	}
	h := &testHarness{
		mr:     mr,
		client: client,
		store:  newMemoryStore(),
		lookup: lookup,
		now:    time.Now().UTC(),
	}

	deps := Dependencies{
		Config:    testConfig(mr.Addr()),
		Redis:     client,
		Store:     h.store,
		Customers: lookup,
		Products:  lookup,
		Now:       func() time.Time { return h.now },
	}
	for _, opt := range opts {
		opt(&deps)
	}

	w, err := NewWorker(deps)
	require.NoError(t, err)
	h.worker = w
	return h
}

func (h *testHarness) failure(t *testing.T, id string) *model.FailureRecord {
	t.Helper()
	record, err := h.worker.Failure(context.Background(), id)
	require.NoError(t, err)
	return record
}

const orderPayload = `{"orderId":"o1","customerId":"c1","products":["p1"]}`
