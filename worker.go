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
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/database"
	"github.com/Munozca230/order-processing-system/internal/apierror"
	"github.com/Munozca230/order-processing-system/internal/backoff"
	"github.com/Munozca230/order-processing-system/internal/cache"
	redlock "github.com/Munozca230/order-processing-system/internal/lock"
	"github.com/Munozca230/order-processing-system/internal/notification"
	redis_db "github.com/Munozca230/order-processing-system/internal/redis-db"
	"github.com/Munozca230/order-processing-system/ledger"
	"github.com/Munozca230/order-processing-system/model"
	"github.com/Munozca230/order-processing-system/retry"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Dependencies are the collaborators of a Worker. Notifier and Replayer are
// optional.
type Dependencies struct {
	Config    *config.Configuration
	Redis     redis.UniversalClient
	Store     database.IDataSource
	Customers CustomerLookup
	Products  ProductLookup
	Notifier  CompletionNotifier
	Replayer  retry.Replayer
	Now       func() time.Time
}

// Worker owns the order pipeline and everything it needs: the lease manager,
// the failure ledger, the executors and the status projector.
type Worker struct {
	conf      *config.Configuration
	locks     *redlock.Manager
	ledger    *ledger.Store
	enricher  *Enricher
	persister *retry.Executor
	store     database.IDataSource
	notifier  CompletionNotifier
	replayer  retry.Replayer
	status    *StatusProjector
	now       func() time.Time
}

func NewWorker(deps Dependencies) (*Worker, error) {
	if deps.Config == nil {
		return nil, errors.New("worker: config is required")
	}
	if deps.Redis == nil || deps.Store == nil {
		return nil, errors.New("worker: redis client and order store are required")
	}
	if deps.Customers == nil || deps.Products == nil {
		return nil, errors.New("worker: customer and product lookups are required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	conf := deps.Config
	policy := backoff.New(conf.Retry.BackoffUnit())

	failures := ledger.New(deps.Redis, policy, ledger.WithTTL(conf.Ledger.TTL()), ledger.WithClock(now))
	lookups := retry.NewExecutor(failures, policy, conf.Retry.MaxAttempts)
	persister := retry.NewExecutor(failures, policy, conf.Retry.PersistMaxAttempts, retry.WithClassifier(isPersistRetryable))

	return &Worker{
		conf:      conf,
		locks:     redlock.NewManager(deps.Redis, conf.Lock.TTL()),
		ledger:    failures,
		enricher:  NewEnricher(deps.Customers, deps.Products, lookups, conf.Lookup.Timeout(), conf.Lookup.MaxConcurrency),
		persister: persister,
		store:     deps.Store,
		notifier:  deps.Notifier,
		replayer:  deps.Replayer,
		status:    NewStatusProjector(deps.Store, failures, now),
		now:       now,
	}, nil
}

// NewWorkerFromConfig connects to Redis and PostgreSQL and builds a Worker with
// HTTP lookups, the order queue as replayer and webhook notifications. The
// returned queue must be closed by the caller.
func NewWorkerFromConfig(conf *config.Configuration) (*Worker, *Queue, error) {
	redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	store, err := database.NewDataSource(conf)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	queue, err := NewQueue(conf)
	if err != nil {
		return nil, nil, err
	}

	lookups := NewHTTPLookup(conf.Lookup, &http.Client{}, cache.NewCache(redisClient.Client()))
	worker, err := NewWorker(Dependencies{
		Config:    conf,
		Redis:     redisClient.Client(),
		Store:     store,
		Customers: lookups,
		Products:  lookups,
		Notifier:  NewWebhookNotifier(queue.Client, conf),
		Replayer:  queue,
	})
	if err != nil {
		_ = queue.Close()
		return nil, nil, err
	}
	return worker, queue, nil
}

// HandleOrderTask is the asynq handler of the order queues.
func (w *Worker) HandleOrderTask(ctx context.Context, task *asynq.Task) error {
	_, err := w.ProcessMessage(ctx, task.Payload())
	return err
}

// GetStatus projects the current status of an order.
func (w *Worker) GetStatus(ctx context.Context, orderID string) (*model.OrderStatusView, error) {
	return w.status.GetStatus(ctx, orderID)
}

// Failure returns the raw ledger entry stored under messageID, or nil.
func (w *Worker) Failure(ctx context.Context, messageID string) (*model.FailureRecord, error) {
	return w.ledger.Fetch(ctx, messageID)
}

// Ledger exposes the failure ledger.
func (w *Worker) Ledger() *ledger.Store {
	return w.ledger
}

// Ping checks the order store.
func (w *Worker) Ping(ctx context.Context) error {
	return w.store.Ping(ctx)
}

// NewSweeper builds the ledger sweeper with the worker as resolver, the
// configured replayer, and a Slack alert on every give-up.
func (w *Worker) NewSweeper() *retry.Sweeper {
	opts := []retry.SweeperOption{
		retry.WithResolver(w),
		retry.WithSweepClock(w.now),
		retry.WithGiveUpHandler(func(record *model.FailureRecord) {
			notification.NotifyError(fmt.Errorf("gave up on %s after %d retries: %s",
				record.MessageID, record.RetryCount, record.ErrorMessage))
		}),
	}
	if w.replayer != nil {
		opts = append(opts, retry.WithReplayer(w.replayer))
	}
	return retry.NewSweeper(w.ledger, retry.SweeperConfig{
		Interval:   w.conf.Retry.SweepInterval(),
		MaxRetries: w.conf.Retry.SweepMaxRetries,
		BatchSize:  w.conf.Retry.SweepBatchSize,
	}, opts...)
}

// Resolved reports whether the order behind a ledger entry has been persisted
// as COMPLETED since the failure was recorded.
func (w *Worker) Resolved(ctx context.Context, record *model.FailureRecord) (bool, error) {
	orderID, ok := orderIDFromMessageID(record.MessageID)
	if !ok {
		return false, nil
	}
	stored, err := w.store.GetOrderByOrderID(ctx, orderID)
	if apierror.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored.Status == model.StatusCompleted, nil
}

// orderIDFromMessageID recovers the order id from any of the ledger ids an
// order run writes under.
func orderIDFromMessageID(messageID string) (string, bool) {
	rest, ok := strings.CutPrefix(messageID, model.OrderMessageID(""))
	if !ok || rest == "" {
		return "", false
	}
	if id, ok := strings.CutSuffix(rest, "_persist"); ok {
		return id, id != ""
	}
	for _, marker := range []string{"_customer_", "_product_"} {
		if i := strings.Index(rest, marker); i > 0 {
			return rest[:i], true
		}
	}
	return rest, true
}
