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
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Munozca230/order-processing-system/config"
	redis_db "github.com/Munozca230/order-processing-system/internal/redis-db"
	"github.com/Munozca230/order-processing-system/model"
)

// Queue publishes order tasks to the partitioned order queues.
type Queue struct {
	Client         *asynq.Client
	orderQueue     string
	numberOfQueues int
	maxRetry       int
}

// RedisClientOpt converts the configured Redis URL into asynq connection options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:         asynq.NewClient(opt),
		orderQueue:     conf.Queue.OrderQueue,
		numberOfQueues: conf.Queue.NumberOfQueues,
		maxRetry:       conf.Queue.MaxRetryAttempts,
	}, nil
}

// OrderQueueNames lists every partition of the order queue.
func OrderQueueNames(conf config.QueueConfig) []string {
	names := make([]string, 0, conf.NumberOfQueues)
	for i := 1; i <= conf.NumberOfQueues; i++ {
		names = append(names, fmt.Sprintf("%s_%d", conf.OrderQueue, i))
	}
	return names
}

// queueName maps an order id to its partition. One order id always lands on
// the same queue.
func (q *Queue) queueName(orderID string) string {
	n := q.numberOfQueues
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("%s_%d", q.orderQueue, hashOrderID(orderID)%n+1)
}

func hashOrderID(orderID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(orderID))
	return int(hasher.Sum32())
}

// EnqueueOrder publishes msg. An order that is already waiting in its queue is
// not enqueued twice.
func (q *Queue) EnqueueOrder(ctx context.Context, msg model.OrderMessage) error {
	queueName := q.queueName(msg.OrderID)
	ctx, span := tracer.Start(ctx, "Adding order to queue", trace.WithAttributes(
		attribute.String("order.id", msg.OrderID),
		attribute.String("queue", queueName),
	))
	defer span.End()

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	task := asynq.NewTask(queueName, payload, asynq.TaskID(msg.OrderID), asynq.Queue(queueName), asynq.MaxRetry(q.maxRetry))
	_, err = q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("order_id", msg.OrderID).Info("order already queued")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithFields(logrus.Fields{"order_id": msg.OrderID, "queue": queueName}).Info("order enqueued")
	return nil
}

// Replay re-enqueues the order carried by a ledger entry. Entries whose content
// is not an order payload are left alone.
func (q *Queue) Replay(ctx context.Context, record *model.FailureRecord) (bool, error) {
	msg, err := model.DecodeOrderMessage([]byte(record.Content))
	if err != nil {
		return false, nil
	}
	if err := q.EnqueueOrder(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) Close() error {
	return q.Client.Close()
}
