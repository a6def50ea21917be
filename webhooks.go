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
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/request"
	"github.com/Munozca230/order-processing-system/model"
)

const (
	EventOrderCompleted = "order.completed"

	webhookTimeout = 10 * time.Second
)

// CompletionNotifier is told about every persisted order.
type CompletionNotifier interface {
	OrderCompleted(ctx context.Context, record *model.OrderRecord, enriched *model.EnrichedOrder) error
}

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// OrderCompletedPayload is the data of an order.completed event.
type OrderCompletedPayload struct {
	RecordID    string                 `json:"recordId"`
	OrderID     string                 `json:"orderId"`
	CustomerID  string                 `json:"customerId"`
	Products    []model.ProductDetails `json:"products"`
	Total       decimal.Decimal        `json:"total"`
	ProcessedAt *time.Time             `json:"processedAt"`
}

// WebhookNotifier queues order.completed webhooks for delivery by ProcessWebhook.
type WebhookNotifier struct {
	client *asynq.Client
	queue  string
	url    string
}

func NewWebhookNotifier(client *asynq.Client, conf *config.Configuration) *WebhookNotifier {
	return &WebhookNotifier{
		client: client,
		queue:  conf.Queue.WebhookQueue,
		url:    conf.Notification.Webhook.Url,
	}
}

func (n *WebhookNotifier) OrderCompleted(ctx context.Context, record *model.OrderRecord, enriched *model.EnrichedOrder) error {
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(NewWebhook{
		Event: EventOrderCompleted,
		Payload: OrderCompletedPayload{
			RecordID:    record.ID,
			OrderID:     record.OrderID,
			CustomerID:  record.CustomerID,
			Products:    record.Products,
			Total:       enriched.Total(),
			ProcessedAt: record.ProcessedAt,
		},
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(n.queue, payload, asynq.Queue(n.queue))
	_, err = n.client.EnqueueContext(ctx, task)
	return err
}

// ProcessWebhook delivers a queued webhook. A non-2xx answer fails the task so
// asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("error unmarshaling webhook payload")
		return err
	}
	logrus.WithField("event", payload.Event).Info("processing webhook")
	return processHTTP(ctx, conf.Notification.Webhook, payload)
}

func processHTTP(ctx context.Context, hook config.WebhookConfig, data NewWebhook) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	body, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range hook.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(nil, req, nil); err != nil {
		logrus.WithField("event", data.Event).WithError(err).Error("webhook delivery failed")
		return err
	}
	return nil
}
