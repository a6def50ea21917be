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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/model"
)

func webhookTask(t *testing.T) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(NewWebhook{
		Event:   EventOrderCompleted,
		Payload: OrderCompletedPayload{OrderID: "o1", CustomerID: "c1", Total: decimal.RequireFromString("9.99")},
	})
	require.NoError(t, err)
	return asynq.NewTask("order_webhooks", payload)
}

func TestProcessWebhook_Delivers(t *testing.T) {
	var (
		body   []byte
		header string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		header = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cnf := testConfig("localhost:6379")
	cnf.Notification.Webhook = config.WebhookConfig{Url: server.URL, Headers: map[string]string{"X-Signature": "secret"}}
	config.MockConfig(cnf)

	require.NoError(t, ProcessWebhook(context.Background(), webhookTask(t)))

	var received struct {
		Event string                `json:"event"`
		Data  OrderCompletedPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &received))
	assert.Equal(t, EventOrderCompleted, received.Event)
	assert.Equal(t, "o1", received.Data.OrderID)
	assert.Equal(t, "secret", header)
}

func TestProcessWebhook_FailedDeliveryIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cnf := testConfig("localhost:6379")
	cnf.Notification.Webhook.Url = server.URL
	config.MockConfig(cnf)

	assert.Error(t, ProcessWebhook(context.Background(), webhookTask(t)))
}

func TestProcessWebhook_NoURLIsNoop(t *testing.T) {
	config.MockConfig(testConfig("localhost:6379"))
	assert.NoError(t, ProcessWebhook(context.Background(), asynq.NewTask("order_webhooks", []byte("not json"))))
}

func TestWebhookNotifier_OrderCompleted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	cnf := testConfig(mr.Addr())
	cnf.Notification.Webhook.Url = "https://hooks.example.com/orders"
	notifier := NewWebhookNotifier(client, cnf)

	now := time.Now()
	record := &model.OrderRecord{ID: "ord_1", OrderID: "o1", CustomerID: "c1", ProcessedAt: ptr.Time(now)}
	enriched := &model.EnrichedOrder{
		Order:    model.OrderMessage{OrderID: "o1", Products: []model.ProductRef{{ProductID: "p1", Quantity: 1}}},
		Products: []model.ProductDetails{{ProductID: "p1", Price: decimal.RequireFromString("9.99")}},
	}

	require.NoError(t, notifier.OrderCompleted(context.Background(), record, enriched))
	assert.True(t, queuedIn(mr, "order_webhooks"))
}

func TestWebhookNotifier_NoURLIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	notifier := NewWebhookNotifier(client, testConfig(mr.Addr()))
	require.NoError(t, notifier.OrderCompleted(context.Background(), &model.OrderRecord{OrderID: "o1"}, &model.EnrichedOrder{}))
	assert.Empty(t, mr.Keys())
}
