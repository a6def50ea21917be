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

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("ord")
	assert.True(t, strings.HasPrefix(id, "ord_"))
	assert.Len(t, id, len("ord_")+36)
}

func TestMessageIDs(t *testing.T) {
	assert.Equal(t, "order_o1", OrderMessageID("o1"))
	assert.Equal(t, "order_o1_customer_c1", CustomerMessageID("o1", "c1"))
	assert.Equal(t, "order_o1_product_p1", ProductMessageID("o1", "p1"))
	assert.Equal(t, "order_o1_persist", PersistMessageID("o1"))
}

func TestDecodeOrderMessage_StringProductRefs(t *testing.T) {
	msg, err := DecodeOrderMessage([]byte(`{"orderId":"o1","customerId":"c1","products":["p1","p2"]}`))
	require.NoError(t, err)

	assert.Equal(t, "o1", msg.OrderID)
	assert.Equal(t, "c1", msg.CustomerID)
	assert.Equal(t, []ProductRef{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1}}, msg.Products)
	assert.Equal(t, []string{"p1", "p2"}, msg.ProductIDs())
}

func TestDecodeOrderMessage_ObjectProductRefs(t *testing.T) {
	msg, err := DecodeOrderMessage([]byte(`{"orderId":"o1","customerId":"c1","products":[{"productId":"p1","quantity":3},{"productId":"p2"}]}`))
	require.NoError(t, err)

	assert.Equal(t, 3, msg.Products[0].Quantity)
	assert.Equal(t, 1, msg.Products[1].Quantity)
}

func TestDecodeOrderMessage_EmptyProductsIsNotAShapeError(t *testing.T) {
	msg, err := DecodeOrderMessage([]byte(`{"orderId":"o1","customerId":"c1","products":[]}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Products)
}

func TestDecodeOrderMessage_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty payload", payload: ""},
		{name: "not json", payload: "{order"},
		{name: "missing order id", payload: `{"customerId":"c1","products":["p1"]}`},
		{name: "missing customer id", payload: `{"orderId":"o1","products":["p1"]}`},
		{name: "blank product id", payload: `{"orderId":"o1","customerId":"c1","products":[""]}`},
		{name: "numeric product ref", payload: `{"orderId":"o1","customerId":"c1","products":[42]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOrderMessage([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestEnrichedOrder_Total(t *testing.T) {
	enriched := &EnrichedOrder{
		Order: OrderMessage{
			OrderID:  "o1",
			Products: []ProductRef{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		},
		Products: []ProductDetails{
			{ProductID: "p1", Price: decimal.RequireFromString("9.99"), Quantity: 2},
			{ProductID: "p2", Price: decimal.RequireFromString("0.02"), Quantity: 1},
		},
	}

	assert.True(t, decimal.RequireFromString("20.00").Equal(enriched.Total()))
}

func TestEnrichedOrder_TotalWithSkippedProduct(t *testing.T) {
	enriched := &EnrichedOrder{
		Order: OrderMessage{
			OrderID:  "o1",
			Products: []ProductRef{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 3}},
		},
		// p1 resolved to nothing and was left out.
		Products: []ProductDetails{
			{ProductID: "p2", Price: decimal.RequireFromString("10.00"), Quantity: 3},
		},
	}

	assert.True(t, decimal.RequireFromString("30.00").Equal(enriched.Total()), enriched.Total().String())
}

func TestEnrichedOrder_TotalDefaultsQuantityToOne(t *testing.T) {
	enriched := &EnrichedOrder{
		Products: []ProductDetails{{ProductID: "p1", Price: decimal.RequireFromString("4.50")}},
	}

	assert.True(t, decimal.RequireFromString("4.50").Equal(enriched.Total()))
}

func TestNewCompletedRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	enriched := &EnrichedOrder{
		Order:    OrderMessage{OrderID: "o1", CustomerID: "c1", Products: []ProductRef{{ProductID: "p1", Quantity: 1}}},
		Customer: &CustomerDetails{CustomerID: "c1", Active: true},
		Products: []ProductDetails{{ProductID: "p1", Price: decimal.NewFromFloat(9.99)}},
	}

	rec := NewCompletedRecord(enriched, now)

	assert.True(t, strings.HasPrefix(rec.ID, "ord_"))
	assert.Equal(t, "o1", rec.OrderID)
	assert.Equal(t, "c1", rec.CustomerID)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, now, rec.CreatedAt)
	require.NotNil(t, rec.ProcessedAt)
	assert.Equal(t, now, *rec.ProcessedAt)
	assert.Nil(t, rec.FailureReason)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Len(t, rec.Products, 1)
}
