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
	"time"

	"github.com/wacul/ptr"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "PROCESSING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusFailed     OrderStatus = "FAILED"
	StatusRetrying   OrderStatus = "RETRYING"
)

// Failure reasons stored on ledger entries.
const (
	// ReasonRetriesExhausted marks a retryable failure whose inline retries ran out.
	ReasonRetriesExhausted = "API_CALL_FAILED"
	// ReasonNonRetryable marks an operational error that was never retried.
	ReasonNonRetryable = "NON_RETRYABLE_ERROR"
	// ReasonValidationFailed marks a business-rule rejection.
	ReasonValidationFailed = "VALIDATION_FAILED"
)

// OrderRecord is the durable row of a processed order.
type OrderRecord struct {
	ID            string           `json:"id"`
	OrderID       string           `json:"orderId"`
	CustomerID    string           `json:"customerId"`
	Products      []ProductDetails `json:"products"`
	Status        OrderStatus      `json:"status"`
	CreatedAt     time.Time        `json:"createdAt"`
	ProcessedAt   *time.Time       `json:"processedAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	FailureReason *string          `json:"failureReason"`
	RetryCount    int              `json:"retryCount"`
}

// NewCompletedRecord snapshots a validated order as COMPLETED.
func NewCompletedRecord(enriched *EnrichedOrder, now time.Time) *OrderRecord {
	products := make([]ProductDetails, len(enriched.Products))
	copy(products, enriched.Products)

	return &OrderRecord{
		ID:          GenerateUUIDWithSuffix("ord"),
		OrderID:     enriched.Order.OrderID,
		CustomerID:  enriched.Order.CustomerID,
		Products:    products,
		Status:      StatusCompleted,
		CreatedAt:   now,
		ProcessedAt: ptr.Time(now),
		UpdatedAt:   now,
	}
}

// FailureRecord is one ledger entry.
type FailureRecord struct {
	MessageID     string    `json:"messageId"`
	Content       string    `json:"content"`
	ErrorMessage  string    `json:"errorMessage"`
	RetryCount    int       `json:"retryCount"`
	FirstFailedAt time.Time `json:"firstFailedAt"`
	LastRetryAt   time.Time `json:"lastRetryAt"`
	NextRetryAt   time.Time `json:"nextRetryAt"`
	FailureReason string    `json:"failureReason"`
}

// OrderStatusView is the body served by the status endpoint.
type OrderStatusView struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ProcessedAt   *time.Time  `json:"processedAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	FailureReason *string     `json:"failureReason"`
	RetryCount    int         `json:"retryCount"`
	NextRetryAt   *time.Time  `json:"nextRetryAt"`
}
