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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/Munozca230/order-processing-system/internal/apierror"
	"github.com/Munozca230/order-processing-system/model"
)

const upsertOrderQuery = `
	INSERT INTO orderworker.orders (
		record_id, order_id, customer_id, products, status, failure_reason,
		retry_count, created_at, processed_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (order_id) DO UPDATE SET
		customer_id = EXCLUDED.customer_id,
		products = EXCLUDED.products,
		status = EXCLUDED.status,
		failure_reason = EXCLUDED.failure_reason,
		retry_count = EXCLUDED.retry_count,
		processed_at = EXCLUDED.processed_at,
		updated_at = EXCLUDED.updated_at
	RETURNING record_id, created_at
`

const getOrderQuery = `
	SELECT record_id, order_id, customer_id, products, status, failure_reason,
		retry_count, created_at, processed_at, updated_at
	FROM orderworker.orders
	WHERE order_id = $1
`

func (d Datasource) UpsertOrder(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	ctx, span := otel.Tracer("Order store").Start(ctx, "Upserting order to db")
	defer span.End()

	productsJSON, err := json.Marshal(record.Products)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal products", err)
	}

	stored := *record
	err = d.Conn.QueryRowContext(ctx, upsertOrderQuery,
		record.ID, record.OrderID, record.CustomerID, productsJSON, string(record.Status), record.FailureReason,
		record.RetryCount, record.CreatedAt, record.ProcessedAt, record.UpdatedAt,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save order", err)
	}

	return &stored, nil
}

func (d Datasource) GetOrderByOrderID(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	ctx, span := otel.Tracer("Order store").Start(ctx, "Fetching order from db by order id")
	defer span.End()

	var (
		record        model.OrderRecord
		productsJSON  []byte
		status        string
		failureReason sql.NullString
		processedAt   sql.NullTime
	)

	err := d.Conn.QueryRowContext(ctx, getOrderQuery, orderID).Scan(
		&record.ID, &record.OrderID, &record.CustomerID, &productsJSON, &status, &failureReason,
		&record.RetryCount, &record.CreatedAt, &processedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	if len(productsJSON) > 0 {
		if err := json.Unmarshal(productsJSON, &record.Products); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal products", err)
		}
	}
	record.Status = model.OrderStatus(status)
	if failureReason.Valid {
		record.FailureReason = &failureReason.String
	}
	if processedAt.Valid {
		record.ProcessedAt = &processedAt.Time
	}

	return &record, nil
}
