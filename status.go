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
	"time"

	"github.com/wacul/ptr"

	"github.com/Munozca230/order-processing-system/database"
	"github.com/Munozca230/order-processing-system/internal/apierror"
	"github.com/Munozca230/order-processing-system/model"
)

// FailureFetcher reads ledger entries.
type FailureFetcher interface {
	Fetch(ctx context.Context, messageID string) (*model.FailureRecord, error)
}

// StatusProjector answers "what happened to order X" from the order store and
// the failure ledger.
type StatusProjector struct {
	store  database.IDataSource
	ledger FailureFetcher
	now    func() time.Time
}

func NewStatusProjector(store database.IDataSource, ledger FailureFetcher, now func() time.Time) *StatusProjector {
	if now == nil {
		now = time.Now
	}
	return &StatusProjector{store: store, ledger: ledger, now: now}
}

// GetStatus prefers the stored record, then a ledger entry under the raw order
// id, its top-level message id or its persist id, in that order. With none of
// them the order is reported as PROCESSING.
func (p *StatusProjector) GetStatus(ctx context.Context, orderID string) (*model.OrderStatusView, error) {
	record, err := p.store.GetOrderByOrderID(ctx, orderID)
	if err == nil {
		return &model.OrderStatusView{
			OrderID:       record.OrderID,
			Status:        record.Status,
			CreatedAt:     record.CreatedAt,
			ProcessedAt:   record.ProcessedAt,
			UpdatedAt:     record.UpdatedAt,
			FailureReason: record.FailureReason,
			RetryCount:    record.RetryCount,
		}, nil
	}
	if !apierror.IsNotFound(err) {
		return nil, err
	}

	for _, id := range []string{orderID, model.OrderMessageID(orderID), model.PersistMessageID(orderID)} {
		failure, err := p.ledger.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			return p.fromFailure(orderID, failure), nil
		}
	}

	now := p.now()
	return &model.OrderStatusView{
		OrderID:   orderID,
		Status:    model.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *StatusProjector) fromFailure(orderID string, failure *model.FailureRecord) *model.OrderStatusView {
	status := model.StatusFailed
	if failure.NextRetryAt.After(p.now()) {
		status = model.StatusRetrying
	}
	return &model.OrderStatusView{
		OrderID:       orderID,
		Status:        status,
		CreatedAt:     failure.FirstFailedAt,
		UpdatedAt:     failure.LastRetryAt,
		FailureReason: ptr.String(failure.ErrorMessage),
		RetryCount:    failure.RetryCount,
		NextRetryAt:   ptr.Time(failure.NextRetryAt),
	}
}
