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

	"github.com/Munozca230/order-processing-system/model"
)

// IDataSource groups the storage operations of the worker.
type IDataSource interface {
	order
	Ping(ctx context.Context) error
}

type order interface {
	// UpsertOrder inserts the record or overwrites the row with the same order id.
	// The stored record id and creation time win over the ones passed in.
	UpsertOrder(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error)
	// GetOrderByOrderID looks a record up by its business key.
	GetOrderByOrderID(ctx context.Context, orderID string) (*model.OrderRecord, error)
}
