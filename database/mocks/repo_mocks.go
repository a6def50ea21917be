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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Munozca230/order-processing-system/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) UpsertOrder(ctx context.Context, record *model.OrderRecord) (*model.OrderRecord, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderRecord), args.Error(1)
}

func (m *MockDataSource) GetOrderByOrderID(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderRecord), args.Error(1)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
