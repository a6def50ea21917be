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
	"errors"

	"github.com/Munozca230/order-processing-system/model"
)

// ValidationError is a business-rule rejection. It is never retried.
type ValidationError struct {
	OrderID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidationError reports whether err is a business-rule rejection.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Validate applies the business rules to an enriched order. The first failing
// rule wins.
func Validate(enriched *model.EnrichedOrder) (*model.EnrichedOrder, error) {
	orderID := enriched.Order.OrderID

	if enriched.Customer == nil {
		return nil, &ValidationError{OrderID: orderID, Reason: "Customer is null"}
	}
	if !enriched.Customer.Active {
		return nil, &ValidationError{OrderID: orderID, Reason: "Customer is inactive"}
	}
	if len(enriched.Products) == 0 {
		return nil, &ValidationError{OrderID: orderID, Reason: "No products found for order"}
	}
	return enriched, nil
}
