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
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with the given module name,
// e.g. "ord_1b4e28ba-2fa1-11d2-883f-0016d3cca427".
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// OrderMessageID is the ledger id of the whole enrichment run for an order.
// The status projector falls back to this key when nothing is stored under the
// raw order id.
func OrderMessageID(orderID string) string {
	return "order_" + orderID
}

// CustomerMessageID is the ledger id of the customer lookup of an order.
func CustomerMessageID(orderID, customerID string) string {
	return fmt.Sprintf("%s_customer_%s", OrderMessageID(orderID), customerID)
}

// ProductMessageID is the ledger id of one product lookup of an order.
func ProductMessageID(orderID, productID string) string {
	return fmt.Sprintf("%s_product_%s", OrderMessageID(orderID), productID)
}

// PersistMessageID is the ledger id of the final order write.
func PersistMessageID(orderID string) string {
	return OrderMessageID(orderID) + "_persist"
}
