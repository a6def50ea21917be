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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// OrderMessage is the inbound order event. It is decoded once from the queue
// payload and never mutated afterwards.
type OrderMessage struct {
	OrderID    string       `json:"orderId"`
	CustomerID string       `json:"customerId"`
	Products   []ProductRef `json:"products"`
}

// ProductRef points at a catalog product. On the wire it is either a bare
// product id ("p1") or an object ({"productId": "p1", "quantity": 2}).
type ProductRef struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

// UnmarshalJSON accepts both the string and the object form.
func (p *ProductRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = ProductRef{ProductID: id, Quantity: 1}
		return nil
	}

	type plain ProductRef
	var ref plain
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("product reference must be a string or an object: %w", err)
	}
	if ref.Quantity <= 0 {
		ref.Quantity = 1
	}
	*p = ProductRef(ref)
	return nil
}

// Validate checks the shape of a product reference.
func (p ProductRef) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ProductID, validation.Required),
		validation.Field(&p.Quantity, validation.Min(0)),
	)
}

// Validate checks the shape of the message. An empty product list is allowed
// here; the business rules reject it after enrichment.
func (o OrderMessage) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.OrderID, validation.Required),
		validation.Field(&o.CustomerID, validation.Required),
		validation.Field(&o.Products),
	)
}

// ProductIDs returns the referenced product ids in message order.
func (o OrderMessage) ProductIDs() []string {
	ids := make([]string, 0, len(o.Products))
	for _, p := range o.Products {
		ids = append(ids, p.ProductID)
	}
	return ids
}

// DecodeOrderMessage parses and shape-checks a queue payload.
func DecodeOrderMessage(payload []byte) (OrderMessage, error) {
	var msg OrderMessage
	if len(bytes.TrimSpace(payload)) == 0 {
		return msg, errors.New("empty order payload")
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode order payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid order payload: %w", err)
	}
	return msg, nil
}

// CustomerDetails is returned by the customer service.
type CustomerDetails struct {
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}

// ProductDetails is returned by the product service. Quantity is not part of
// the lookup response; enrichment copies it from the matching ProductRef.
type ProductDetails struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity,omitempty"`
}

// EnrichedOrder is an order plus everything fetched for it. It lives for one
// pipeline run only.
type EnrichedOrder struct {
	Order    OrderMessage     `json:"order"`
	Customer *CustomerDetails `json:"customer"`
	Products []ProductDetails `json:"products"`
}

// Total sums price x quantity over the enriched products. A product without a
// quantity counts once.
func (e *EnrichedOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range e.Products {
		qty := int64(1)
		if p.Quantity > 0 {
			qty = int64(p.Quantity)
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(qty)))
	}
	return total
}
