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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Munozca230/order-processing-system/model"
	"github.com/Munozca230/order-processing-system/retry"
)

const defaultLookupTimeout = 5 * time.Second

// Enricher fetches the customer and every product of an order in parallel.
// Each lookup runs under its own retry budget and ledger id, and the whole
// fan-out runs under the order's top-level id.
type Enricher struct {
	customers      CustomerLookup
	products       ProductLookup
	executor       *retry.Executor
	timeout        time.Duration
	maxConcurrency int
}

// NewEnricher wires the lookups to the executor. A maxConcurrency of zero
// leaves the fan-out unbounded.
func NewEnricher(customers CustomerLookup, products ProductLookup, executor *retry.Executor, timeout time.Duration, maxConcurrency int) *Enricher {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Enricher{
		customers:      customers,
		products:       products,
		executor:       executor,
		timeout:        timeout,
		maxConcurrency: maxConcurrency,
	}
}

// Enrich returns the order with its customer and products attached, or the
// first error that could not be retried away. It never returns a partial result.
func (e *Enricher) Enrich(ctx context.Context, order model.OrderMessage) (*model.EnrichedOrder, error) {
	ctx, span := tracer.Start(ctx, "Enriching order", trace.WithAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.Int("order.products", len(order.Products)),
	))
	defer span.End()

	content, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	enriched, err := retry.Execute(ctx, e.executor, model.OrderMessageID(order.OrderID), string(content),
		func(ctx context.Context) (*model.EnrichedOrder, error) {
			return e.fanOut(ctx, order)
		})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return enriched, nil
}

func (e *Enricher) fanOut(ctx context.Context, order model.OrderMessage) (*model.EnrichedOrder, error) {
	g, gctx := errgroup.WithContext(ctx)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}

	var customer *model.CustomerDetails
	products := make([]*model.ProductDetails, len(order.Products))

	g.Go(func() error {
		c, err := retry.Execute(gctx, e.executor,
			model.CustomerMessageID(order.OrderID, order.CustomerID),
			"customer:"+order.CustomerID,
			func(ctx context.Context) (*model.CustomerDetails, error) {
				ctx, cancel := context.WithTimeout(ctx, e.timeout)
				defer cancel()
				return e.customers.GetCustomer(ctx, order.CustomerID)
			})
		customer = c
		return err
	})

	for i, ref := range order.Products {
		i, ref := i, ref
		g.Go(func() error {
			p, err := retry.Execute(gctx, e.executor,
				model.ProductMessageID(order.OrderID, ref.ProductID),
				"product:"+ref.ProductID,
				func(ctx context.Context) (*model.ProductDetails, error) {
					ctx, cancel := context.WithTimeout(ctx, e.timeout)
					defer cancel()
					return e.products.GetProduct(ctx, ref.ProductID)
				})
			products[i] = p
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	enriched := &model.EnrichedOrder{
		Order:    order,
		Customer: customer,
		Products: make([]model.ProductDetails, 0, len(products)),
	}
	for i, p := range products {
		if p == nil {
			continue
		}
		details := *p
		details.Quantity = order.Products[i].Quantity
		enriched.Products = append(enriched.Products, details)
	}
	return enriched, nil
}
