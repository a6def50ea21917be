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
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/cache"
	"github.com/Munozca230/order-processing-system/internal/request"
	"github.com/Munozca230/order-processing-system/model"
)

// CustomerLookup fetches customer details. A nil result with a nil error means
// the service knows nothing about the customer.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (*model.CustomerDetails, error)
}

// ProductLookup fetches product details.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID string) (*model.ProductDetails, error)
}

// HTTPLookup implements CustomerLookup and ProductLookup against the customer
// and product services, with an optional read-through cache.
type HTTPLookup struct {
	customerURL string
	productURL  string
	client      *http.Client
	cache       cache.Cache
	cacheTTL    time.Duration
}

func NewHTTPLookup(cfg config.LookupConfig, client *http.Client, c cache.Cache) *HTTPLookup {
	if client == nil {
		client = &http.Client{}
	}
	l := &HTTPLookup{
		customerURL: strings.TrimRight(cfg.CustomerURL, "/"),
		productURL:  strings.TrimRight(cfg.ProductURL, "/"),
		client:      client,
		cacheTTL:    cfg.CacheTTL(),
	}
	if l.cacheTTL > 0 {
		l.cache = c
	}
	return l
}

func customerCacheKey(id string) string { return "lookup:customer:" + id }

func productCacheKey(id string) string { return "lookup:product:" + id }

func (l *HTTPLookup) GetCustomer(ctx context.Context, customerID string) (*model.CustomerDetails, error) {
	endpoint := fmt.Sprintf("%s/customers/%s", l.customerURL, url.PathEscape(customerID))
	customer, err := fetch[model.CustomerDetails](ctx, l, customerCacheKey(customerID), endpoint)
	if err != nil {
		return nil, err
	}
	if customer != nil && customer.CustomerID == "" {
		customer.CustomerID = customerID
	}
	return customer, nil
}

func (l *HTTPLookup) GetProduct(ctx context.Context, productID string) (*model.ProductDetails, error) {
	endpoint := fmt.Sprintf("%s/products/%s", l.productURL, url.PathEscape(productID))
	product, err := fetch[model.ProductDetails](ctx, l, productCacheKey(productID), endpoint)
	if err != nil {
		return nil, err
	}
	if product != nil && product.ProductID == "" {
		product.ProductID = productID
	}
	return product, nil
}

// fetch decodes endpoint into a *T, consulting the cache first. A JSON null
// body yields nil and is never cached.
func fetch[T any](ctx context.Context, l *HTTPLookup, key, endpoint string) (*T, error) {
	if l.cache != nil {
		var cached T
		found, err := l.cache.Get(ctx, key, &cached)
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("lookup cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	var out *T
	if err := request.GetJSON(ctx, l.client, endpoint, &out); err != nil {
		return nil, err
	}

	if out != nil && l.cache != nil {
		if err := l.cache.Set(ctx, key, out, l.cacheTTL); err != nil {
			logrus.WithField("key", key).WithError(err).Warn("lookup cache write failed")
		}
	}
	return out, nil
}
