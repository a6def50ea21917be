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

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Munozca230/order-processing-system/api/middleware"
	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/model"
	"github.com/Munozca230/order-processing-system/retry"
)

// OrderService answers status and ledger queries.
type OrderService interface {
	GetStatus(ctx context.Context, orderID string) (*model.OrderStatusView, error)
	Failure(ctx context.Context, messageID string) (*model.FailureRecord, error)
}

// Enqueuer accepts new orders.
type Enqueuer interface {
	EnqueueOrder(ctx context.Context, msg model.OrderMessage) error
}

// Sweeper runs a ledger sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (retry.SweepResult, error)
}

type Api struct {
	orders  OrderService
	queue   Enqueuer
	sweeper Sweeper
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/orders/:orderId/status", a.GetOrderStatus)
	router.POST("/orders", a.QueueOrder)

	router.GET("/failures/:messageId", a.GetFailure)
	router.POST("/failures/sweep", a.SweepFailures)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return a.router
}

func NewAPI(orders OrderService, queue Enqueuer, sweeper Sweeper) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimit(conf.RateLimit, http.MethodPost))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuth(conf.Server.SecretKey, "/"))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{orders: orders, queue: queue, sweeper: sweeper, router: r}
}
