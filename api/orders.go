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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Munozca230/order-processing-system/internal/apierror"
	"github.com/Munozca230/order-processing-system/model"
)

// GetOrderStatus reports the projected status of an order. Unknown orders are
// reported as PROCESSING rather than 404.
func (a Api) GetOrderStatus(c *gin.Context) {
	orderID, passed := c.Params.Get("orderId")
	if !passed || orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required. pass id in the route /orders/:orderId/status"})
		return
	}

	view, err := a.orders.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, view)
}

// QueueOrder validates an order payload and puts it on the order queue.
func (a Api) QueueOrder(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := model.DecodeOrderMessage(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.queue.EnqueueOrder(c.Request.Context(), msg); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"orderId": msg.OrderID, "status": model.StatusProcessing})
}

// GetFailure returns the raw ledger entry stored under a message id.
func (a Api) GetFailure(c *gin.Context) {
	messageID := c.Param("messageId")

	record, err := a.orders.Failure(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ledger entry for " + messageID})
		return
	}

	c.JSON(http.StatusOK, record)
}

// SweepFailures runs one sweep pass and returns its counts.
func (a Api) SweepFailures(c *gin.Context) {
	result, err := a.sweeper.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}
