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

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/metrics"
)

// KeyHeader carries the API secret.
const KeyHeader = "X-Order-Worker-Key"

const defaultLimiterTTL = time.Hour

// RateLimit throttles clients per IP on the given methods (all methods when
// none are given). Clients poll order status, so the API limits only its
// write routes. Without a configured rate the handler is a pass-through.
func RateLimit(conf config.RateLimitConfig, methods ...string) gin.HandlerFunc {
	if conf.RequestsPerSecond == nil || conf.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := defaultLimiterTTL
	if conf.CleanupIntervalSec != nil && *conf.CleanupIntervalSec > 0 {
		ttl = time.Duration(*conf.CleanupIntervalSec) * time.Second
	}

	lmt := tollbooth.NewLimiter(*conf.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*conf.Burst)
	if len(methods) > 0 {
		lmt.SetMethods(methods)
	}

	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			metrics.HTTPRejected.WithLabelValues(metrics.RejectRateLimited).Inc()
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

// SecretKeyAuth requires secret in KeyHeader on every path except the open
// ones. An empty secret rejects every protected request.
func SecretKeyAuth(secret string, open ...string) gin.HandlerFunc {
	public := make(map[string]bool, len(open))
	for _, path := range open {
		public[path] = true
	}

	return func(c *gin.Context) {
		if public[c.Request.URL.Path] {
			c.Next()
			return
		}
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}

		provided := c.GetHeader(KeyHeader)
		switch {
		case provided == "":
			reject(c, "Missing secret key")
		case subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1:
			reject(c, "Invalid secret key")
		default:
			c.Next()
		}
	}
}

func reject(c *gin.Context, message string) {
	metrics.HTTPRejected.WithLabelValues(metrics.RejectUnauthorized).Inc()
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
