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

// Package backoff holds the exponential delay policy shared by inline retries
// and the failure ledger schedule.
package backoff

import (
	"math"
	"time"
)

// DefaultUnit is the base delay of attempt 0.
const DefaultUnit = time.Second

// Policy computes retry delays as 2^attempt units.
type Policy struct {
	Unit time.Duration
}

// New returns a Policy using unit as the delay of attempt 0. A non-positive
// unit falls back to DefaultUnit.
func New(unit time.Duration) Policy {
	if unit <= 0 {
		unit = DefaultUnit
	}
	return Policy{Unit: unit}
}

// Delay returns 2^attempt units. Negative attempts count as attempt 0 and the
// result saturates at math.MaxInt64 instead of wrapping around.
func (p Policy) Delay(attempt int) time.Duration {
	unit := p.Unit
	if unit <= 0 {
		unit = DefaultUnit
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 63 {
		return time.Duration(math.MaxInt64)
	}

	factor := int64(1) << uint(attempt)
	if int64(unit) > math.MaxInt64/factor {
		return time.Duration(math.MaxInt64)
	}
	return unit * time.Duration(factor)
}

// NextRetryAt is now + Delay(attempt).
func (p Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
