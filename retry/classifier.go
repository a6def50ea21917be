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

package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ExhaustedError is returned once an operation has used its whole retry budget.
// It is terminal for any enclosing executor.
type ExhaustedError struct {
	ID       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.ID, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type statusCoder interface {
	StatusCode() int
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient failure worth another attempt:
// timeouts, connection failures, and 5xx responses. Anything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 500 && code <= 599
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
