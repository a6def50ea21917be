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
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Munozca230/order-processing-system/internal/backoff"
	"github.com/Munozca230/order-processing-system/internal/metrics"
	"github.com/Munozca230/order-processing-system/ledger"
	"github.com/Munozca230/order-processing-system/model"
)

const (
	DefaultMaxAttempts = 5

	recordTimeout = 5 * time.Second
)

// Recorder persists failures that outlived their inline retries.
type Recorder interface {
	RecordFailure(ctx context.Context, f ledger.Failure) (*model.FailureRecord, error)
}

// Executor runs operations with bounded exponential retry and records the
// ones that still fail in the failure ledger.
type Executor struct {
	recorder    Recorder
	policy      backoff.Policy
	maxAttempts int
	classify    func(error) bool
}

type Option func(*Executor)

// WithClassifier replaces IsRetryable.
func WithClassifier(classify func(error) bool) Option {
	return func(e *Executor) {
		e.classify = classify
	}
}

// NewExecutor creates an executor making at most maxAttempts calls per operation.
func NewExecutor(recorder Recorder, policy backoff.Policy, maxAttempts int, opts ...Option) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	e := &Executor{
		recorder:    recorder,
		policy:      policy,
		maxAttempts: maxAttempts,
		classify:    IsRetryable,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the per-operation attempt budget.
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// policyBackOff feeds the exponential policy to cenkalti/backoff.
type policyBackOff struct {
	policy  backoff.Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt)
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Execute runs op under id. Retryable failures are retried with exponential
// backoff; once the budget is spent the failure is recorded under id with
// content and an *ExhaustedError is returned. Terminal failures are recorded
// once and returned unchanged. Nothing is recorded when ctx ends first.
func Execute[T any](ctx context.Context, e *Executor, id, content string, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero     T
		result   T
		attempts int
		lastErr  error
	)

	operation := func() error {
		attempts++
		r, err := op(ctx)
		if err == nil {
			result = r
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !e.classify(err) {
			return cbackoff.Permanent(err)
		}
		return err
	}

	b := cbackoff.WithContext(
		cbackoff.WithMaxRetries(&policyBackOff{policy: e.policy}, uint64(e.maxAttempts-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		metrics.RetryAttempts.WithLabelValues(metrics.ResultRetry).Inc()
		logrus.WithFields(logrus.Fields{
			"message_id": id,
			"attempt":    attempts,
			"wait":       wait.String(),
		}).WithError(err).Debug("operation failed, retrying")
	}

	err := cbackoff.RetryNotify(operation, b, notify)
	if err == nil {
		metrics.RetryAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
		return result, nil
	}
	if lastErr == nil {
		lastErr = err
	}

	if ctx.Err() != nil {
		metrics.RetryAttempts.WithLabelValues(metrics.ResultCancelled).Inc()
		return zero, lastErr
	}

	fields := logrus.Fields{"message_id": id, "attempts": attempts}

	var inner *ExhaustedError
	switch {
	case errors.As(lastErr, &inner):
		// A nested executor already spent its budget. Record the parent
		// operation as exhausted too, without retrying it.
		metrics.RetryAttempts.WithLabelValues(metrics.ResultExhausted).Inc()
		e.record(ctx, ledger.Failure{
			MessageID:    id,
			Content:      content,
			ErrorMessage: lastErr.Error(),
			RetryCount:   inner.Attempts,
			Reason:       model.ReasonRetriesExhausted,
		})
		logrus.WithFields(fields).WithError(lastErr).Warn("nested operation exhausted its retries")
		return zero, lastErr

	case e.classify(lastErr):
		metrics.RetryAttempts.WithLabelValues(metrics.ResultExhausted).Inc()
		e.record(ctx, ledger.Failure{
			MessageID:    id,
			Content:      content,
			ErrorMessage: lastErr.Error(),
			RetryCount:   attempts,
			Reason:       model.ReasonRetriesExhausted,
		})
		logrus.WithFields(fields).WithError(lastErr).Warn("operation exhausted its retries")
		return zero, &ExhaustedError{ID: id, Attempts: attempts, Err: lastErr}

	default:
		metrics.RetryAttempts.WithLabelValues(metrics.ResultTerminal).Inc()
		e.record(ctx, ledger.Failure{
			MessageID:    id,
			Content:      content,
			ErrorMessage: lastErr.Error(),
			RetryCount:   0,
			Reason:       model.ReasonNonRetryable,
		})
		logrus.WithFields(fields).WithError(lastErr).Warn("operation failed with a terminal error")
		return zero, lastErr
	}
}

func (e *Executor) record(ctx context.Context, f ledger.Failure) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if _, err := e.recorder.RecordFailure(ctx, f); err != nil {
		logrus.WithField("message_id", f.MessageID).WithError(err).Error("failed to record failure in ledger")
	}
}
