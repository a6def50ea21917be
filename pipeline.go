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
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Munozca230/order-processing-system/internal/apierror"
	redlock "github.com/Munozca230/order-processing-system/internal/lock"
	"github.com/Munozca230/order-processing-system/internal/metrics"
	"github.com/Munozca230/order-processing-system/ledger"
	"github.com/Munozca230/order-processing-system/model"
	"github.com/Munozca230/order-processing-system/retry"
)

var tracer = otel.Tracer("order-worker")

const releaseTimeout = 5 * time.Second

// Stage is where a pipeline run ended.
type Stage string

const (
	StageDropped         Stage = "dropped"
	StageSkipped         Stage = "skipped"
	StageLockUnavailable Stage = "lock_unavailable"
	StageEnrichFailed    Stage = "enrich_failed"
	StageInvalid         Stage = "validation_failed"
	StageLeaseLost       Stage = "lease_lost"
	StagePersistFailed   Stage = "persist_failed"
	StagePublished       Stage = "published"
)

// Outcome describes one pipeline run.
type Outcome struct {
	OrderID string
	Stage   Stage
	Record  *model.OrderRecord
	Err     error
}

// Failed reports whether the run ended in one of the failure stages.
func (o Outcome) Failed() bool {
	switch o.Stage {
	case StageEnrichFailed, StageInvalid, StagePersistFailed, StageLockUnavailable:
		return true
	}
	return false
}

// ProcessMessage runs one inbound payload through lock, enrichment,
// validation, persistence and notification. Every failure is handled here;
// the returned error is non-nil only when the lock store is unreachable, in
// which case the transport should redeliver the message.
func (w *Worker) ProcessMessage(ctx context.Context, payload []byte) (Outcome, error) {
	start := w.now()
	ctx, span := tracer.Start(ctx, "Processing order message")
	defer span.End()

	outcome := w.process(ctx, payload)
	w.finish(span, outcome, start)

	if outcome.Stage == StageLockUnavailable {
		return outcome, outcome.Err
	}
	return outcome, nil
}

func (w *Worker) process(ctx context.Context, payload []byte) Outcome {
	msg, err := model.DecodeOrderMessage(payload)
	if err != nil {
		return Outcome{Stage: StageDropped, Err: err}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", msg.OrderID))

	lease, acquired, err := w.locks.Acquire(ctx, msg.OrderID)
	if err != nil {
		return Outcome{OrderID: msg.OrderID, Stage: StageLockUnavailable, Err: err}
	}
	if !acquired {
		return Outcome{OrderID: msg.OrderID, Stage: StageSkipped}
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logrus.WithField("order_id", msg.OrderID).WithError(err).Warn("failed to release order lock")
		}
	}()

	enriched, err := w.enricher.Enrich(ctx, msg)
	if err != nil {
		return Outcome{OrderID: msg.OrderID, Stage: StageEnrichFailed, Err: err}
	}

	validated, err := Validate(enriched)
	if err != nil {
		w.recordRejection(ctx, msg, err)
		return Outcome{OrderID: msg.OrderID, Stage: StageInvalid, Err: err}
	}

	// Enrichment may have used most of the lease; renew it before writing.
	if err := lease.Extend(ctx, w.locks.TTL()); err != nil {
		if errors.Is(err, redlock.ErrLeaseLost) {
			return Outcome{OrderID: msg.OrderID, Stage: StageLeaseLost, Err: err}
		}
		logrus.WithField("order_id", msg.OrderID).WithError(err).Warn("failed to extend order lock")
	}

	// The persist entry carries the order payload so the sweeper can replay a
	// validated order that never reached the store.
	record := model.NewCompletedRecord(validated, w.now())
	stored, err := retry.Execute(ctx, w.persister, model.PersistMessageID(msg.OrderID), orderContent(msg),
		func(ctx context.Context) (*model.OrderRecord, error) {
			return w.store.UpsertOrder(ctx, record)
		})
	if err != nil {
		return Outcome{OrderID: msg.OrderID, Stage: StagePersistFailed, Err: err}
	}

	if w.notifier != nil {
		if err := w.notifier.OrderCompleted(ctx, stored, validated); err != nil {
			logrus.WithField("order_id", msg.OrderID).WithError(err).Warn("failed to publish order completion")
		}
	}

	return Outcome{OrderID: msg.OrderID, Stage: StagePublished, Record: stored}
}

func orderContent(msg model.OrderMessage) string {
	content, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	return string(content)
}

func (w *Worker) recordRejection(ctx context.Context, msg model.OrderMessage, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	_, err := w.ledger.RecordFailure(ctx, ledger.Failure{
		MessageID:    model.OrderMessageID(msg.OrderID),
		Content:      orderContent(msg),
		ErrorMessage: cause.Error(),
		Reason:       model.ReasonValidationFailed,
	})
	if err != nil {
		logrus.WithField("order_id", msg.OrderID).WithError(err).Error("failed to record validation failure")
	}
}

func (w *Worker) finish(span trace.Span, outcome Outcome, start time.Time) {
	stage := string(outcome.Stage)
	metrics.PipelineOutcomes.WithLabelValues(stage).Inc()
	metrics.PipelineDuration.WithLabelValues(stage).Observe(w.now().Sub(start).Seconds())

	span.SetAttributes(attribute.String("pipeline.stage", stage))
	fields := logrus.Fields{"order_id": outcome.OrderID, "stage": stage}

	switch {
	case outcome.Stage == StageDropped:
		logrus.WithFields(fields).WithError(outcome.Err).Error("dropping undecodable order message")
	case outcome.Stage == StageSkipped:
		logrus.WithFields(fields).Info("order is locked by another worker, skipping")
	case outcome.Stage == StageLeaseLost:
		logrus.WithFields(fields).WithError(outcome.Err).Warn("order lock expired before persisting, leaving the order to its new holder")
	case outcome.Failed():
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		logrus.WithFields(fields).WithError(outcome.Err).Error("order processing failed")
	default:
		logrus.WithFields(fields).Info("order processed")
	}
}

// isPersistRetryable extends the default classification to store errors that
// are not the caller's fault.
func isPersistRetryable(err error) bool {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == apierror.ErrInternalServer || apiErr.Code == apierror.ErrUnavailable
	}
	return retry.IsRetryable(err)
}
