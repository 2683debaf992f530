package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/activity"

	"order-approval-service/internal/idempotency"
	"order-approval-service/internal/metrics"
	"order-approval-service/internal/notify"
	"order-approval-service/internal/store"
	"order-approval-service/internal/telemetry"
)

const (
	// notifiedTTL outlives any retry schedule the worker is configured with.
	notifiedTTL = 7 * 24 * time.Hour
	// inflightTTL bounds how long a crashed attempt can hold the publish claim.
	inflightTTL = 5 * time.Minute
)

// Ledger is the durable record of payment and shipment side effects.
type Ledger interface {
	RecordPayment(ctx context.Context, orderID, reference string) (store.PaymentCapture, bool, error)
	RecordShipment(ctx context.Context, orderID, trackingRef string) (store.Shipment, bool, error)
}

// Activities are registered as a struct; every exported method is an activity.
// Each one may run more than once for the same order and must leave one effect.
type Activities struct {
	Ledger    Ledger
	Claims    idempotency.Keeper
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

func (a *Activities) ProcessPayment(ctx context.Context, orderID string) error {
	ctx, span := a.start(ctx, "ProcessPayment", orderID)
	defer span.End()
	logger := activity.GetLogger(ctx)

	rec, created, err := a.Ledger.RecordPayment(ctx, orderID, "pay-"+uuid.NewString())
	if err != nil {
		return a.fail(span, "ProcessPayment", fmt.Errorf("capture payment for order %s: %w", orderID, err))
	}
	span.SetAttributes(attribute.String("payment.reference", rec.Reference))
	if !created {
		logger.Info("Payment already captured, skipping.", "orderID", orderID, "reference", rec.Reference)
		a.Metrics.Activity("ProcessPayment", metrics.ActivitySkipped)
		return nil
	}
	logger.Info("Payment captured.", "orderID", orderID, "reference", rec.Reference)
	a.Metrics.Activity("ProcessPayment", metrics.ActivityExecuted)
	return nil
}

func (a *Activities) PrepareShipment(ctx context.Context, orderID string) error {
	ctx, span := a.start(ctx, "PrepareShipment", orderID)
	defer span.End()
	logger := activity.GetLogger(ctx)

	rec, created, err := a.Ledger.RecordShipment(ctx, orderID, "trk-"+uuid.NewString())
	if err != nil {
		return a.fail(span, "PrepareShipment", fmt.Errorf("prepare shipment for order %s: %w", orderID, err))
	}
	span.SetAttributes(attribute.String("shipment.tracking_ref", rec.TrackingRef))
	if !created {
		logger.Info("Shipment already prepared, skipping.", "orderID", orderID, "trackingRef", rec.TrackingRef)
		a.Metrics.Activity("PrepareShipment", metrics.ActivitySkipped)
		return nil
	}
	logger.Info("Shipment prepared.", "orderID", orderID, "trackingRef", rec.TrackingRef)
	a.Metrics.Activity("PrepareShipment", metrics.ActivityExecuted)
	return nil
}

// Notify publishes the fulfillment notification at least once. The order is
// marked notified only after a successful publish; a duplicate publish carries
// the same notification ID so consumers can drop it.
func (a *Activities) Notify(ctx context.Context, orderID string) error {
	ctx, span := a.start(ctx, "Notify", orderID)
	defer span.End()
	logger := activity.GetLogger(ctx)

	sent := idempotency.NotifiedKey(orderID)
	done, err := a.Claims.Marked(ctx, sent)
	if err != nil {
		return a.fail(span, "Notify", fmt.Errorf("lookup notification for order %s: %w", orderID, err))
	}
	if done {
		logger.Info("Notification already sent, skipping.", "orderID", orderID)
		a.Metrics.Activity("Notify", metrics.ActivitySkipped)
		return nil
	}

	inflight := idempotency.NotifyingKey(orderID)
	claimed, err := a.Claims.Claim(ctx, inflight, claimTTL(ctx))
	if err != nil {
		return a.fail(span, "Notify", fmt.Errorf("claim notification for order %s: %w", orderID, err))
	}
	if !claimed {
		return a.fail(span, "Notify", fmt.Errorf("notification for order %s is being published by another attempt", orderID))
	}
	release := func() {
		if rerr := a.Claims.Release(context.WithoutCancel(ctx), inflight); rerr != nil {
			logger.Warn("Failed to release notification claim.", "orderID", orderID, "error", rerr)
		}
	}

	n := notify.Notification{
		ID:      NotificationID(orderID),
		OrderID: orderID,
		Message: fmt.Sprintf("Order %s has been approved, paid and shipped.", orderID),
		SentAt:  time.Now().UTC(),
	}
	if err := a.Publisher.Publish(ctx, n); err != nil {
		release()
		return a.fail(span, "Notify", err)
	}
	if err := a.Claims.Mark(context.WithoutCancel(ctx), sent, notifiedTTL); err != nil {
		// Only a lost completion retries now, and it republishes under the same ID.
		logger.Warn("Failed to mark notification sent.", "orderID", orderID, "error", err)
	}
	release()
	logger.Info("Notification sent.", "orderID", orderID, "notificationID", n.ID)
	a.Metrics.Activity("Notify", metrics.ActivityExecuted)
	return nil
}

// NotificationID is stable per order.
func NotificationID(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("order-approval:notification:"+orderID)).String()
}

// claimTTL keeps the publish claim no longer than this attempt can run.
func claimTTL(ctx context.Context) time.Duration {
	if left := time.Until(activity.GetInfo(ctx).Deadline); left > 0 && left < inflightTTL {
		return left
	}
	return inflightTTL
}

func (a *Activities) start(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	tracer := a.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	info := activity.GetInfo(ctx)
	return tracer.Start(ctx, "activities."+name, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("activity.attempt", int(info.Attempt)),
	))
}

func (a *Activities) fail(span trace.Span, name string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.Metrics.Activity(name, metrics.ActivityError)
	return err
}
