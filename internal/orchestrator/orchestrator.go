package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"order-approval-service/internal/dispatch"
	"order-approval-service/internal/metrics"
	"order-approval-service/internal/modal"
	"order-approval-service/internal/order"
	"order-approval-service/internal/telemetry"
	"order-approval-service/internal/workflows"
)

var ErrInvalidOrderID = errors.New("orderId is required")

// AlreadyStartedError is returned when an instance already exists for the order.
type AlreadyStartedError struct {
	OrderID    string
	WorkflowID string
	RunID      string
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("order %s already has an approval workflow (ID=%s)", e.OrderID, e.WorkflowID)
}

type InstanceRef struct {
	OrderID    string `json:"orderId"`
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// Options are copied into every instance's input at start.
type Options struct {
	TaskQueue       string
	Approvers       []string
	DecisionTimeout time.Duration
	Activity        workflows.ActivityConfig
}

type Service struct {
	dispatcher *dispatch.Dispatcher
	opts       Options
	approvers  order.ApproverSet
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

func New(d *dispatch.Dispatcher, opts Options, m *metrics.Metrics) *Service {
	if opts.TaskQueue == "" {
		opts.TaskQueue = workflows.TaskQueue
	}
	return &Service{
		dispatcher: d,
		opts:       opts,
		approvers:  order.NewApproverSet(opts.Approvers...),
		metrics:    m,
		tracer:     telemetry.Tracer(),
	}
}

// normalize trims orderID so every entry point addresses the same instance.
func normalize(orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", ErrInvalidOrderID
	}
	return orderID, nil
}

// StartOrder starts the approval instance for orderID. Starting the same order
// twice fails with *AlreadyStartedError, even after the first instance closed.
func (s *Service) StartOrder(ctx context.Context, orderID string) (InstanceRef, error) {
	orderID, err := normalize(orderID)
	if err != nil {
		return InstanceRef{}, err
	}
	ctx, span := s.tracer.Start(ctx, "orchestrator.StartOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	wid := workflows.WorkflowID(orderID)
	opts := client.StartWorkflowOptions{
		ID:                                       wid,
		TaskQueue:                                s.opts.TaskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	in := workflows.OrderInput{
		OrderID:         orderID,
		Approvers:       s.opts.Approvers,
		DecisionTimeout: s.opts.DecisionTimeout,
		Activity:        s.opts.Activity,
	}

	we, err := s.dispatcher.Client().ExecuteWorkflow(ctx, opts, workflows.WorkflowType, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			s.metrics.Start(metrics.StartDuplicate)
			span.SetAttributes(attribute.Bool("order.duplicate", true))
			return InstanceRef{}, &AlreadyStartedError{OrderID: orderID, WorkflowID: wid, RunID: started.RunId}
		}
		s.metrics.Start(metrics.StartError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return InstanceRef{}, fmt.Errorf("start order %s: %w", orderID, err)
	}

	s.dispatcher.Bind(orderID, we.GetRunID())
	s.metrics.Start(metrics.StartStarted)
	zerolog.Ctx(ctx).Info().Str("order_id", orderID).Str("workflow_id", we.GetID()).Str("run_id", we.GetRunID()).Msg("started approval workflow")
	return InstanceRef{OrderID: orderID, WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

// StartedAck is the acknowledgment returned to callers of create.
func StartedAck(ref InstanceRef) string {
	return "Started workflow, ID=" + ref.WorkflowID
}

// SignalDecision routes a decision to the order's instance. The returned
// acknowledgment confirms the delivery attempt, not the outcome: an
// unauthorized actor gets the same text and the order stays pending.
func (s *Service) SignalDecision(ctx context.Context, orderID string, kind order.SignalKind, actorID string) (string, error) {
	orderID, err := normalize(orderID)
	if err != nil {
		return "", err
	}
	ctx, span := s.tracer.Start(ctx, "orchestrator.SignalDecision", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("decision.kind", string(kind)),
	))
	defer span.End()

	if err := s.dispatcher.Handle(orderID).Signal(ctx, kind, actorID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return DecisionAck(orderID, kind, actorID), nil
}

func DecisionAck(orderID string, kind order.SignalKind, actorID string) string {
	if kind == order.SignalReject {
		return "OrderId: " + orderID + " is rejected by approver of id: " + actorID
	}
	return "OrderId: " + orderID + " is approved by approver of id " + actorID
}

func (s *Service) Approve(ctx context.Context, orderID, actorID string) (string, error) {
	return s.SignalDecision(ctx, orderID, order.SignalApprove, actorID)
}

// Reject signals the rejection, then cancels the instance when the actor is an
// approver. An instance that already observed the rejection finishes as
// Terminated either way. An unauthorized actor gets the same ack and the
// order stays pending.
func (s *Service) Reject(ctx context.Context, orderID, actorID string) (string, error) {
	ack, err := s.SignalDecision(ctx, orderID, order.SignalReject, actorID)
	if err != nil {
		return "", err
	}
	if !order.IsAuthorized(actorID, s.approvers) {
		return ack, nil
	}
	orderID, _ = normalize(orderID)
	if err := s.dispatcher.Handle(orderID).Cancel(ctx); err != nil {
		return "", err
	}
	return ack, nil
}

func (s *Service) Status(ctx context.Context, orderID string) (modal.OrderStatus, error) {
	orderID, err := normalize(orderID)
	if err != nil {
		return modal.OrderStatus{}, err
	}
	var st modal.OrderStatus
	if err := s.dispatcher.Handle(orderID).Query(ctx, workflows.StatusQuery, &st); err != nil {
		return modal.OrderStatus{}, err
	}
	return st, nil
}

func (s *Service) Audit(ctx context.Context, orderID string) ([]modal.AuditEvent, error) {
	orderID, err := normalize(orderID)
	if err != nil {
		return nil, err
	}
	var events []modal.AuditEvent
	if err := s.dispatcher.Handle(orderID).Query(ctx, workflows.AuditQuery, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// PendingQuery selects running approval instances in visibility.
const PendingQuery = `WorkflowType = "` + workflows.WorkflowType + `" AND ExecutionStatus = "Running"`

// Pending lists running approval instances, newest first as visibility returns them.
func (s *Service) Pending(ctx context.Context, limit int) ([]InstanceRef, error) {
	if limit <= 0 {
		limit = 200
	}
	resp, err := s.dispatcher.Client().ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		Query:    PendingQuery,
		PageSize: int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	refs := make([]InstanceRef, 0, len(resp.GetExecutions()))
	for _, ex := range resp.GetExecutions() {
		wid := ex.GetExecution().GetWorkflowId()
		orderID, ok := workflows.OrderIDFromWorkflowID(wid)
		if !ok {
			continue
		}
		refs = append(refs, InstanceRef{OrderID: orderID, WorkflowID: wid, RunID: ex.GetExecution().GetRunId()})
		if len(refs) >= limit {
			break
		}
	}
	return refs, nil
}
