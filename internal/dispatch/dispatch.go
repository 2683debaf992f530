// Package dispatch routes decision signals and cancellations to the Temporal
// instance owning an order. It keeps one Handle per order and hides the race
// between a signal and the instance finishing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"order-approval-service/internal/metrics"
	"order-approval-service/internal/order"
	"order-approval-service/internal/workflows"
)

// ErrUnknownOrder means no instance was ever started for the order.
var ErrUnknownOrder = errors.New("unknown order")

// Client is the part of client.Client the service uses.
type Client interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	ListWorkflow(ctx context.Context, request *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error)
}

var _ Client = client.Client(nil)

type Dispatcher struct {
	client  Client
	metrics *metrics.Metrics

	mu      sync.Mutex
	handles map[string]*Handle
}

func New(c Client, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{client: c, metrics: m, handles: make(map[string]*Handle)}
}

func (d *Dispatcher) Client() Client { return d.client }

// Handle returns the registered handle for orderID. An order that was not
// started through this dispatcher gets an unregistered handle addressing the
// latest run, so lookups never grow the registry.
func (d *Dispatcher) Handle(orderID string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.handles[orderID]; ok {
		return h
	}
	return d.newHandle(orderID)
}

// Bind registers the run started for orderID. Entries are dropped again once
// the instance is found closed or missing.
func (d *Dispatcher) Bind(orderID, runID string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[orderID]
	if !ok {
		h = d.newHandle(orderID)
		d.handles[orderID] = h
	}
	h.mu.Lock()
	h.runID = runID
	h.mu.Unlock()
	return h
}

func (d *Dispatcher) newHandle(orderID string) *Handle {
	return &Handle{d: d, orderID: orderID, workflowID: workflows.WorkflowID(orderID)}
}

func (d *Dispatcher) Forget(orderID string) {
	d.mu.Lock()
	delete(d.handles, orderID)
	d.mu.Unlock()
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// Handle addresses one order's instance.
type Handle struct {
	d          *Dispatcher
	orderID    string
	workflowID string

	mu    sync.Mutex
	runID string
}

func (h *Handle) OrderID() string    { return h.orderID }
func (h *Handle) WorkflowID() string { return h.workflowID }

func (h *Handle) RunID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runID
}

// Signal delivers a decision. A nil error acknowledges the delivery attempt
// only; the instance may still drop it as unauthorized or late.
func (h *Handle) Signal(ctx context.Context, kind order.SignalKind, actorID string) error {
	err := h.d.client.SignalWorkflow(ctx, h.workflowID, h.RunID(), workflows.SignalName(kind), actorID)
	return h.settle(ctx, string(kind), err)
}

// Cancel requests cancellation. Cancelling a finished instance is a no-op.
func (h *Handle) Cancel(ctx context.Context) error {
	err := h.d.client.CancelWorkflow(ctx, h.workflowID, h.RunID())
	return h.settle(ctx, "cancel", err)
}

// Query runs queryType against the instance and decodes the answer into out.
func (h *Handle) Query(ctx context.Context, queryType string, out interface{}) error {
	v, err := h.d.client.QueryWorkflow(ctx, h.workflowID, h.RunID(), queryType)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			if _, derr := h.closed(ctx); errors.Is(derr, ErrUnknownOrder) {
				h.d.Forget(h.orderID)
				return derr
			}
		}
		return fmt.Errorf("query %s on order %s: %w", queryType, h.orderID, err)
	}
	if err := v.Get(out); err != nil {
		return fmt.Errorf("decode %s for order %s: %w", queryType, h.orderID, err)
	}
	return nil
}

// settle classifies a send error. NotFound from an instance that has already
// closed is the termination race and is swallowed.
func (h *Handle) settle(ctx context.Context, kind string, err error) error {
	logger := zerolog.Ctx(ctx).With().Str("order_id", h.orderID).Str("kind", kind).Logger()
	if err == nil {
		h.d.metrics.Signal(kind, metrics.SignalDelivered)
		return nil
	}

	var notFound *serviceerror.NotFound
	if !errors.As(err, &notFound) {
		h.d.metrics.Signal(kind, metrics.SignalError)
		return fmt.Errorf("%s order %s: %w", kind, h.orderID, err)
	}

	closed, derr := h.closed(ctx)
	switch {
	case errors.Is(derr, ErrUnknownOrder):
		h.d.metrics.Signal(kind, metrics.SignalUnknown)
		h.d.Forget(h.orderID)
		return derr
	case derr != nil:
		h.d.metrics.Signal(kind, metrics.SignalError)
		return fmt.Errorf("%s order %s: %w", kind, h.orderID, errors.Join(err, derr))
	case closed:
		logger.Debug().Msg("instance already closed, dropping")
		h.d.metrics.Signal(kind, metrics.SignalSwallowed)
		h.d.Forget(h.orderID)
		return nil
	}
	h.d.metrics.Signal(kind, metrics.SignalError)
	return fmt.Errorf("%s order %s: %w", kind, h.orderID, err)
}

// closed reports whether the instance has finished. It returns ErrUnknownOrder
// when the server has no execution for the workflow ID.
func (h *Handle) closed(ctx context.Context) (bool, error) {
	resp, err := h.d.client.DescribeWorkflowExecution(ctx, h.workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return false, fmt.Errorf("order %s: %w", h.orderID, ErrUnknownOrder)
		}
		return false, fmt.Errorf("describe order %s: %w", h.orderID, err)
	}
	status := resp.GetWorkflowExecutionInfo().GetStatus()
	return status != enums.WORKFLOW_EXECUTION_STATUS_RUNNING, nil
}
