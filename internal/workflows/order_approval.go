package workflows

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"order-approval-service/internal/modal"
	"order-approval-service/internal/order"
)

const TaskQueue = "ORDER_APPROVAL_TASK_QUEUE"

// WorkflowType is the registered name of OrderApproval, used in visibility queries.
const WorkflowType = "OrderApproval"

// Signal names. Each signal carries the actor id as its only payload.
const (
	ApproveSignal = "approveOrder"
	RejectSignal  = "rejectOrder"
)

const (
	StatusQuery = "status"
	AuditQuery  = "audit_log"
	EventsQuery = "events"
)

// Activity names as registered from *activities.Activities.
const (
	ProcessPaymentActivity  = "ProcessPayment"
	PrepareShipmentActivity = "PrepareShipment"
	NotifyActivity          = "Notify"
)

const workflowIDPrefix = "order-"

// WorkflowID is the Temporal workflow ID of the instance owning orderID.
func WorkflowID(orderID string) string { return workflowIDPrefix + orderID }

// OrderIDFromWorkflowID reverses WorkflowID.
func OrderIDFromWorkflowID(workflowID string) (string, bool) {
	if !strings.HasPrefix(workflowID, workflowIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(workflowID, workflowIDPrefix), true
}

func SignalName(kind order.SignalKind) string {
	if kind == order.SignalReject {
		return RejectSignal
	}
	return ApproveSignal
}

func activityName(kind order.ActivityKind) string {
	switch kind {
	case order.ActivityPayment:
		return ProcessPaymentActivity
	case order.ActivityShipping:
		return PrepareShipmentActivity
	default:
		return NotifyActivity
	}
}

// ActivityConfig is the timeout and retry policy of every fulfillment activity.
// MaximumAttempts of 0 means unlimited, as in temporal.RetryPolicy.
type ActivityConfig struct {
	StartToCloseTimeout time.Duration `json:"startToCloseTimeout"`
	InitialInterval     time.Duration `json:"initialInterval"`
	BackoffCoefficient  float64       `json:"backoffCoefficient"`
	MaximumAttempts     int32         `json:"maximumAttempts"`
}

func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		StartToCloseTimeout: 30 * time.Second,
		InitialInterval:     time.Second,
		BackoffCoefficient:  2.0,
		MaximumAttempts:     3,
	}
}

func (c ActivityConfig) withDefaults() ActivityConfig {
	d := DefaultActivityConfig()
	if c.StartToCloseTimeout <= 0 {
		c.StartToCloseTimeout = d.StartToCloseTimeout
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.BackoffCoefficient < 1 {
		c.BackoffCoefficient = d.BackoffCoefficient
	}
	return c
}

// OrderInput is recorded in history with the start event, so the allow-list
// is fixed for the life of the instance.
type OrderInput struct {
	OrderID   string   `json:"orderId"`
	Approvers []string `json:"approvers"`
	// DecisionTimeout rejects the order when no decision arrives in time. Zero waits forever.
	DecisionTimeout time.Duration  `json:"decisionTimeout,omitempty"`
	Activity        ActivityConfig `json:"activity"`
}

func OrderApproval(ctx workflow.Context, in OrderInput) (modal.OrderStatus, error) {
	logger := workflow.GetLogger(ctx)

	m := order.New(in.OrderID, order.NewApproverSet(in.Approvers...))
	audit := make([]modal.AuditEvent, 0)

	appendAudit := func(kind, message string, data map[string]any) {
		audit = append(audit, modal.AuditEvent{
			At:      workflow.Now(ctx),
			Kind:    kind,
			Message: message,
			Data:    data,
		})
	}

	// Queries let the API read status without extra storage
	_ = workflow.SetQueryHandler(ctx, StatusQuery, func() (modal.OrderStatus, error) {
		return modal.StatusFromState(m.State()), nil
	})

	_ = workflow.SetQueryHandler(ctx, AuditQuery, func() ([]modal.AuditEvent, error) {
		return audit, nil
	})

	_ = workflow.SetQueryHandler(ctx, EventsQuery, func() ([]order.Event, error) {
		return m.Events(), nil
	})

	m.Apply(order.Started())
	logger.Info("Order started. Waiting for approval or rejection.", "orderID", in.OrderID)
	appendAudit("STARTED", "order started, waiting for decision", map[string]any{
		"approvers": m.Approvers().List(),
	})

	onSignal := func(kind order.SignalKind, actorID string) {
		switch m.Apply(order.Signaled(kind, actorID)) {
		case order.OutcomeApplied:
			logger.Info("Decision recorded.", "orderID", in.OrderID, "decision", m.State().Decision, "approverID", actorID)
			appendAudit("DECISION", "decision recorded", map[string]any{"signal": kind, "approverId": actorID})
		case order.OutcomeUnauthorized:
			logger.Warn("Unauthorized approver attempted to "+string(kind)+".", "orderID", in.OrderID, "approverID", actorID)
			appendAudit("UNAUTHORIZED", "signal from actor outside the allow-list dropped", map[string]any{"signal": kind, "approverId": actorID})
		default:
			logger.Info("Signal ignored, order already decided.", "orderID", in.OrderID, "signal", kind, "approverID", actorID)
			appendAudit("IGNORED", "signal after decision has no effect", map[string]any{"signal": kind, "approverId": actorID})
		}
	}

	approveCh := workflow.GetSignalChannel(ctx, ApproveSignal)
	rejectCh := workflow.GetSignalChannel(ctx, RejectSignal)

	// drainSignals applies whatever is already buffered without blocking.
	drainSignals := func() {
		for _, c := range []struct {
			ch   workflow.ReceiveChannel
			kind order.SignalKind
		}{{approveCh, order.SignalApprove}, {rejectCh, order.SignalReject}} {
			var actorID string
			for c.ch.ReceiveAsync(&actorID) {
				onSignal(c.kind, actorID)
			}
		}
	}

	// Signals are consumed for the whole lifetime so that late or duplicate
	// deliveries are logged as no-ops instead of piling up.
	workflow.Go(ctx, func(ctx workflow.Context) {
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(approveCh, func(c workflow.ReceiveChannel, more bool) {
			var actorID string
			c.Receive(ctx, &actorID)
			onSignal(order.SignalApprove, actorID)
		})
		selector.AddReceive(rejectCh, func(c workflow.ReceiveChannel, more bool) {
			var actorID string
			c.Receive(ctx, &actorID)
			onSignal(order.SignalReject, actorID)
		})
		for {
			selector.Select(ctx) // <-- yields; no busy-spin
		}
	})

	// Each activity must finish within StartToClose (30s by default).
	// Retries belong to Temporal; an error surfacing here has exhausted them.
	cfg := in.Activity.withDefaults()
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: cfg.StartToCloseTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    cfg.InitialInterval,
			BackoffCoefficient: cfg.BackoffCoefficient,
			MaximumAttempts:    cfg.MaximumAttempts,
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	for {
		step := m.Next()
		switch step.Kind {
		case order.StepAwaitDecision:
			err := awaitDecision(ctx, in.DecisionTimeout, m)
			// A signal and a cancel can land in the same task; the decision wins.
			drainSignals()
			if m.Decided() {
				continue
			}
			if err != nil {
				m.Apply(order.Cancelled())
				appendAudit("CANCELLED", "order cancelled before a decision", nil)
				logger.Info("Order cancelled while waiting for a decision.", "orderID", in.OrderID)
				return modal.OrderStatus{}, err
			}
			m.Apply(order.DeadlineExpired())
			appendAudit("DEADLINE_EXPIRED", "no decision before the deadline, order rejected", map[string]any{
				"timeout": in.DecisionTimeout.String(),
			})
			logger.Info("Decision deadline expired, order rejected.", "orderID", in.OrderID, "timeout", in.DecisionTimeout)

		case order.StepInvoke:
			name := activityName(step.Activity)
			if err := workflow.ExecuteActivity(actx, name, in.OrderID).Get(actx, nil); err != nil {
				if temporal.IsCanceledError(err) {
					m.Apply(order.Cancelled())
					appendAudit("CANCELLED", "order cancelled during fulfillment", map[string]any{"activity": name})
				} else {
					m.Apply(order.ActivityFailed(step.Activity, err.Error()))
					appendAudit("ERROR", name+" failed", map[string]any{"error": err.Error()})
				}
				logger.Error("Fulfillment activity failed.", "orderID", in.OrderID, "activity", name, "error", err)
				return modal.OrderStatus{}, err
			}
			m.Apply(order.ActivityCompleted(step.Activity))
			appendAudit("ACTIVITY_COMPLETED", name+" completed", nil)

		case order.StepFinish:
			st := m.State()
			if st.Stage == order.StageCompleted {
				logger.Info("Order approved and fulfilled.", "orderID", in.OrderID, "approverID", st.ApproverID)
				appendAudit("DONE", "order fulfilled", map[string]any{"result": st.Stage})
			} else {
				logger.Info("Order was rejected.", "orderID", in.OrderID, "approverID", st.ApproverID)
				appendAudit("DONE", "order rejected", map[string]any{"result": st.Stage})
			}
			return modal.StatusFromState(st), nil
		}
	}
}

// awaitDecision suspends until a decision is recorded. It returns nil with no
// decision only when the optional deadline fired.
func awaitDecision(ctx workflow.Context, timeout time.Duration, m *order.Machine) error {
	if timeout <= 0 {
		return workflow.Await(ctx, m.Decided)
	}
	_, err := workflow.AwaitWithTimeout(ctx, timeout, m.Decided)
	return err
}
