package modal

import (
	"time"

	"order-approval-service/internal/order"
)

// OrderStatus is what the status query and the workflow result return.
type OrderStatus struct {
	OrderID    string               `json:"orderId"`
	Decision   order.Decision       `json:"decision"`
	ApproverID string               `json:"approverId,omitempty"`
	Stage      order.Stage          `json:"stage"`
	Completed  []order.ActivityKind `json:"completed,omitempty"`
	Failure    string               `json:"failure,omitempty"`
}

func StatusFromState(s order.State) OrderStatus {
	return OrderStatus{
		OrderID:    s.OrderID,
		Decision:   s.Decision,
		ApproverID: s.ApproverID,
		Stage:      s.Stage,
		Completed:  s.Completed,
		Failure:    s.Failure,
	}
}

type AuditEvent struct {
	At      time.Time      `json:"at"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
