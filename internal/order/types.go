package order

import "fmt"

type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

type Stage string

const (
	StageCreated          Stage = "CREATED"
	StageAwaitingDecision Stage = "AWAITING_DECISION"
	StageFulfilling       Stage = "FULFILLING"
	StageCompleted        Stage = "COMPLETED"
	StageTerminated       Stage = "TERMINATED"
	StageFailed           Stage = "FAILED"
	StageCancelled        Stage = "CANCELLED"
)

// Terminal reports whether no further event can change an instance in this stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageTerminated, StageFailed, StageCancelled:
		return true
	}
	return false
}

// SignalKind distinguishes the two decision signals. Each carries the actor id as payload.
type SignalKind string

const (
	SignalApprove SignalKind = "approve"
	SignalReject  SignalKind = "reject"
)

func ParseSignalKind(s string) (SignalKind, error) {
	switch SignalKind(s) {
	case SignalApprove, SignalReject:
		return SignalKind(s), nil
	}
	return "", fmt.Errorf("unknown signal kind %q", s)
}

type ActivityKind string

const (
	ActivityPayment      ActivityKind = "PAYMENT"
	ActivityShipping     ActivityKind = "SHIPPING"
	ActivityNotification ActivityKind = "NOTIFICATION"
)

// fulfillment is the fixed order in which an approved order runs its activities.
var fulfillment = []ActivityKind{ActivityPayment, ActivityShipping, ActivityNotification}

// Fulfillment returns a copy of the activity sequence run after approval.
func Fulfillment() []ActivityKind {
	out := make([]ActivityKind, len(fulfillment))
	copy(out, fulfillment)
	return out
}

// DeadlineActor is recorded as approver when the optional decision deadline rejects an order.
const DeadlineActor = "system:deadline"

type EventType string

const (
	EventStarted           EventType = "STARTED"
	EventSignal            EventType = "SIGNAL"
	EventDeadlineExpired   EventType = "DEADLINE_EXPIRED"
	EventActivityCompleted EventType = "ACTIVITY_COMPLETED"
	EventActivityFailed    EventType = "ACTIVITY_FAILED"
	EventCancelled         EventType = "CANCELLED"
)

// Event is one entry of an instance's ordered log.
type Event struct {
	Type     EventType    `json:"type"`
	Signal   SignalKind   `json:"signal,omitempty"`
	Actor    string       `json:"actor,omitempty"`
	Activity ActivityKind `json:"activity,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

func Started() Event { return Event{Type: EventStarted} }

func Signaled(kind SignalKind, actorID string) Event {
	return Event{Type: EventSignal, Signal: kind, Actor: actorID}
}

func DeadlineExpired() Event { return Event{Type: EventDeadlineExpired} }

func ActivityCompleted(kind ActivityKind) Event {
	return Event{Type: EventActivityCompleted, Activity: kind}
}

func ActivityFailed(kind ActivityKind, reason string) Event {
	return Event{Type: EventActivityFailed, Activity: kind, Reason: reason}
}

func Cancelled() Event { return Event{Type: EventCancelled} }

// Outcome tells the caller of Apply what an event did.
type Outcome string

const (
	OutcomeApplied      Outcome = "APPLIED"
	OutcomeUnauthorized Outcome = "UNAUTHORIZED"
	OutcomeIgnored      Outcome = "IGNORED"
)
