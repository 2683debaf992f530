// Package order holds the order-approval state machine as a pure transition
// function. The Temporal workflow drives it, and the same function rebuilds an
// instance's state from its recorded event log.
package order

import "fmt"

// State is everything an instance knows about its order.
type State struct {
	OrderID    string         `json:"orderId"`
	Decision   Decision       `json:"decision"`
	ApproverID string         `json:"approverId,omitempty"`
	Stage      Stage          `json:"stage"`
	Completed  []ActivityKind `json:"completed,omitempty"`
	Failure    string         `json:"failure,omitempty"`
}

func NewState(orderID string) State {
	return State{
		OrderID:  orderID,
		Decision: DecisionPending,
		Stage:    StageCreated,
	}
}

// Apply returns the state after e. It reads nothing but its arguments and
// never mutates s, so folding the same log always yields the same state.
func Apply(s State, approvers ApproverSet, e Event) (State, Outcome) {
	switch e.Type {
	case EventStarted:
		if s.Stage != StageCreated {
			return s, OutcomeIgnored
		}
		s.Stage = StageAwaitingDecision
		return s, OutcomeApplied

	case EventSignal:
		if !awaiting(s) {
			return s, OutcomeIgnored
		}
		if !IsAuthorized(e.Actor, approvers) {
			return s, OutcomeUnauthorized
		}
		switch e.Signal {
		case SignalApprove:
			s.Decision = DecisionApproved
			s.Stage = StageFulfilling
		case SignalReject:
			s.Decision = DecisionRejected
			s.Stage = StageTerminated
		default:
			return s, OutcomeIgnored
		}
		s.ApproverID = e.Actor
		return s, OutcomeApplied

	case EventDeadlineExpired:
		if !awaiting(s) {
			return s, OutcomeIgnored
		}
		s.Decision = DecisionRejected
		s.ApproverID = DeadlineActor
		s.Stage = StageTerminated
		return s, OutcomeApplied

	case EventActivityCompleted:
		if s.Stage != StageFulfilling {
			return s, OutcomeIgnored
		}
		// Only the activity at the head of the sequence may complete.
		next, ok := nextActivity(s)
		if !ok || next != e.Activity {
			return s, OutcomeIgnored
		}
		completed := make([]ActivityKind, len(s.Completed), len(s.Completed)+1)
		copy(completed, s.Completed)
		s.Completed = append(completed, e.Activity)
		if len(s.Completed) == len(fulfillment) {
			s.Stage = StageCompleted
		}
		return s, OutcomeApplied

	case EventActivityFailed:
		if s.Stage != StageFulfilling {
			return s, OutcomeIgnored
		}
		s.Stage = StageFailed
		s.Failure = fmt.Sprintf("%s: %s", e.Activity, e.Reason)
		return s, OutcomeApplied

	case EventCancelled:
		if s.Stage.Terminal() {
			return s, OutcomeIgnored
		}
		s.Stage = StageCancelled
		return s, OutcomeApplied
	}
	return s, OutcomeIgnored
}

func awaiting(s State) bool {
	return s.Decision == DecisionPending &&
		(s.Stage == StageCreated || s.Stage == StageAwaitingDecision)
}

func nextActivity(s State) (ActivityKind, bool) {
	if len(s.Completed) >= len(fulfillment) {
		return "", false
	}
	return fulfillment[len(s.Completed)], true
}

type StepKind int

const (
	StepAwaitDecision StepKind = iota
	StepInvoke
	StepFinish
)

// Step is what the host must do next for an instance.
type Step struct {
	Kind     StepKind
	Activity ActivityKind
}

func NextStep(s State) Step {
	switch s.Stage {
	case StageCreated, StageAwaitingDecision:
		return Step{Kind: StepAwaitDecision}
	case StageFulfilling:
		if a, ok := nextActivity(s); ok {
			return Step{Kind: StepInvoke, Activity: a}
		}
	}
	return Step{Kind: StepFinish}
}

// Machine pairs a State with its allow-list and the log of every event fed to it.
// It is not safe for concurrent use; its host serializes events per instance.
type Machine struct {
	approvers ApproverSet
	state     State
	events    []Event
}

func New(orderID string, approvers ApproverSet) *Machine {
	return &Machine{
		approvers: approvers,
		state:     NewState(orderID),
	}
}

// Replay rebuilds a machine by folding a recorded log through Apply.
func Replay(orderID string, approvers ApproverSet, events []Event) *Machine {
	m := New(orderID, approvers)
	for _, e := range events {
		m.Apply(e)
	}
	return m
}

// Apply records e and advances the state. Unauthorized and ignored events are
// recorded too; they are no-ops on replay.
func (m *Machine) Apply(e Event) Outcome {
	next, outcome := Apply(m.state, m.approvers, e)
	m.state = next
	m.events = append(m.events, e)
	return outcome
}

func (m *Machine) State() State {
	s := m.state
	if s.Completed != nil {
		s.Completed = append([]ActivityKind(nil), s.Completed...)
	}
	return s
}

func (m *Machine) Decided() bool { return m.state.Decision != DecisionPending }

func (m *Machine) Next() Step { return NextStep(m.state) }

func (m *Machine) Events() []Event {
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Machine) Approvers() ApproverSet { return m.approvers }
