package order

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var approvers = NewApproverSet("me", "myself", "i")

func started(t *testing.T, orderID string) *Machine {
	t.Helper()
	m := New(orderID, approvers)
	require.Equal(t, OutcomeApplied, m.Apply(Started()))
	require.Equal(t, StageAwaitingDecision, m.State().Stage)
	return m
}

func runFulfillment(m *Machine) {
	for {
		step := m.Next()
		if step.Kind != StepInvoke {
			return
		}
		m.Apply(ActivityCompleted(step.Activity))
	}
}

func TestFreshInstanceIsPending(t *testing.T) {
	m := started(t, "O1")
	s := m.State()
	require.Equal(t, DecisionPending, s.Decision)
	require.Empty(t, s.ApproverID)
	require.Equal(t, StepAwaitDecision, m.Next().Kind)
}

func TestApprovePath(t *testing.T) {
	m := started(t, "O1")

	require.Equal(t, OutcomeApplied, m.Apply(Signaled(SignalApprove, "me")))
	s := m.State()
	require.Equal(t, DecisionApproved, s.Decision)
	require.Equal(t, "me", s.ApproverID)
	require.Equal(t, StageFulfilling, s.Stage)

	var invoked []ActivityKind
	for {
		step := m.Next()
		if step.Kind == StepFinish {
			break
		}
		require.Equal(t, StepInvoke, step.Kind)
		invoked = append(invoked, step.Activity)
		require.Equal(t, OutcomeApplied, m.Apply(ActivityCompleted(step.Activity)))
	}

	require.Equal(t, []ActivityKind{ActivityPayment, ActivityShipping, ActivityNotification}, invoked)
	require.Equal(t, StageCompleted, m.State().Stage)
}

func TestRejectPathRunsNoActivities(t *testing.T) {
	m := started(t, "O3")

	require.Equal(t, OutcomeApplied, m.Apply(Signaled(SignalReject, "i")))
	s := m.State()
	require.Equal(t, DecisionRejected, s.Decision)
	require.Equal(t, StageTerminated, s.Stage)
	require.Equal(t, StepFinish, m.Next().Kind)
	require.Empty(t, s.Completed)

	// Cancellation after termination is a no-op.
	require.Equal(t, OutcomeIgnored, m.Apply(Cancelled()))
	require.Equal(t, StageTerminated, m.State().Stage)
}

func TestUnauthorizedActorLeavesDecisionPending(t *testing.T) {
	for _, kind := range []SignalKind{SignalApprove, SignalReject} {
		for _, actor := range []string{"intruder", "", "ME", " me"} {
			m := started(t, "O2")
			require.Equal(t, OutcomeUnauthorized, m.Apply(Signaled(kind, actor)), "kind=%s actor=%q", kind, actor)
			s := m.State()
			require.Equal(t, DecisionPending, s.Decision)
			require.Empty(t, s.ApproverID)
			require.Equal(t, StageAwaitingDecision, s.Stage)
		}
	}
}

func TestScenarioBIntruderThenApprover(t *testing.T) {
	m := started(t, "O2")
	require.Equal(t, OutcomeUnauthorized, m.Apply(Signaled(SignalApprove, "intruder")))
	require.Equal(t, OutcomeApplied, m.Apply(Signaled(SignalApprove, "myself")))
	runFulfillment(m)

	s := m.State()
	require.Equal(t, "myself", s.ApproverID)
	require.Equal(t, StageCompleted, s.Stage)
}

func TestDecisionIsImmutable(t *testing.T) {
	followups := []Event{
		Signaled(SignalApprove, "me"),
		Signaled(SignalReject, "me"),
		Signaled(SignalReject, "myself"),
		Signaled(SignalApprove, "intruder"),
		DeadlineExpired(),
	}

	m := started(t, "O1")
	m.Apply(Signaled(SignalApprove, "i"))
	for _, e := range followups {
		require.Equal(t, OutcomeIgnored, m.Apply(e))
		require.Equal(t, DecisionApproved, m.State().Decision)
		require.Equal(t, "i", m.State().ApproverID)
	}

	m = started(t, "O3")
	m.Apply(Signaled(SignalReject, "me"))
	for _, e := range followups {
		require.Equal(t, OutcomeIgnored, m.Apply(e))
		require.Equal(t, DecisionRejected, m.State().Decision)
		require.Equal(t, "me", m.State().ApproverID)
	}
}

func TestDuplicateSignalSameEndState(t *testing.T) {
	once := started(t, "O1")
	once.Apply(Signaled(SignalApprove, "me"))
	runFulfillment(once)

	twice := started(t, "O1")
	twice.Apply(Signaled(SignalApprove, "me"))
	twice.Apply(Signaled(SignalApprove, "me"))
	runFulfillment(twice)
	twice.Apply(Signaled(SignalApprove, "me"))

	require.Equal(t, once.State(), twice.State())
}

func TestActivityCompletionsOutOfOrderAreIgnored(t *testing.T) {
	m := started(t, "O1")
	m.Apply(Signaled(SignalApprove, "me"))

	require.Equal(t, OutcomeIgnored, m.Apply(ActivityCompleted(ActivityShipping)))
	require.Equal(t, OutcomeApplied, m.Apply(ActivityCompleted(ActivityPayment)))
	require.Equal(t, OutcomeIgnored, m.Apply(ActivityCompleted(ActivityPayment)))
	require.Equal(t, []ActivityKind{ActivityPayment}, m.State().Completed)
	require.Equal(t, Step{Kind: StepInvoke, Activity: ActivityShipping}, m.Next())
}

func TestActivityFailureIsFatal(t *testing.T) {
	m := started(t, "O1")
	m.Apply(Signaled(SignalApprove, "me"))
	m.Apply(ActivityCompleted(ActivityPayment))

	require.Equal(t, OutcomeApplied, m.Apply(ActivityFailed(ActivityShipping, "carrier unavailable")))
	s := m.State()
	require.Equal(t, StageFailed, s.Stage)
	require.Equal(t, "SHIPPING: carrier unavailable", s.Failure)
	require.Equal(t, StepFinish, m.Next().Kind)
	require.Equal(t, OutcomeIgnored, m.Apply(ActivityCompleted(ActivityShipping)))
}

func TestDeadlineRejects(t *testing.T) {
	m := started(t, "O5")
	require.Equal(t, OutcomeApplied, m.Apply(DeadlineExpired()))
	s := m.State()
	require.Equal(t, DecisionRejected, s.Decision)
	require.Equal(t, DeadlineActor, s.ApproverID)
	require.Equal(t, StageTerminated, s.Stage)
}

func TestCancelWhileAwaiting(t *testing.T) {
	m := started(t, "O6")
	require.Equal(t, OutcomeApplied, m.Apply(Cancelled()))
	require.Equal(t, StageCancelled, m.State().Stage)
	require.Equal(t, OutcomeIgnored, m.Apply(Signaled(SignalApprove, "me")))
	require.Equal(t, DecisionPending, m.State().Decision)
}

func TestReplayReconstructsState(t *testing.T) {
	m := started(t, "O2")
	m.Apply(Signaled(SignalApprove, "intruder"))
	m.Apply(Signaled(SignalApprove, "me"))
	m.Apply(ActivityCompleted(ActivityPayment))
	m.Apply(Signaled(SignalReject, "i"))

	replayed := Replay("O2", approvers, m.Events())
	require.Equal(t, m.State(), replayed.State())
	require.Equal(t, m.Events(), replayed.Events())
	require.Equal(t, Step{Kind: StepInvoke, Activity: ActivityShipping}, replayed.Next())
}

func TestApplyDoesNotAliasCompleted(t *testing.T) {
	s := NewState("O1")
	s, _ = Apply(s, approvers, Started())
	s, _ = Apply(s, approvers, Signaled(SignalApprove, "me"))
	s, _ = Apply(s, approvers, ActivityCompleted(ActivityPayment))

	a, _ := Apply(s, approvers, ActivityCompleted(ActivityShipping))
	b, _ := Apply(s, approvers, ActivityFailed(ActivityShipping, "x"))

	require.Equal(t, []ActivityKind{ActivityPayment}, s.Completed)
	require.Equal(t, []ActivityKind{ActivityPayment, ActivityShipping}, a.Completed)
	require.Equal(t, []ActivityKind{ActivityPayment}, b.Completed)
}
