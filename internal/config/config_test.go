package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"order-approval-service/internal/workflows"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "localhost:7233", c.Temporal.HostPort)
	require.Equal(t, "default", c.Temporal.Namespace)
	require.Equal(t, workflows.TaskQueue, c.Temporal.TaskQueue)
	require.Equal(t, []string{"me", "myself", "i"}, c.Approvers)
	require.Zero(t, c.DecisionTimeout)
	require.Equal(t, workflows.DefaultActivityConfig(), c.Activity)
	require.Equal(t, ":8090", c.HTTPAddr)
	require.Empty(t, c.KafkaBrokers)
	require.Equal(t, "order-notifications", c.KafkaTopic)
	require.Equal(t, "info", c.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
temporal:
  task_queue: custom-queue
approvers: [alice, bob]
decision_timeout: 48h
activity:
  maximum_attempts: 5
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
`), 0o644))

	t.Setenv("ORDER_APPROVAL_TEMPORAL_HOST_PORT", "temporal:7233")
	t.Setenv("ORDER_APPROVAL_ACTIVITY_START_TO_CLOSE_TIMEOUT", "45s")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom-queue", c.Temporal.TaskQueue)
	require.Equal(t, "temporal:7233", c.Temporal.HostPort)
	require.Equal(t, []string{"alice", "bob"}, c.Approvers)
	require.Equal(t, 48*time.Hour, c.DecisionTimeout)
	require.Equal(t, int32(5), c.Activity.MaximumAttempts)
	require.Equal(t, 45*time.Second, c.Activity.StartToCloseTimeout)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.KafkaBrokers)
}

func TestApproversFromEnv(t *testing.T) {
	t.Setenv("ORDER_APPROVAL_APPROVERS", "carol, dave")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"carol", "dave"}, c.Approvers)
}

func TestValidate(t *testing.T) {
	t.Setenv("ORDER_APPROVAL_APPROVERS", " , ")
	_, err := Load("")
	require.ErrorContains(t, err, "at least one approver")

	c := &Config{
		Temporal:  Temporal{TaskQueue: "q"},
		Approvers: []string{"me"},
		Activity:  workflows.ActivityConfig{StartToCloseTimeout: 0, MaximumAttempts: -1},
	}
	err = c.Validate()
	require.ErrorContains(t, err, "start_to_close_timeout")
	require.ErrorContains(t, err, "maximum_attempts")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
