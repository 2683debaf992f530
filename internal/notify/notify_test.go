package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToLog(t *testing.T) {
	p := New(nil, "order-notifications", zerolog.Nop())
	_, ok := p.(*Log)
	require.True(t, ok)

	p = New([]string{"localhost:9092"}, "order-notifications", zerolog.Nop())
	k, ok := p.(*Kafka)
	require.True(t, ok)
	require.Equal(t, "order-notifications", k.writer.Topic)
	require.NoError(t, p.Close())
}

func TestToMessage(t *testing.T) {
	n := Notification{
		ID:      "n-1",
		OrderID: "O1",
		Message: "Order O1 has been approved and shipped.",
		SentAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	msg, err := toMessage(n)
	require.NoError(t, err)
	require.Equal(t, []byte("O1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	require.Equal(t, "n-1", string(msg.Headers[0].Value))

	var got Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, n, got)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLog(zerolog.New(&buf))

	require.NoError(t, p.Publish(context.Background(), Notification{ID: "n-2", OrderID: "O2", Message: "done"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "O2", line["order_id"])
	require.Equal(t, "n-2", line["notification_id"])
	require.Equal(t, "done", line["message"])
}
