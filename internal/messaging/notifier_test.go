package messaging

import (
	"context"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestOutboxNotifier_NotifyAdmin(t *testing.T) {
	repo := memory.NewOutboxRepository()
	notifier := NewOutboxNotifier(repo, log.New().WithField("test", t.Name()))

	err := notifier.NotifyAdmin(context.Background(), "Low stock alert: product Maize flour (id p1) is below threshold, current stock 3")
	require.NoError(t, err)

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, string(kafka.EventTypeStockLow), pending[0].EventType)
	require.Equal(t, "stock", pending[0].AggregateType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "admin", payload["audience"])
	require.Contains(t, payload["message"], "Maize flour")
}

func TestOutboxNotifier_NotifyPurchasing(t *testing.T) {
	repo := memory.NewOutboxRepository()
	notifier := NewOutboxNotifier(repo, log.New().WithField("test", t.Name()))

	err := notifier.NotifyPurchasing(context.Background(), "Auto-generated reorder for Maize flour: 12 units from supplier sup-1")
	require.NoError(t, err)

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, string(kafka.EventTypeStockReorder), pending[0].EventType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "purchasing", payload["audience"])
}

func TestLogNotifier(t *testing.T) {
	notifier := NewLogNotifier(log.New().WithField("test", t.Name()))

	require.NoError(t, notifier.NotifyAdmin(context.Background(), "alert"))
	require.NoError(t, notifier.NotifyPurchasing(context.Background(), "reorder"))
}
