package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pharmacy/m/domain"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:          42,
		UserID:      7,
		Status:      domain.StatusProcessing,
		TotalAmount: decimal.RequireFromString("19.98"),
		UpdatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}
	ev := NewOrderEvent(OrderStatusChanged, sampleOrder(), domain.StatusPending)

	err := Fanout{ok, failing, Nop{}}.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
	assert.Equal(t, domain.StatusPending, ok.events[0].PreviousStatus)
	assert.NotEmpty(t, ok.events[0].ID)
}

func TestKafkaMessageKeyedByOrder(t *testing.T) {
	ev := NewOrderEvent(OrderCreated, sampleOrder(), "")

	msg, err := message(ev)
	require.NoError(t, err)
	assert.Equal(t, "order-42", string(msg.Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, OrderCreated, decoded.Type)
	assert.True(t, decoded.TotalAmount.Equal(decimal.RequireFromString("19.98")))
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "orders", zap.NewNop())
	require.Error(t, err)
}

func TestKafkaWriterDoesNotBlockRequests(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "orders", zap.NewNop())
	require.NoError(t, err)

	assert.True(t, p.writer.Async)
	assert.NotNil(t, p.writer.Completion)
	assert.LessOrEqual(t, p.writer.BatchTimeout, 10*time.Millisecond)
	assert.Positive(t, p.writer.BatchTimeout)
}

func TestKafkaCompletionLogsFailuresOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "orders", zap.New(core))
	require.NoError(t, err)

	msg, err := message(NewOrderEvent(OrderCreated, sampleOrder(), ""))
	require.NoError(t, err)

	p.completed([]kafka.Message{msg}, errors.New("broker unreachable"))
	failed := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, failed, 1)
	assert.Equal(t, "order-42", failed[0].ContextMap()["key"])

	p.completed([]kafka.Message{msg}, nil)
	assert.Len(t, logs.FilterLevelExact(zapcore.ErrorLevel).All(), 1)
	assert.Len(t, logs.FilterLevelExact(zapcore.DebugLevel).All(), 1)
}

func TestHubBroadcastsToConnectedClients(t *testing.T) {
	hub := NewHub(zap.NewNop(), []string{"*"})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := NewOrderEvent(OrderCreated, sampleOrder(), "")
	require.NoError(t, hub.Publish(context.Background(), ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, int64(42), got.OrderID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
