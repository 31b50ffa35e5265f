package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/finalizer"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeHandler struct {
	mu       sync.Mutex
	errs     []error
	outcomes []domain.PaymentOutcome
}

func (f *fakeHandler) HandleOutcome(_ context.Context, outcome domain.PaymentOutcome) (finalizer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return finalizer.Result{}, err
	}
	return finalizer.Result{Status: domain.PaymentApproved, OrderID: "order-1"}, nil
}

func (f *fakeHandler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

func newTestConsumer(t *testing.T, h Handler) *Consumer {
	return &Consumer{handler: h, log: zaptest.NewLogger(t), retryDelay: time.Millisecond}
}

func message(t *testing.T, outcome domain.PaymentOutcome) kafkaGo.Message {
	payload, err := json.Marshal(outcome)
	require.NoError(t, err)
	return kafkaGo.Message{Key: []byte(outcome.TransactionID), Value: payload}
}

func approvedOutcome(tx string) domain.PaymentOutcome {
	return domain.PaymentOutcome{
		TransactionID: tx,
		UserID:        "alice",
		Status:        "approved",
		Lines:         []domain.CartLine{{ProductID: "p1", USSize: "9", Color: "negro", Quantity: 1}},
	}
}

func TestHandle_DecodesOutcome(t *testing.T) {
	h := &fakeHandler{}
	c := newTestConsumer(t, h)

	retry := c.handle(context.Background(), message(t, approvedOutcome("tx-1")))
	assert.False(t, retry)
	require.Equal(t, 1, h.calls())
	assert.Equal(t, "tx-1", h.outcomes[0].TransactionID)
	assert.Equal(t, domain.Size("9"), h.outcomes[0].Lines[0].USSize)
}

func TestHandle_NumericSizeInPayload(t *testing.T) {
	h := &fakeHandler{}
	c := newTestConsumer(t, h)

	raw := []byte(`{"transaction_id":"tx-2","user_id":"bob","status":"approved",
		"items":[{"product_id":"p1","us_size":9.5,"color":"negro","quantity":1}]}`)
	assert.False(t, c.handle(context.Background(), kafkaGo.Message{Value: raw}))
	require.Equal(t, 1, h.calls())
	assert.Equal(t, domain.Size("9.5"), h.outcomes[0].Lines[0].USSize)
}

func TestHandle_SkipsPoisonMessages(t *testing.T) {
	h := &fakeHandler{errs: []error{
		domain.InvalidInputf("unknown payment status"),
		&domain.ReconciliationError{TransactionID: "tx-3", Reason: "order creation failed"},
	}}
	c := newTestConsumer(t, h)
	ctx := context.Background()

	assert.False(t, c.handle(ctx, kafkaGo.Message{Value: []byte("not json")}))
	assert.Equal(t, 0, h.calls())

	assert.False(t, c.handle(ctx, message(t, approvedOutcome("tx-3"))))
	assert.False(t, c.handle(ctx, message(t, approvedOutcome("tx-3"))))
	assert.Equal(t, 2, h.calls())
}

func TestHandleWithRetry_RetriesTransientErrors(t *testing.T) {
	h := &fakeHandler{errs: []error{errors.New("db down"), errors.New("db down")}}
	c := newTestConsumer(t, h)

	require.NoError(t, c.handleWithRetry(context.Background(), message(t, approvedOutcome("tx-4"))))
	assert.Equal(t, 3, h.calls())
}

func TestHandleWithRetry_StopsOnCancel(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = errors.New("db down")
	}
	h := &fakeHandler{errs: errs}
	c := newTestConsumer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.handleWithRetry(ctx, message(t, approvedOutcome("tx-5")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsumer_ReadsFromKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})
	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	topic := "payment-outcomes"
	conn, err := kafkaGo.Dial("tcp", brokers[0])
	require.NoError(t, err)
	controller, err := conn.Controller()
	require.NoError(t, err)
	conn.Close()
	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
	controllerConn.Close()

	w := &kafkaGo.Writer{Addr: kafkaGo.TCP(brokers...), Topic: topic, AllowAutoTopicCreation: true}
	require.NoError(t, w.WriteMessages(ctx, message(t, approvedOutcome("tx-kafka"))))
	require.NoError(t, w.Close())

	h := &fakeHandler{}
	c := NewConsumer(h, Config{Brokers: brokers, Topic: topic, GroupID: "reservation-service-test"}, zap.NewNop())
	defer c.Close()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return h.calls() == 1 }, 30*time.Second, 200*time.Millisecond)
}
