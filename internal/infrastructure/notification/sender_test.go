package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/meterly/backend/internal/domain/notification"
	"github.com/meterly/backend/internal/infrastructure/logger"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
	wait chan struct{}
}

func (r *recordingSender) Send(_ context.Context, msg notification.Message) error {
	if r.wait != nil {
		<-r.wait
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSender) sent() []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Message(nil), r.msgs...)
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	ctx := logger.WithRequestID(context.Background(), "req-1")
	require.NoError(t, s.Send(ctx, notification.Welcome("ada@example.com", "Ada")))

	entries := logs.FilterMessage("Email dispatched").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, notification.TemplateWelcome, fields["template"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestAsyncSender_DeliversAndDrains(t *testing.T) {
	next := &recordingSender{}
	s := NewAsyncSender(next, zap.NewNop(), 10, 2)
	s.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(context.Background(), notification.PaymentFailed("a@example.com", "A")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Len(t, next.sent(), 5)
	assert.ErrorIs(t, s.Send(context.Background(), notification.Cancelled("a@example.com", "A")), ErrSenderStopped)
	assert.NoError(t, s.Stop(ctx), "stop is repeatable")
}

func TestAsyncSender_QueueFull(t *testing.T) {
	next := &recordingSender{wait: make(chan struct{})}
	s := NewAsyncSender(next, zap.NewNop(), 1, 1)
	s.Start()

	msg := notification.Welcome("a@example.com", "A")
	// the worker takes the first message and blocks; the second fills the queue
	require.NoError(t, s.Send(context.Background(), msg))
	require.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Send(context.Background(), msg))

	assert.ErrorIs(t, s.Send(context.Background(), msg), ErrQueueFull)

	close(next.wait)
	require.NoError(t, s.Stop(context.Background()))
	assert.Len(t, next.sent(), 2)
}

func TestAsyncSender_DeliveryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	next := &recordingSender{err: errors.New("smtp down")}
	s := NewAsyncSender(next, zap.New(core), 4, 1)
	s.Start()

	require.NoError(t, s.Send(context.Background(), notification.Welcome("a@example.com", "A")))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("Notification delivery failed").Len())
}
