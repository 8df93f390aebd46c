package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/notification"
)

// ErrQueueFull is returned when the send queue has no room
var ErrQueueFull = errors.New("notification queue is full")

// ErrSenderStopped is returned after Stop
var ErrSenderStopped = errors.New("notification sender stopped")

const defaultSendTimeout = 10 * time.Second

// AsyncSender queues messages and delivers them from a worker pool. Send never
// blocks the caller; delivery errors are logged.
type AsyncSender struct {
	next        notification.Sender
	logger      *zap.Logger
	queue       chan notification.Message
	workers     int
	sendTimeout time.Duration

	// mu guards stopped so Send never races the close of queue
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewAsyncSender wraps next. Call Start before Send.
func NewAsyncSender(next notification.Sender, logger *zap.Logger, queueSize, workers int) *AsyncSender {
	if queueSize <= 0 {
		queueSize = 128
	}
	if workers <= 0 {
		workers = 2
	}
	return &AsyncSender{
		next:        next,
		logger:      logger.Named("notification"),
		queue:       make(chan notification.Message, queueSize),
		workers:     workers,
		sendTimeout: defaultSendTimeout,
	}
}

// Start launches the workers
func (s *AsyncSender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	s.logger.Info("Notification sender started", zap.Int("workers", s.workers))
}

// Send enqueues msg. The request context is not carried into delivery since
// delivery outlives the request.
func (s *AsyncSender) Send(ctx context.Context, msg notification.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSenderStopped
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		s.logger.Warn("Notification dropped, queue full", zap.String("template", msg.Template))
		return ErrQueueFull
	}
}

// Stop stops accepting messages and waits for queued ones until ctx is done
func (s *AsyncSender) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notification sender stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSender) work() {
	defer s.wg.Done()
	for msg := range s.queue {
		s.deliver(msg)
	}
}

func (s *AsyncSender) deliver(msg notification.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notification sender panicked",
				zap.String("template", msg.Template),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.next.Send(ctx, msg); err != nil {
		s.logger.Warn("Notification delivery failed",
			zap.String("template", msg.Template),
			zap.Error(err),
		)
	}
}
