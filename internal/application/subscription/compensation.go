package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// Compensation step names, also used as metric attributes
const (
	stepDeleteIdentity = "delete_identity"
	stepDeleteCustomer = "delete_customer"
)

type undo struct {
	step    string
	timeout time.Duration
	fn      func(ctx context.Context) error
}

// compensator undoes completed signup steps in reverse order. Outcomes are
// logged and counted, never returned: the caller reports the original failure.
type compensator struct {
	steps   []undo
	metrics *telemetry.SubscriptionMetrics
}

func (c *compensator) push(step string, timeout time.Duration, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, undo{step: step, timeout: timeout, fn: fn})
}

// run executes every pushed step, newest first. Steps run detached from ctx
// cancellation so a timed-out request still cleans up.
func (c *compensator) run(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	log := logger.L(ctx)

	for i := len(c.steps) - 1; i >= 0; i-- {
		s := c.steps[i]
		stepCtx, cancel := context.WithTimeout(base, s.timeout)
		err := s.fn(stepCtx)
		cancel()

		c.metrics.RecordCompensation(ctx, s.step, err == nil)
		if err != nil {
			log.Error("Compensation failed, manual cleanup required",
				zap.String("step", s.step),
				zap.Error(err),
			)
			continue
		}
		log.Info("Compensation succeeded", zap.String("step", s.step))
	}
	c.steps = nil
}
