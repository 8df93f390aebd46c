package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// SubscriptionMetrics records lifecycle and metering outcomes.
// A nil *SubscriptionMetrics is valid and records nothing.
type SubscriptionMetrics struct {
	signups         *Counter
	compensations   *Counter
	gateDecisions   *Counter
	webhookEvents   *Counter
	remoteCallTimes *Histogram
}

// NewSubscriptionMetrics registers the instruments on meter
func NewSubscriptionMetrics(meter metric.Meter) (*SubscriptionMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &SubscriptionMetrics{}
	var err error
	if m.signups, err = NewCounter(meter, "meterly_signups_total", "Signup attempts by outcome", "{signups}"); err != nil {
		return nil, err
	}
	if m.compensations, err = NewCounter(meter, "meterly_compensations_total", "Compensation steps by step and outcome", "{steps}"); err != nil {
		return nil, err
	}
	if m.gateDecisions, err = NewCounter(meter, "meterly_gate_decisions_total", "Metered action decisions", "{decisions}"); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = NewCounter(meter, "meterly_webhook_events_total", "Processor notifications by type and outcome", "{events}"); err != nil {
		return nil, err
	}
	if m.remoteCallTimes, err = NewHistogram(meter, HistogramOpts{
		Name:        "meterly_remote_call_duration_seconds",
		Description: "Identity store and processor call latency",
		Unit:        "s",
		Boundaries:  RemoteCallBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSignup counts a finished signup attempt
func (m *SubscriptionMetrics) RecordSignup(ctx context.Context, plan, outcome string) {
	if m == nil {
		return
	}
	m.signups.Inc(ctx, AttrPlan.String(plan), AttrOutcome.String(outcome))
}

// RecordCompensation counts one compensation step
func (m *SubscriptionMetrics) RecordCompensation(ctx context.Context, step string, ok bool) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if !ok {
		outcome = "failed"
	}
	m.compensations.Inc(ctx, AttrStep.String(step), AttrOutcome.String(outcome))
}

// RecordGateDecision counts an allow or deny
func (m *SubscriptionMetrics) RecordGateDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.Inc(ctx, AttrDecision.String(decision))
}

// RecordWebhookEvent counts a processed notification
func (m *SubscriptionMetrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Inc(ctx, AttrEventType.String(eventType), AttrOutcome.String(outcome))
}

// RecordRemoteCall records the latency of one remote call
func (m *SubscriptionMetrics) RecordRemoteCall(ctx context.Context, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.remoteCallTimes.RecordDuration(ctx, d, AttrOperation.String(operation))
}
