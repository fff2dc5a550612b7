package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

var lifecyclePropagator = propagation.TraceContext{}

// LifecycleEvent is published whenever a task crosses a terminal or
// near-terminal transition, letting external observers (an admin console,
// a billing pipeline) watch the system without polling the task store.
// This is a SPEC_FULL.md supplement: the distilled spec names only the
// in-process callbacks; broadcasting them externally is optional ambient
// observability, not a new required behavior.
type LifecycleEvent struct {
	TaskID string      `json:"taskId"`
	Status task.Status `json:"status"`
	Cause  string      `json:"cause,omitempty"`
}

const lifecycleSubject = "econos.lifecycle.events"

// EventBus publishes LifecycleEvents, backed by NATS when configured and
// an in-process channel otherwise, so a single-node deployment needs no
// external broker.
type EventBus struct {
	nc   *nats.Conn
	ch   chan LifecycleEvent
}

// NewEventBus connects to natsURL if non-empty; otherwise returns a bus
// backed by an in-process buffered channel.
func NewEventBus(natsURL string) (*EventBus, error) {
	if natsURL == "" {
		return &EventBus{ch: make(chan LifecycleEvent, 256)}, nil
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &EventBus{nc: nc}, nil
}

// Publish emits ev under a background trace context; use PublishContext to
// propagate an existing one (e.g. from the request that caused the event).
func (b *EventBus) Publish(ev LifecycleEvent) {
	b.PublishContext(context.Background(), ev)
}

// PublishContext injects ctx's trace parent into the NATS message header
// before sending, so a subscriber started via Subscribe continues the same
// trace instead of starting an orphaned span. Fire-and-forget; a full
// in-process channel drops the event rather than blocking the caller.
func (b *EventBus) PublishContext(ctx context.Context, ev LifecycleEvent) {
	if b.nc != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		hdr := nats.Header{}
		lifecyclePropagator.Inject(ctx, propagation.HeaderCarrier(hdr))
		_ = b.nc.PublishMsg(&nats.Msg{Subject: lifecycleSubject, Data: data, Header: hdr})
		return
	}
	select {
	case b.ch <- ev:
	default:
	}
}

// Subscribe registers handler for every LifecycleEvent published over NATS,
// extracting the publisher's trace context and starting a child consumer
// span around each delivery. Only meaningful when this bus is NATS-backed;
// callers of an in-process bus should read Events() instead.
func (b *EventBus) Subscribe(handler func(context.Context, LifecycleEvent)) (*nats.Subscription, error) {
	if b.nc == nil {
		return nil, fmt.Errorf("subscribe requires a NATS-backed event bus")
	}
	tracer := otel.Tracer("econos-master-agent")
	return b.nc.Subscribe(lifecycleSubject, func(msg *nats.Msg) {
		var ev LifecycleEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		ctx := lifecyclePropagator.Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		ctx, span := tracer.Start(ctx, "lifecycle.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, ev)
	})
}

// Events returns the in-process channel for subscribers when no NATS
// connection backs this bus; returns nil if NATS is configured (use
// Subscribe instead).
func (b *EventBus) Events() <-chan LifecycleEvent {
	return b.ch
}

func (b *EventBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
