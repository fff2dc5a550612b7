package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

func TestNewEventBusWithoutURLUsesInProcessChannel(t *testing.T) {
	bus, err := NewEventBus("")
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	if bus.Events() == nil {
		t.Fatal("expected a usable in-process channel when no NATS URL is configured")
	}
}

func TestPublishDeliversOverInProcessChannel(t *testing.T) {
	bus, err := NewEventBus("")
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	bus.Publish(LifecycleEvent{TaskID: "t1", Status: task.StatusCompleted})

	select {
	case ev := <-bus.Events():
		if ev.TaskID != "t1" {
			t.Fatalf("expected TaskID t1, got %q", ev.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Publish to deliver onto the in-process channel")
	}
}

func TestPublishContextDeliversOverInProcessChannel(t *testing.T) {
	bus, err := NewEventBus("")
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	bus.PublishContext(context.Background(), LifecycleEvent{TaskID: "t2", Status: task.StatusFailed})

	select {
	case ev := <-bus.Events():
		if ev.TaskID != "t2" {
			t.Fatalf("expected TaskID t2, got %q", ev.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected PublishContext to deliver onto the in-process channel")
	}
}

func TestPublishDropsEventWhenInProcessChannelIsFull(t *testing.T) {
	bus := &EventBus{ch: make(chan LifecycleEvent, 1)}
	defer bus.Close()

	bus.Publish(LifecycleEvent{TaskID: "first"})
	bus.Publish(LifecycleEvent{TaskID: "second"}) // must not block, gets dropped

	ev := <-bus.Events()
	if ev.TaskID != "first" {
		t.Fatalf("expected the first event to have been retained, got %q", ev.TaskID)
	}
}

func TestSubscribeRequiresNATSBackedBus(t *testing.T) {
	bus, err := NewEventBus("")
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	defer bus.Close()

	if _, err := bus.Subscribe(func(context.Context, LifecycleEvent) {}); err == nil {
		t.Fatal("expected Subscribe to fail on an in-process (non-NATS) event bus")
	}
}
