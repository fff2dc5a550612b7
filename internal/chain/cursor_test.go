package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
)

var (
	topicCreated   = common.HexToHash("0x1")
	topicCompleted = common.HexToHash("0x2")
)

func newTestCursor(t *testing.T) *Cursor {
	t.Helper()
	c, err := OpenCursor(t.TempDir(), otel.GetMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCursorLastDefaultsToZero(t *testing.T) {
	c := newTestCursor(t)
	height, err := c.Last(context.Background(), topicCreated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 0 {
		t.Fatalf("expected a fresh cursor to start at 0, got %d", height)
	}
}

func TestCursorAdvancePersists(t *testing.T) {
	c := newTestCursor(t)
	if err := c.Advance(context.Background(), topicCreated, 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	height, err := c.Last(context.Background(), topicCreated)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if height != 100 {
		t.Fatalf("expected 100, got %d", height)
	}
}

func TestCursorAdvanceNeverMovesBackward(t *testing.T) {
	c := newTestCursor(t)
	if err := c.Advance(context.Background(), topicCreated, 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := c.Advance(context.Background(), topicCreated, 50); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	height, err := c.Last(context.Background(), topicCreated)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if height != 100 {
		t.Fatalf("expected Advance with a lower height to be a no-op, got %d", height)
	}
}

func TestSyncLagComputesGap(t *testing.T) {
	c := newTestCursor(t)
	if err := c.Advance(context.Background(), topicCreated, 90); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := c.SyncLag(context.Background(), topicCreated, 100); err != nil {
		t.Fatalf("SyncLag: %v", err)
	}
}

// TestCursorTopicsAdvanceIndependently guards against the three event
// subscriptions sharing one persisted height: advancing one topic's cursor
// must never cause another topic to silently skip the blocks it hasn't
// scanned yet.
func TestCursorTopicsAdvanceIndependently(t *testing.T) {
	c := newTestCursor(t)
	if err := c.Advance(context.Background(), topicCreated, 500); err != nil {
		t.Fatalf("Advance(topicCreated): %v", err)
	}

	completedHeight, err := c.Last(context.Background(), topicCompleted)
	if err != nil {
		t.Fatalf("Last(topicCompleted): %v", err)
	}
	if completedHeight != 0 {
		t.Fatalf("expected topicCompleted's cursor to be untouched by topicCreated's advance, got %d", completedHeight)
	}

	if err := c.Advance(context.Background(), topicCompleted, 10); err != nil {
		t.Fatalf("Advance(topicCompleted): %v", err)
	}
	createdHeight, err := c.Last(context.Background(), topicCreated)
	if err != nil {
		t.Fatalf("Last(topicCreated): %v", err)
	}
	if createdHeight != 500 {
		t.Fatalf("expected topicCreated's cursor to remain at 500, got %d", createdHeight)
	}
}
