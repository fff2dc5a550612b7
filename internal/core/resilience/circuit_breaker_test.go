package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnFailure(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 100, 1, 0.1, 20*time.Millisecond, 1)
	if !cb.Allow() {
		t.Fatal("expected the breaker to allow the first request while closed")
	}
	cb.RecordResult(false)
	if cb.Allow() {
		t.Fatal("expected the breaker to be open immediately after a failing sample")
	}
}

func TestCircuitBreakerHalfOpensThenRecovers(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 100, 1, 0.1, 15*time.Millisecond, 1)
	cb.Allow()
	cb.RecordResult(false)
	if cb.Allow() {
		t.Fatal("expected the breaker to still be open before the cooldown elapses")
	}

	time.Sleep(25 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected a half-open probe to be allowed after the cooldown")
	}
	cb.RecordResult(true)

	if !cb.Allow() {
		t.Fatal("expected the breaker to be closed again after a successful probe")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 100, 1, 0.1, 10*time.Millisecond, 2)
	cb.Allow()
	cb.RecordResult(false)
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected a half-open probe to be allowed")
	}
	cb.RecordResult(false)

	if cb.Allow() {
		t.Fatal("expected a failed half-open probe to reopen the breaker")
	}
}
