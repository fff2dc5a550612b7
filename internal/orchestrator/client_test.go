package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ranish-Garg/econos-master-agent/internal/authz"
)

func TestAuthorizeSucceedsOnOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newWorkerClient()
	err := c.authorize(context.Background(), srv.URL, "t1", map[string]any{"a": 1}, &authz.SignedAuthorization{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorizeFailsOnNon2xxResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newWorkerClient()
	if err := c.authorize(context.Background(), srv.URL, "t1", nil, &authz.SignedAuthorization{}); err == nil {
		t.Fatal("expected a dispatch error on a 400 response")
	}
}

func TestFetchResultSucceedsOnSuccessfulBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"resultHash":"0xabc"}}`))
	}))
	defer srv.Close()

	c := newWorkerClient()
	data, err := c.fetchResult(context.Background(), srv.URL, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data["resultHash"] != "0xabc" {
		t.Fatalf("expected resultHash 0xabc, got %v", data["resultHash"])
	}
}

// TestCircuitBreakerOpensAfterRepeatedWorkerFailures guards the wiring
// between workerClient and resilience.CircuitBreaker: once an endpoint's
// breaker trips on a 5xx response, further dispatch to that same endpoint
// must short-circuit with task.ErrCircuitOpen instead of another round trip.
func TestCircuitBreakerOpensAfterRepeatedWorkerFailures(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newWorkerClient()
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = c.authorize(context.Background(), srv.URL, "t1", nil, &authz.SignedAuthorization{})
	}
	if lastErr == nil {
		t.Fatal("expected the tripped breaker to reject dispatch")
	}
	if requests != 1 {
		t.Fatalf("expected the breaker to trip after the first failure and short-circuit the rest, server saw %d requests", requests)
	}
}

// TestCircuitBreakerIsPerEndpoint guards against one misbehaving worker's
// breaker state leaking into dispatch for a different worker endpoint.
func TestCircuitBreakerIsPerEndpoint(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	c := newWorkerClient()
	for i := 0; i < 10; i++ {
		c.authorize(context.Background(), failing.URL, "t1", nil, &authz.SignedAuthorization{})
	}

	if err := c.authorize(context.Background(), healthy.URL, "t2", nil, &authz.SignedAuthorization{}); err != nil {
		t.Fatalf("expected the healthy endpoint's breaker to remain closed, got %v", err)
	}
	if err := c.authorize(context.Background(), failing.URL, "t1", nil, &authz.SignedAuthorization{}); err == nil {
		t.Fatal("expected the failing endpoint's breaker to still be open")
	}
}
