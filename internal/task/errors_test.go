package task

import (
	"errors"
	"testing"
)

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ErrChainUnavailable(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorMessageIncludesKindAndCode(t *testing.T) {
	err := ErrNoWorkerForService(TypeWriter)
	if err.Kind != KindResource {
		t.Errorf("expected KindResource, got %s", err.Kind)
	}
	want := "Resource: NoWorkerForService"
	if got := err.Error(); got[:len(want)] != want {
		t.Errorf("expected error string to start with %q, got %q", want, got)
	}
}

func TestErrorWithoutCauseUnwrapsToNil(t *testing.T) {
	err := ErrBudgetNonPositive()
	if err.Unwrap() != nil {
		t.Fatal("expected a cause-less error to unwrap to nil")
	}
}
