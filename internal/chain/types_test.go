package chain

import (
	"testing"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

func TestMapStatusKnownCodes(t *testing.T) {
	cases := []struct {
		in   OnChainStatus
		want task.Status
	}{
		{OnChainCreated, task.StatusCreated},
		{OnChainComplete, task.StatusCompleted},
		{OnChainDisputed, task.StatusFailed},
		{OnChainRefunded, task.StatusRefunded},
	}
	for _, c := range cases {
		got, ok := MapStatus(c.in)
		if !ok {
			t.Errorf("expected code %d to map successfully", c.in)
		}
		if got != c.want {
			t.Errorf("MapStatus(%d) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestMapStatusUnknownCode(t *testing.T) {
	if _, ok := MapStatus(OnChainStatus(99)); ok {
		t.Fatal("expected an unrecognized status code to report ok=false")
	}
}
