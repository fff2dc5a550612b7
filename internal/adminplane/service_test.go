package adminplane

import (
	"context"
	"errors"
	"testing"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

type fakeTasks struct {
	byStatus map[task.Status][]*task.Task
	err      error
}

func (f fakeTasks) GetByStatus(_ context.Context, status task.Status) ([]*task.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byStatus[status], nil
}

type fakeSweep struct {
	swept int
	err   error
}

func (f fakeSweep) TriggerSweep(_ context.Context) (int, error) {
	return f.swept, f.err
}

type fakeCanceller struct {
	cancelled bool
	active    []string
}

func (f fakeCanceller) CancelExecution(_ context.Context, _ string) bool {
	return f.cancelled
}

func (f fakeCanceller) ListActive() []string {
	return f.active
}

func TestListActiveTasksAggregatesAcrossStatuses(t *testing.T) {
	tasks := fakeTasks{byStatus: map[task.Status][]*task.Task{
		task.StatusCreated:    {{TaskID: "t1"}},
		task.StatusAuthorized: {{TaskID: "t2"}},
		task.StatusRunning:    {{TaskID: "t3"}},
	}}
	srv := New(tasks, fakeSweep{}, fakeCanceller{active: []string{"plan-1"}})

	resp, err := srv.ListActiveTasks(context.Background(), &ListActiveTasksRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Tasks) != 3 {
		t.Fatalf("expected 3 aggregated tasks, got %d", len(resp.Tasks))
	}
	if len(resp.ActiveExecIDs) != 1 || resp.ActiveExecIDs[0] != "plan-1" {
		t.Fatalf("unexpected active execution ids: %v", resp.ActiveExecIDs)
	}
}

func TestListActiveTasksPropagatesStoreError(t *testing.T) {
	srv := New(fakeTasks{err: errors.New("store unavailable")}, fakeSweep{}, fakeCanceller{})
	if _, err := srv.ListActiveTasks(context.Background(), &ListActiveTasksRequest{}); err == nil {
		t.Fatal("expected the store error to propagate")
	}
}

func TestTriggerSweepReturnsCount(t *testing.T) {
	srv := New(fakeTasks{}, fakeSweep{swept: 4}, fakeCanceller{})
	resp, err := srv.TriggerSweep(context.Background(), &TriggerSweepRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TasksSwept != 4 {
		t.Fatalf("expected 4 tasks swept, got %d", resp.TasksSwept)
	}
}

func TestCancelExecutionReportsOutcome(t *testing.T) {
	srv := New(fakeTasks{}, fakeSweep{}, fakeCanceller{cancelled: true})
	resp, err := srv.CancelExecution(context.Background(), &CancelExecutionRequest{PlanID: "plan-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Cancelled {
		t.Fatal("expected Cancelled to be true")
	}
}

// TestServiceDescHandlersDispatch exercises the hand-authored MethodDesc
// handlers the way grpc-go's server would: decode into the typed request,
// call through the AdminControlPlaneServer interface, no interceptor chain.
func TestServiceDescHandlersDispatch(t *testing.T) {
	srv := New(fakeTasks{byStatus: map[task.Status][]*task.Task{task.StatusRunning: {{TaskID: "t1"}}}}, fakeSweep{swept: 1}, fakeCanceller{cancelled: true, active: []string{"p1"}})

	for _, m := range ServiceDesc.Methods {
		dec := func(v any) error { return nil }
		resp, err := m.Handler(srv, context.Background(), dec, nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", m.MethodName, err)
		}
		if resp == nil {
			t.Fatalf("%s: expected a non-nil response", m.MethodName)
		}
	}
}

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	want := CancelExecutionRequest{PlanID: "plan-7"}
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got CancelExecutionRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
	if c.Name() != codecName {
		t.Fatalf("unexpected codec name: %q", c.Name())
	}
}
