package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Ranish-Garg/econos-master-agent/internal/chain"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

type fakeChainGW struct {
	refundErr   error
	refundCalls int
}

func (f *fakeChainGW) SubscribeTaskCreated(context.Context) (<-chan chain.TaskCreatedEvent, <-chan error) {
	return make(chan chain.TaskCreatedEvent), make(chan error)
}

func (f *fakeChainGW) SubscribeTaskCompleted(context.Context) (<-chan chain.TaskCompletedEvent, <-chan error) {
	return make(chan chain.TaskCompletedEvent), make(chan error)
}

func (f *fakeChainGW) SubscribeTaskRefunded(context.Context) (<-chan chain.TaskRefundedEvent, <-chan error) {
	return make(chan chain.TaskRefundedEvent), make(chan error)
}

func (f *fakeChainGW) RefundAndSlash(context.Context, [32]byte) ([]byte, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return []byte("0xrefund"), nil
}

type fakeManager struct {
	expired      []*task.Task
	failed       []string
	expiredErr   error
	updateStatus func(taskID string, to task.Status)
}

func (f *fakeManager) GetByHash(context.Context, [32]byte) (*task.Task, error) { return nil, errors.New("unused") }

func (f *fakeManager) UpdateStatus(_ context.Context, taskID string, to task.Status) (*task.Task, error) {
	if to == task.StatusFailed {
		f.failed = append(f.failed, taskID)
	}
	if f.updateStatus != nil {
		f.updateStatus(taskID, to)
	}
	return &task.Task{TaskID: taskID, Status: to}, nil
}

func (f *fakeManager) RecordCompletion(context.Context, string, []byte) (*task.Task, error) {
	return nil, errors.New("unused")
}

func (f *fakeManager) GetExpiredTasks(context.Context) ([]*task.Task, error) {
	return f.expired, f.expiredErr
}

func TestTriggerSweepRefundsEligibleTasks(t *testing.T) {
	gw := &fakeChainGW{}
	mgr := &fakeManager{expired: []*task.Task{
		{TaskID: "running", Status: task.StatusRunning},
		{TaskID: "authorized", Status: task.StatusAuthorized},
		{TaskID: "already-refunded", Status: task.StatusRefunded},
	}}

	m := New(gw, mgr, Callbacks{}, time.Minute, otel.GetMeterProvider().Meter("test"))
	swept, err := m.TriggerSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 tasks swept (running, authorized), got %d", swept)
	}
	if gw.refundCalls != 2 {
		t.Fatalf("expected 2 RefundAndSlash calls, got %d", gw.refundCalls)
	}
}

func TestTriggerSweepFallsBackToFailedOnChainError(t *testing.T) {
	gw := &fakeChainGW{refundErr: errors.New("rpc down")}
	var failCalled bool
	mgr := &fakeManager{
		expired: []*task.Task{{TaskID: "t1", Status: task.StatusRunning}},
	}
	cb := Callbacks{OnTaskFail: func(t *task.Task, cause error) {
		failCalled = true
		if t.TaskID != "t1" {
			t.Fatalf("unexpected task in OnTaskFail: %q", t.TaskID)
		}
	}}

	m := New(gw, mgr, cb, time.Minute, otel.GetMeterProvider().Meter("test"))
	if _, err := m.TriggerSweep(context.Background()); err != nil {
		t.Fatalf("TriggerSweep itself should not error on a per-task refund failure: %v", err)
	}
	if len(mgr.failed) != 1 || mgr.failed[0] != "t1" {
		t.Fatalf("expected t1 to be marked Failed, got %v", mgr.failed)
	}
	if !failCalled {
		t.Fatal("expected OnTaskFail callback to run")
	}
}

func TestTriggerSweepPropagatesStoreError(t *testing.T) {
	gw := &fakeChainGW{}
	mgr := &fakeManager{expiredErr: errors.New("store down")}
	m := New(gw, mgr, Callbacks{}, time.Minute, otel.GetMeterProvider().Meter("test"))
	if _, err := m.TriggerSweep(context.Background()); err == nil {
		t.Fatal("expected the store error to propagate")
	}
}
