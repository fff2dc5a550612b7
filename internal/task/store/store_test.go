package store

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), otel.GetMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTask(id string, status task.Status, deadline int64) *task.Task {
	var hash [32]byte
	copy(hash[:], id)
	return &task.Task{TaskID: id, TaskIDHash: hash, TaskType: task.TypeWriter, Status: status, Deadline: deadline}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	want := sampleTask("t1", task.StatusPending, 1000)
	if err := s.Put(context.Background(), want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got.TaskID != "t1" {
		t.Fatalf("expected to retrieve task t1, got %#v ok=%v", got, ok)
	}
}

func TestGetMissingTaskReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing task")
	}
}

func TestGetByHashResolvesDirectly(t *testing.T) {
	s := newTestStore(t)
	want := sampleTask("t1", task.StatusPending, 1000)
	if err := s.Put(context.Background(), want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.GetByHash(context.Background(), want.TaskIDHash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if !ok || got.TaskID != "t1" {
		t.Fatalf("expected to resolve task by hash, got %#v ok=%v", got, ok)
	}
}

func TestGetByStatusFiltersCorrectly(t *testing.T) {
	s := newTestStore(t)
	s.Put(context.Background(), sampleTask("running-1", task.StatusRunning, 1000))
	s.Put(context.Background(), sampleTask("running-2", task.StatusRunning, 2000))
	s.Put(context.Background(), sampleTask("pending-1", task.StatusPending, 3000))

	running, err := s.GetByStatus(context.Background(), task.StatusRunning)
	if err != nil {
		t.Fatalf("GetByStatus: %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("expected 2 running tasks, got %d", len(running))
	}
}

func TestPutUpdatesStatusIndexOnTransition(t *testing.T) {
	s := newTestStore(t)
	tk := sampleTask("t1", task.StatusPending, 1000)
	s.Put(context.Background(), tk)

	tk.Status = task.StatusCreated
	s.Put(context.Background(), tk)

	pending, err := s.GetByStatus(context.Background(), task.StatusPending)
	if err != nil {
		t.Fatalf("GetByStatus(Pending): %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the old status index entry to be removed, got %d", len(pending))
	}
	created, err := s.GetByStatus(context.Background(), task.StatusCreated)
	if err != nil {
		t.Fatalf("GetByStatus(Created): %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created task, got %d", len(created))
	}
}

func TestGetExpiredTasksFiltersByDeadlineAndEligibleStatus(t *testing.T) {
	s := newTestStore(t)
	s.Put(context.Background(), sampleTask("expired-running", task.StatusRunning, 100))
	s.Put(context.Background(), sampleTask("expired-but-completed", task.StatusCompleted, 100))
	s.Put(context.Background(), sampleTask("not-expired", task.StatusRunning, 100000))

	expired, err := s.GetExpiredTasks(context.Background(), 50000)
	if err != nil {
		t.Fatalf("GetExpiredTasks: %v", err)
	}
	if len(expired) != 1 || expired[0].TaskID != "expired-running" {
		t.Fatalf("expected only expired-running, got %v", expired)
	}
}

func TestArchiveRemovesLiveRecord(t *testing.T) {
	s := newTestStore(t)
	s.Put(context.Background(), sampleTask("t1", task.StatusCompleted, 1000))

	if err := s.Archive(context.Background(), "t1"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	_, ok, err := s.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected the archived task to no longer be retrievable")
	}
}

func TestWarmCacheLoadsExistingRecordsOnReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, otel.GetMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Put(context.Background(), sampleTask("t1", task.StatusPending, 1000)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, otel.GetMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok || got.TaskID != "t1" {
		t.Fatalf("expected the task to survive a reopen via warmCache, got %#v ok=%v", got, ok)
	}
}
