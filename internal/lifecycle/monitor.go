// Package lifecycle implements C9, the Lifecycle Monitor: an event
// demultiplexer draining C1's chain event streams, and a deadline sweeper
// ticking on a cron schedule, both mutating tasks exclusively through C6.
// The cron-scheduled sweeper is adapted from
// services/orchestrator/scheduler.go's Scheduler (cron.New(WithSeconds),
// AddFunc, graceful Stop draining the cron's own stop context); the
// idempotent start/stop and callback draining follow
// services/orchestrator/cancellation.go's CancellationManager discipline.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ranish-Garg/econos-master-agent/internal/chain"
	"github.com/Ranish-Garg/econos-master-agent/internal/statemachine"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// ChainGateway is the subset of C1 this package depends on.
type ChainGateway interface {
	SubscribeTaskCreated(ctx context.Context) (<-chan chain.TaskCreatedEvent, <-chan error)
	SubscribeTaskCompleted(ctx context.Context) (<-chan chain.TaskCompletedEvent, <-chan error)
	SubscribeTaskRefunded(ctx context.Context) (<-chan chain.TaskRefundedEvent, <-chan error)
	RefundAndSlash(ctx context.Context, taskIDHash [32]byte) ([]byte, error)
}

// TaskManager is the subset of C6 this package depends on.
type TaskManager interface {
	GetByHash(ctx context.Context, hash [32]byte) (*task.Task, error)
	UpdateStatus(ctx context.Context, taskID string, to task.Status) (*task.Task, error)
	RecordCompletion(ctx context.Context, taskID string, resultHash []byte) (*task.Task, error)
	GetExpiredTasks(ctx context.Context) ([]*task.Task, error)
}

// Callbacks are invoked as tasks cross terminal or near-terminal events.
// Any or all may be nil.
type Callbacks struct {
	OnTaskComplete func(t *task.Task)
	OnTaskRefund   func(t *task.Task)
	OnTaskFail     func(t *task.Task, cause error)
}

// Monitor is C9.
type Monitor struct {
	chainGW ChainGateway
	manager TaskManager
	cb      Callbacks

	sweepInterval time.Duration
	cronSched     *cron.Cron

	running int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sweepRuns   metric.Int64Counter
	sweepErrors metric.Int64Counter
	eventsSeen  metric.Int64Counter
}

// New constructs a Monitor. sweepInterval defaults to 60s per spec §6's
// expirationCheckInterval.
func New(chainGW ChainGateway, manager TaskManager, cb Callbacks, sweepInterval time.Duration, meter metric.Meter) *Monitor {
	sweepRuns, _ := meter.Int64Counter("econos_lifecycle_sweep_runs_total")
	sweepErrors, _ := meter.Int64Counter("econos_lifecycle_sweep_errors_total")
	eventsSeen, _ := meter.Int64Counter("econos_lifecycle_events_total")

	return &Monitor{
		chainGW:       chainGW,
		manager:       manager,
		cb:            cb,
		sweepInterval: sweepInterval,
		cronSched:     cron.New(cron.WithSeconds()),
		sweepRuns:     sweepRuns,
		sweepErrors:   sweepErrors,
		eventsSeen:    eventsSeen,
	}
}

// Start launches both concurrent activities. Idempotent: a second call
// while already running is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runEventDemultiplexer(runCtx)
	}()

	spec := fmt.Sprintf("@every %s", m.sweepInterval.String())
	if _, err := m.cronSched.AddFunc(spec, func() { m.sweepOnce(runCtx) }); err != nil {
		cancel()
		atomic.StoreInt32(&m.running, 0)
		return fmt.Errorf("schedule deadline sweeper: %w", err)
	}
	m.cronSched.Start()

	return nil
}

// Stop halts both activities, draining any in-flight callback before
// returning. Idempotent: stopping an already-stopped Monitor is a no-op.
func (m *Monitor) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return nil
	}

	stopCtx := m.cronSched.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runEventDemultiplexer drains C1's three event channels for the process
// lifetime, resolving each event's local task and transitioning it.
func (m *Monitor) runEventDemultiplexer(ctx context.Context) {
	created, createdErrs := m.chainGW.SubscribeTaskCreated(ctx)
	completed, completedErrs := m.chainGW.SubscribeTaskCompleted(ctx)
	refunded, refundedErrs := m.chainGW.SubscribeTaskRefunded(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-created:
			m.eventsSeen.Add(ctx, 1)
			m.handleTaskCreated(ctx, ev)
		case ev := <-completed:
			m.eventsSeen.Add(ctx, 1)
			m.handleTaskCompleted(ctx, ev)
		case ev := <-refunded:
			m.eventsSeen.Add(ctx, 1)
			m.handleTaskRefunded(ctx, ev)
		case err := <-createdErrs:
			slog.Error("chain event subscription error", "stream", "TaskCreated", "error", err)
		case err := <-completedErrs:
			slog.Error("chain event subscription error", "stream", "TaskCompleted", "error", err)
		case err := <-refundedErrs:
			slog.Error("chain event subscription error", "stream", "TaskRefunded", "error", err)
		}
	}
}

func (m *Monitor) handleTaskCreated(ctx context.Context, ev chain.TaskCreatedEvent) {
	t, err := m.manager.GetByHash(ctx, ev.TaskIDHash)
	if err != nil {
		return
	}
	if !statemachine.CanTransition(t.Status, task.StatusCreated) {
		return
	}
	_, _ = m.manager.UpdateStatus(ctx, t.TaskID, task.StatusCreated)
}

func (m *Monitor) handleTaskCompleted(ctx context.Context, ev chain.TaskCompletedEvent) {
	t, err := m.manager.GetByHash(ctx, ev.TaskIDHash)
	if err != nil {
		return
	}
	updated, err := m.manager.RecordCompletion(ctx, t.TaskID, ev.Result)
	if err != nil {
		return
	}
	if m.cb.OnTaskComplete != nil {
		m.cb.OnTaskComplete(updated)
	}
}

func (m *Monitor) handleTaskRefunded(ctx context.Context, ev chain.TaskRefundedEvent) {
	t, err := m.manager.GetByHash(ctx, ev.TaskIDHash)
	if err != nil {
		return
	}
	if !statemachine.CanTransition(t.Status, task.StatusRefunded) {
		return
	}
	updated, err := m.manager.UpdateStatus(ctx, t.TaskID, task.StatusRefunded)
	if err != nil {
		return
	}
	if m.cb.OnTaskRefund != nil {
		m.cb.OnTaskRefund(updated)
	}
}

// sweepOnce implements spec §4.8(b): every tick, find expired tasks still
// refundable and trigger RefundAndSlash, falling back to Failed if the
// chain call itself errors.
func (m *Monitor) sweepOnce(ctx context.Context) {
	if _, err := m.TriggerSweep(ctx); err != nil {
		slog.Error("deadline sweeper: list expired tasks", "error", err)
	}
}

// TriggerSweep runs one deadline-sweep pass on demand, returning the number
// of expired, refundable tasks it acted on. Exposed for C12's admin surface
// in addition to the cron schedule.
func (m *Monitor) TriggerSweep(ctx context.Context) (int, error) {
	m.sweepRuns.Add(ctx, 1)

	expired, err := m.manager.GetExpiredTasks(ctx)
	if err != nil {
		m.sweepErrors.Add(ctx, 1)
		return 0, err
	}

	swept := 0
	for _, t := range expired {
		if !statemachine.CanRefund(t.Status) {
			continue
		}
		swept++
		if _, err := m.chainGW.RefundAndSlash(ctx, t.TaskIDHash); err != nil {
			m.sweepErrors.Add(ctx, 1)
			updated, uerr := m.manager.UpdateStatus(ctx, t.TaskID, task.StatusFailed)
			if uerr == nil && m.cb.OnTaskFail != nil {
				m.cb.OnTaskFail(updated, err)
			}
			continue
		}
		// successful RefundAndSlash transitions the task to Refunded once
		// C9's own event demultiplexer observes the resulting TaskRefunded
		// log, not here — avoids racing the on-chain write with local state.
	}
	return swept, nil
}
