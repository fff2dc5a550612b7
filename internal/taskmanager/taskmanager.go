// Package taskmanager implements C6, the sole owner of task mutation.
// It serializes writes per taskId (spec §3's ownership rule and §5's
// per-taskId mutex requirement) and enforces the per-taskType schema,
// delegating status transitions to statemachine and persistence to
// task/store. Grounded on the teacher's cache-then-persist pattern in
// services/orchestrator/persistence.go, generalized from a name-keyed
// workflow store to a taskId-keyed, mutex-striped task manager.
package taskmanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/Ranish-Garg/econos-master-agent/internal/statemachine"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
	"github.com/Ranish-Garg/econos-master-agent/internal/task/store"
)

// Accepted duration range for a task's deadline relative to its creation
// time, per spec §9's boundary behaviors: 3600s (1h) through 604800s (7d)
// inclusive.
const (
	minTaskDuration = 3600
	maxTaskDuration = 604800
)

// Store is the persistence interface C6 depends on (C5's contract).
type Store interface {
	Put(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, taskID string) (*task.Task, bool, error)
	GetByHash(ctx context.Context, hash [32]byte) (*task.Task, bool, error)
	GetByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
	GetExpiredTasks(ctx context.Context, now int64) ([]*task.Task, error)
	Archive(ctx context.Context, taskID string) error
}

var _ Store = (*store.Store)(nil)

// Hasher computes the 32-byte on-chain id for a local taskId (keccak256 in
// production, injected so C6 never imports a crypto package directly).
type Hasher func(taskID string) [32]byte

// Manager is C6. It holds no task data itself beyond the per-taskId lock
// table; Store is the single source of truth.
type Manager struct {
	store  Store
	hash   Hasher
	policy *PolicyEngine

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	createCounter metric.Int64Counter
}

// New constructs a Manager. policy may be nil to skip OPA budget evaluation
// (schema-level BudgetNonPositive still applies).
func New(s Store, hash Hasher, policy *PolicyEngine, meter metric.Meter) *Manager {
	createCounter, _ := meter.Int64Counter("econos_taskmanager_created_total")
	return &Manager{
		store:         s,
		hash:          hash,
		policy:        policy,
		locks:         make(map[string]*sync.Mutex),
		createCounter: createCounter,
	}
}

func (m *Manager) lockFor(taskID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

func newTaskID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateParams carries the caller-supplied fields for Create.
type CreateParams struct {
	TaskType             task.Type
	InputParameters      map[string]any
	RequiredCapabilities []string
	Deadline             int64
	Budget               uint64
}

// Create validates and persists a new task in status Pending, per spec §4.5.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*task.Task, error) {
	if err := validateInput(p.TaskType, p.InputParameters); err != nil {
		return nil, err
	}
	if p.Budget == 0 {
		return nil, task.ErrBudgetNonPositive()
	}
	if m.policy != nil {
		allowed, err := m.policy.AllowBudget(ctx, p.Budget)
		if err != nil {
			return nil, task.ErrPersistence(err)
		}
		if !allowed {
			return nil, task.ErrBudgetNonPositive()
		}
	}

	now := task.Now().Unix()
	if p.Deadline <= now {
		return nil, task.ErrSchemaViolation("deadline must be strictly after creation time")
	}
	duration := p.Deadline - now
	if duration < minTaskDuration || duration > maxTaskDuration {
		return nil, task.ErrDurationOutOfRange(duration)
	}

	taskID, err := newTaskID()
	if err != nil {
		return nil, task.ErrPersistence(err)
	}

	requiredCaps := p.RequiredCapabilities
	if len(requiredCaps) == 0 {
		requiredCaps = []string{string(p.TaskType)}
	}

	t := &task.Task{
		TaskID:               taskID,
		TaskIDHash:           m.hash(taskID),
		TaskType:             p.TaskType,
		InputParameters:      p.InputParameters,
		RequiredCapabilities: requiredCaps,
		Deadline:             p.Deadline,
		Budget:               p.Budget,
		Status:               task.StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Put(ctx, t); err != nil {
		return nil, task.ErrPersistence(err)
	}
	m.createCounter.Add(ctx, 1)
	return t.Clone(), nil
}

// Get returns a read-only snapshot of the task.
func (m *Manager) Get(ctx context.Context, taskID string) (*task.Task, error) {
	t, ok, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, task.ErrPersistence(err)
	}
	if !ok {
		return nil, task.ErrSchemaViolation(fmt.Sprintf("task %q not found", taskID))
	}
	return t, nil
}

// GetByHash resolves a task by its on-chain keccak id.
func (m *Manager) GetByHash(ctx context.Context, hash [32]byte) (*task.Task, error) {
	t, ok, err := m.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, task.ErrPersistence(err)
	}
	if !ok {
		return nil, task.ErrSchemaViolation("task not found for hash")
	}
	return t, nil
}

// GetByStatus returns every task currently in status.
func (m *Manager) GetByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	ts, err := m.store.GetByStatus(ctx, status)
	if err != nil {
		return nil, task.ErrPersistence(err)
	}
	return ts, nil
}

// GetExpiredTasks returns tasks past deadline still in a refundable status.
func (m *Manager) GetExpiredTasks(ctx context.Context) ([]*task.Task, error) {
	ts, err := m.store.GetExpiredTasks(ctx, task.Now().Unix())
	if err != nil {
		return nil, task.ErrPersistence(err)
	}
	return ts, nil
}

// mutate loads, locks, applies fn, validates invariants are preserved, and
// persists — the single choke point every other mutating method funnels
// through, serialized per taskId.
func (m *Manager) mutate(ctx context.Context, taskID string, fn func(t *task.Task) error) (*task.Task, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, task.ErrPersistence(err)
	}
	if !ok {
		return nil, task.ErrSchemaViolation(fmt.Sprintf("task %q not found", taskID))
	}
	if t.Status.IsTerminal() {
		return nil, task.ErrInvalidTransition(t.Status, t.Status)
	}

	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = task.Now().Unix()

	if err := m.store.Put(ctx, t); err != nil {
		return nil, task.ErrPersistence(err)
	}
	return t.Clone(), nil
}

// UpdateStatus transitions t.Status via C8, rejecting illegal moves.
func (m *Manager) UpdateStatus(ctx context.Context, taskID string, to task.Status) (*task.Task, error) {
	return m.mutate(ctx, taskID, func(t *task.Task) error {
		if err := statemachine.Validate(t.Status, to); err != nil {
			return err
		}
		t.Status = to
		return nil
	})
}

// AssignWorker records the chosen worker address on the task.
func (m *Manager) AssignWorker(ctx context.Context, taskID, workerAddress string) (*task.Task, error) {
	return m.mutate(ctx, taskID, func(t *task.Task) error {
		t.AssignedWorker = workerAddress
		return nil
	})
}

// RecordEscrowDeposit records the deposit tx hash and transitions to Created.
func (m *Manager) RecordEscrowDeposit(ctx context.Context, taskID string, txHash []byte) (*task.Task, error) {
	return m.mutate(ctx, taskID, func(t *task.Task) error {
		if err := statemachine.Validate(t.Status, task.StatusCreated); err != nil {
			return err
		}
		t.EscrowTxHash = txHash
		t.Status = task.StatusCreated
		return nil
	})
}

// RecordAuthorization records the signed authorization and transitions to Authorized.
func (m *Manager) RecordAuthorization(ctx context.Context, taskID string, auth *task.Authorization) (*task.Task, error) {
	return m.mutate(ctx, taskID, func(t *task.Task) error {
		if auth.ExpiresAt > t.Deadline {
			return task.ErrAuthorizationExpired()
		}
		if err := statemachine.Validate(t.Status, task.StatusAuthorized); err != nil {
			return err
		}
		t.Authorization = auth
		t.Status = task.StatusAuthorized
		return nil
	})
}

// RecordCompletion records the result hash and transitions to Completed.
func (m *Manager) RecordCompletion(ctx context.Context, taskID string, resultHash []byte) (*task.Task, error) {
	return m.mutate(ctx, taskID, func(t *task.Task) error {
		if !statemachine.CanComplete(t.Status) {
			return statemachine.Validate(t.Status, task.StatusCompleted)
		}
		t.ResultHash = resultHash
		t.Status = task.StatusCompleted
		return nil
	})
}

// Archive permanently removes a terminal task's live record, keeping its
// final state in the versions history.
func (m *Manager) Archive(ctx context.Context, taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, ok, err := m.store.Get(ctx, taskID)
	if err != nil {
		return task.ErrPersistence(err)
	}
	if ok && !t.Status.IsTerminal() {
		return task.ErrInvalidTransition(t.Status, t.Status)
	}
	if err := m.store.Archive(ctx, taskID); err != nil {
		return task.ErrPersistence(err)
	}
	return nil
}
