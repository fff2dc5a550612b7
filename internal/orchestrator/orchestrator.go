// Package orchestrator implements C10, the top-level controller: request
// → plan → per-step (select → deposit → authorize → dispatch → await) →
// aggregate. Worker dispatch is a pooled http.Client with OTel trace
// propagation, adapted from services/orchestrator/task_executor.go's
// HTTPTaskExecutor and plugins.go's resolveTemplate/headerCarrier pair,
// narrowed from a generic plugin registry to the three worker endpoints
// spec §6 names (authorize/proof/result). Concurrent Execute calls are
// independent; a single task's lifecycle stays serialized because every
// mutation funnels through C6's per-taskId lock.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ranish-Garg/econos-master-agent/internal/authz"
	"github.com/Ranish-Garg/econos-master-agent/internal/directory"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
	"github.com/Ranish-Garg/econos-master-agent/internal/taskmanager"
)

// TaskManager is the subset of C6 this package depends on.
type TaskManager interface {
	Create(ctx context.Context, p taskmanager.CreateParams) (*task.Task, error)
	Get(ctx context.Context, taskID string) (*task.Task, error)
	AssignWorker(ctx context.Context, taskID, workerAddress string) (*task.Task, error)
	RecordEscrowDeposit(ctx context.Context, taskID string, txHash []byte) (*task.Task, error)
	RecordAuthorization(ctx context.Context, taskID string, auth *task.Authorization) (*task.Task, error)
}

// ChainGateway is the subset of C1 this package depends on.
type ChainGateway interface {
	DepositTask(ctx context.Context, taskIDHash [32]byte, worker common.Address, duration time.Duration, amountWei *big.Int) ([]byte, error)
}

// AuthzSigner is the subset of C4 this package depends on.
type AuthzSigner interface {
	Generate(taskID [32]byte, worker common.Address, validity time.Duration, nonce uint64) authz.Payload
	Sign(p authz.Payload) (*authz.SignedAuthorization, error)
}

// WorkerDirectory is the subset of C3 this package depends on.
type WorkerDirectory interface {
	SelectWorker(ctx context.Context, t *task.Task, strategy directory.Strategy, directAddress string) (*task.Offer, error)
}

// Options configures one Execute call.
type Options struct {
	Deadline          int64 // unix seconds shared by every step's task
	Strategy          directory.Strategy
	DirectWorker      string
	ProofPollInterval time.Duration // default 5s
	DefaultValidity   time.Duration // default 1h, capped by the task deadline
}

func (o Options) withDefaults() Options {
	if o.ProofPollInterval <= 0 {
		o.ProofPollInterval = 5 * time.Second
	}
	if o.DefaultValidity <= 0 {
		o.DefaultValidity = time.Hour
	}
	return o
}

// Orchestrator is C10.
type Orchestrator struct {
	tasks     TaskManager
	chain     ChainGateway
	authz     AuthzSigner
	directory WorkerDirectory
	worker    *workerClient

	nonceSeq atomic.Uint64

	activeMu sync.Mutex
	active   map[string]context.CancelFunc // planID -> cancel, per cancellation.go's active-execution registry

	tracer        trace.Tracer
	stepFailures  metric.Int64Counter
	stepSuccesses metric.Int64Counter
	cancellations metric.Int64Counter
}

// New constructs an Orchestrator.
func New(tasks TaskManager, chain ChainGateway, signer AuthzSigner, dir WorkerDirectory, meter metric.Meter) *Orchestrator {
	stepFailures, _ := meter.Int64Counter("econos_orchestrator_step_failures_total")
	stepSuccesses, _ := meter.Int64Counter("econos_orchestrator_step_successes_total")
	cancellations, _ := meter.Int64Counter("econos_orchestrator_cancellations_total")
	return &Orchestrator{
		tasks:         tasks,
		chain:         chain,
		authz:         signer,
		directory:     dir,
		worker:        newWorkerClient(),
		active:        make(map[string]context.CancelFunc),
		tracer:        otel.Tracer("econos-orchestrator"),
		stepFailures:  stepFailures,
		stepSuccesses: stepSuccesses,
		cancellations: cancellations,
	}
}

// Execute runs plan's steps in topological order, hiring a worker and
// escrowing payment for each, per spec §4.9. The plan is registered for
// cancellation for the duration of the call — CancelExecution stops
// pending sub-requests but, per spec §5, never rolls back on-chain state;
// reclaiming funds is left to C9's sweeper.
func (o *Orchestrator) Execute(ctx context.Context, plan *task.ExecutionPlan, requestParams map[string]any, opts Options) (*task.PipelineExecutionResult, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	o.registerActive(plan.PlanID, cancel)
	defer func() {
		o.unregisterActive(plan.PlanID)
		cancel()
	}()

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("plan_id", plan.PlanID),
		attribute.Int("step_count", len(plan.Steps)),
	))
	defer span.End()

	ordered, err := topologicalOrder(plan.Steps)
	if err != nil {
		return nil, err
	}

	results := make(map[string]map[string]any, len(ordered))
	result := &task.PipelineExecutionResult{PlanID: plan.PlanID, StepResults: results}

	var lastStepID string
	for i := range ordered {
		step := &ordered[i]
		inputParams, err := resolveInput(step.InputMapping, requestParams, results)
		if err != nil {
			return o.fail(ctx, result, step, err), nil
		}

		if err := o.runStep(ctx, step, inputParams, opts); err != nil {
			return o.fail(ctx, result, step, err), nil
		}

		results[step.StepID] = step.Result
		lastStepID = step.StepID
		o.stepSuccesses.Add(ctx, 1)
	}

	result.Success = true
	if lastStepID != "" {
		result.FinalResult = results[lastStepID]
	}
	return result, nil
}

func (o *Orchestrator) registerActive(planID string, cancel context.CancelFunc) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	o.active[planID] = cancel
}

func (o *Orchestrator) unregisterActive(planID string) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	delete(o.active, planID)
}

// CancelExecution stops an in-flight Execute call for planID, reporting
// whether one was found running. Used by C12's admin surface.
func (o *Orchestrator) CancelExecution(ctx context.Context, planID string) bool {
	o.activeMu.Lock()
	cancel, ok := o.active[planID]
	o.activeMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	o.cancellations.Add(ctx, 1)
	return true
}

// ListActive returns the planIDs of executions currently in flight.
func (o *Orchestrator) ListActive() []string {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) fail(ctx context.Context, result *task.PipelineExecutionResult, step *task.Step, err error) *task.PipelineExecutionResult {
	o.stepFailures.Add(ctx, 1)
	step.Status = task.StepFailed
	result.Success = false
	result.FailedStep = step.StepID
	result.Error = err.Error()
	return result
}

// runStep performs the per-step sequence: create → select worker → deposit
// → sign → authorize → await proof → fetch result.
func (o *Orchestrator) runStep(ctx context.Context, step *task.Step, inputParams map[string]any, opts Options) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(
		attribute.String("step_id", step.StepID),
		attribute.String("service_type", string(step.ServiceType)),
	))
	defer span.End()

	t, err := o.tasks.Create(ctx, taskmanager.CreateParams{
		TaskType:             step.ServiceType,
		InputParameters:      inputParams,
		RequiredCapabilities: []string{string(step.ServiceType)},
		Deadline:             opts.Deadline,
		Budget:               step.Price,
	})
	if err != nil {
		return fmt.Errorf("create task for step %s: %w", step.StepID, err)
	}
	step.TaskID = t.TaskID

	offer, err := o.resolveWorker(ctx, t, step, opts)
	if err != nil {
		return err
	}
	if t, err = o.tasks.AssignWorker(ctx, t.TaskID, offer.Address); err != nil {
		return fmt.Errorf("assign worker for step %s: %w", step.StepID, err)
	}
	step.AssignedWorker = offer.Address
	step.WorkerEndpoint = offer.Endpoint

	workerAddr := common.HexToAddress(offer.Address)
	now := task.Now().Unix()
	duration := time.Duration(opts.Deadline-now) * time.Second
	if duration <= 0 {
		return task.ErrDeadlineExceeded()
	}

	txHash, err := o.chain.DepositTask(ctx, t.TaskIDHash, workerAddr, duration, new(big.Int).SetUint64(step.Price))
	if err != nil {
		return fmt.Errorf("deposit for step %s: %w", step.StepID, err)
	}
	if t, err = o.tasks.RecordEscrowDeposit(ctx, t.TaskID, txHash); err != nil {
		return fmt.Errorf("record deposit for step %s: %w", step.StepID, err)
	}

	validity := opts.DefaultValidity
	if remaining := time.Duration(opts.Deadline-task.Now().Unix()) * time.Second; remaining < validity {
		validity = remaining
	}
	nonce := o.nonceSeq.Add(1)
	payload := o.authz.Generate(t.TaskIDHash, workerAddr, validity, nonce)
	signed, err := o.authz.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign authorization for step %s: %w", step.StepID, err)
	}

	if err := o.worker.authorize(ctx, offer.Endpoint, t.TaskID, inputParams, signed); err != nil {
		return fmt.Errorf("authorize worker for step %s: %w", step.StepID, err)
	}
	if _, err := o.tasks.RecordAuthorization(ctx, t.TaskID, &task.Authorization{
		Signature: signed.Signature,
		Nonce:     signed.Payload.Nonce,
		ExpiresAt: int64(signed.Payload.ExpiresAt),
	}); err != nil {
		return fmt.Errorf("record authorization for step %s: %w", step.StepID, err)
	}
	step.Status = task.StepAuthorized

	if err := o.awaitCompletion(ctx, t.TaskID, offer.Endpoint, opts); err != nil {
		return err
	}

	data, err := o.worker.fetchResult(ctx, offer.Endpoint, t.TaskID)
	if err != nil {
		return fmt.Errorf("fetch result for step %s: %w", step.StepID, err)
	}
	step.Result = data
	step.Status = task.StepCompleted
	return nil
}

// resolveWorker prefers a fresh C3 selection, falling back to the plan's
// pre-resolved worker only when the directory cannot refresh it — spec
// §4.9 step 1b's "select worker through C3 if the plan's assignment is
// stale".
func (o *Orchestrator) resolveWorker(ctx context.Context, t *task.Task, step *task.Step, opts Options) (*task.Offer, error) {
	offer, err := o.directory.SelectWorker(ctx, t, opts.Strategy, opts.DirectWorker)
	if err == nil {
		return offer, nil
	}
	if step.AssignedWorker == "" || step.WorkerEndpoint == "" {
		return nil, fmt.Errorf("select worker for step %s: %w", step.StepID, err)
	}
	return &task.Offer{Address: step.AssignedWorker, Endpoint: step.WorkerEndpoint}, nil
}

// awaitCompletion polls the worker's proof endpoint (informationally) and
// the task's own status until C9 observes the on-chain TaskCompleted event,
// bounded by opts.Deadline — spec §4.9 step 1f.
func (o *Orchestrator) awaitCompletion(ctx context.Context, taskID, endpoint string, opts Options) error {
	deadline := time.Unix(opts.Deadline, 0)
	ticker := time.NewTicker(opts.ProofPollInterval)
	defer ticker.Stop()

	for {
		t, err := o.tasks.Get(ctx, taskID)
		if err == nil && t.Status == task.StatusCompleted {
			return nil
		}
		if time.Now().After(deadline) {
			return task.ErrProofTimeout()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = o.worker.fetchProof(ctx, endpoint, taskID)
		}
	}
}

// topologicalOrder returns steps reordered so every DependsOn predecessor
// precedes its dependents, rejecting cycles — the same in-degree/no-roots
// check used by C7's planner, adapted from
// services/orchestrator/dag_engine.go's buildDAG.
func topologicalOrder(steps []task.Step) ([]task.Step, error) {
	byID := make(map[string]task.Step, len(steps))
	inDegree := make(map[string]int, len(steps))
	children := make(map[string][]string)
	for _, s := range steps {
		byID[s.StepID] = s
		inDegree[s.StepID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			children[dep] = append(children[dep], s.StepID)
		}
	}

	var queue []string
	for _, s := range steps {
		if inDegree[s.StepID] == 0 {
			queue = append(queue, s.StepID)
		}
	}
	if len(queue) == 0 && len(steps) > 0 {
		return nil, fmt.Errorf("execution plan has circular step dependencies")
	}

	ordered := make([]task.Step, 0, len(steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("execution plan has circular step dependencies")
	}
	return ordered, nil
}

// resolveInput implements spec §4.9 step 1a's four-way InputMapping.
func resolveInput(mapping task.InputMapping, requestParams map[string]any, results map[string]map[string]any) (map[string]any, error) {
	switch mapping.Kind {
	case task.MappingDirect:
		if len(mapping.DirectLiteral) > 0 {
			return mapping.DirectLiteral, nil
		}
		return requestParams, nil

	case task.MappingFromPrevious:
		prior, ok := results[mapping.FromStepID]
		if !ok {
			return nil, fmt.Errorf("missing result for step %s", mapping.FromStepID)
		}
		if mapping.FromField == "" {
			return prior, nil
		}
		v, ok := prior[mapping.FromField]
		if !ok {
			return nil, fmt.Errorf("field %q not present in step %s result", mapping.FromField, mapping.FromStepID)
		}
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{mapping.FromField: v}, nil

	case task.MappingMerge:
		merged := make(map[string]any, len(mapping.MergeSources))
		for _, src := range mapping.MergeSources {
			prior, ok := results[src.StepID]
			if !ok {
				continue
			}
			if src.Field != "" {
				if v, ok := prior[src.Field]; ok {
					merged[src.Field] = v
				}
				continue
			}
			for k, v := range prior {
				merged[k] = v
			}
		}
		return merged, nil

	case task.MappingTransform:
		return nil, fmt.Errorf("transform input mapping %q has no configured transformer", mapping.TransformInstr)

	default:
		return requestParams, nil
	}
}
