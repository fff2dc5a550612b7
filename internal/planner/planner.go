// Package planner implements C7, the Pipeline Planner: turns a natural-
// language request into a validated DAG of steps, each bound to a worker
// offer, with a cost estimate checked against the caller's budget ceiling.
// The external analyzer is consumed only by its input/output contract
// (spec §4.6), exactly as an out-of-scope collaborator. The cycle/graph
// discipline (no roots ⇒ reject) is adapted from
// services/orchestrator/dag_engine.go's buildDAG, narrowed from a full
// concurrent DAG executor to the planner's build-and-validate concern.
package planner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// AnalyzerStep is one step of the analyzer's raw response, per spec §4.6
// step 1's exact field list.
type AnalyzerStep struct {
	Order       int
	ServiceType task.Type
	Description string
	InputSource task.InputSourceKind
	InputField  string
}

// AnalyzerResponse is the external planner's full output contract.
type AnalyzerResponse struct {
	IsSingleAgent bool
	Steps         []AnalyzerStep
	Reasoning     string
	Confidence    float64
}

// Analyzer is the pluggable natural-language decomposition collaborator,
// referenced only by this input/output contract per spec §1's Non-goals.
type Analyzer interface {
	Analyze(ctx context.Context, requestText string, capabilities *task.CapabilitySummary) (*AnalyzerResponse, error)
}

// CapabilityIndex is the subset of C2 this package depends on.
type CapabilityIndex interface {
	Discover() *task.CapabilitySummary
	FindCheapest(serviceType task.Type) (*task.Offer, bool)
	IsServiceAvailable(serviceType task.Type) bool
}

// Options configures one Plan call.
type Options struct {
	MaxBudget uint64 // 0 means unbounded
}

// Planner is C7.
type Planner struct {
	analyzer Analyzer
	index    CapabilityIndex
}

// New constructs a Planner.
func New(analyzer Analyzer, index CapabilityIndex) *Planner {
	return &Planner{analyzer: analyzer, index: index}
}

// Plan runs the full spec §4.6 pipeline: analyze, bind workers, compute
// input mappings, check budget.
func (p *Planner) Plan(ctx context.Context, requestText string, opts Options) (*task.ExecutionPlan, error) {
	capabilities := p.index.Discover()

	analysis, err := p.analyzer.Analyze(ctx, requestText, capabilities)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	if len(analysis.Steps) == 0 {
		return nil, fmt.Errorf("analyzer returned no steps")
	}

	steps := make([]task.Step, 0, len(analysis.Steps))
	var total uint64
	for i, as := range analysis.Steps {
		offer, ok := p.index.FindCheapest(as.ServiceType)
		if !ok {
			return nil, task.ErrNoWorkerForService(as.ServiceType)
		}
		price, _ := offer.PriceFor(as.ServiceType)

		stepID := uuid.NewString()
		mapping := computeInputMapping(as, i, steps)

		steps = append(steps, task.Step{
			StepID:         stepID,
			Order:          as.Order,
			ServiceType:    as.ServiceType,
			Description:    as.Description,
			InputMapping:   mapping,
			AssignedWorker: offer.Address,
			WorkerEndpoint: offer.Endpoint,
			Price:          price,
			Status:         task.StepPending,
		})
		total += price
	}

	// second pass: wire DependsOn from FromPrevious mappings now that every
	// step has its stepID assigned.
	for i := range steps {
		if steps[i].InputMapping.Kind == task.MappingFromPrevious {
			steps[i].DependsOn = []string{steps[i].InputMapping.FromStepID}
		}
	}

	if opts.MaxBudget != 0 && total > opts.MaxBudget {
		return nil, task.ErrBudgetExceeded(total, opts.MaxBudget)
	}

	plan := &task.ExecutionPlan{
		PlanID:          uuid.NewString(),
		Steps:           steps,
		EstimatedBudget: total,
		Reasoning:       analysis.Reasoning,
	}

	if err := p.validateGraph(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func computeInputMapping(as AnalyzerStep, index int, priorSteps []task.Step) task.InputMapping {
	if as.InputSource == task.InputSourceUser || index == 0 {
		return task.InputMapping{Kind: task.MappingDirect}
	}
	prev := priorSteps[index-1]
	return task.InputMapping{
		Kind:        task.MappingFromPrevious,
		FromStepID:  prev.StepID,
		FromField:   as.InputField,
	}
}

// Validate verifies every step's serviceType is currently available and
// every step has a resolved worker — spec §4.6 step 5.
func (p *Planner) Validate(plan *task.ExecutionPlan) error {
	for _, step := range plan.Steps {
		if !p.index.IsServiceAvailable(step.ServiceType) {
			return task.ErrNoWorkerForService(step.ServiceType)
		}
		if step.AssignedWorker == "" {
			return task.ErrNoEligibleWorker()
		}
	}
	return p.validateGraph(plan)
}

// validateGraph rejects plans whose DependsOn edges form a cycle, using
// the same in-degree/no-roots detection as the teacher's buildDAG.
func (p *Planner) validateGraph(plan *task.ExecutionPlan) error {
	byID := make(map[string]*task.Step, len(plan.Steps))
	for i := range plan.Steps {
		byID[plan.Steps[i].StepID] = &plan.Steps[i]
	}

	inDegree := make(map[string]int, len(plan.Steps))
	for _, s := range plan.Steps {
		inDegree[s.StepID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("step %s depends on unknown step %s", s.StepID, dep)
			}
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	if len(queue) == 0 && len(plan.Steps) > 0 {
		return fmt.Errorf("execution plan has circular step dependencies")
	}

	visited := 0
	children := make(map[string][]string)
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			children[dep] = append(children[dep], s.StepID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if visited != len(plan.Steps) {
		return fmt.Errorf("execution plan has circular step dependencies")
	}
	return nil
}

// Optimize re-resolves each step to the current cheapest offer and
// recomputes the total budget — spec §4.6 step 6.
func (p *Planner) Optimize(plan *task.ExecutionPlan) (*task.ExecutionPlan, error) {
	var total uint64
	for i := range plan.Steps {
		offer, ok := p.index.FindCheapest(plan.Steps[i].ServiceType)
		if !ok {
			return nil, task.ErrNoWorkerForService(plan.Steps[i].ServiceType)
		}
		price, _ := offer.PriceFor(plan.Steps[i].ServiceType)
		plan.Steps[i].AssignedWorker = offer.Address
		plan.Steps[i].WorkerEndpoint = offer.Endpoint
		plan.Steps[i].Price = price
		total += price
	}
	plan.EstimatedBudget = total
	return plan, nil
}
