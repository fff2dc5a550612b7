package taskmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel/metric"
)

// budgetPolicyModule is the embedded Rego bundle enforcing the
// "budget must be a positive integer" validation rule (spec §7's
// BudgetNonPositive) as a declarative policy decision rather than a
// hand-rolled comparison, adapted from services/policy-service's OPA
// wiring (the teacher loads .rego files from disk; this keeps the single
// policy inline so the module has no runtime filesystem dependency).
const budgetPolicyModule = `
package econos.taskmanager

default allow = false

allow {
	input.budget > 0
}
`

// PolicyEngine wraps a prepared OPA query deciding whether a task's budget
// is admissible, mirroring the teacher's OPAEngine but narrowed to the one
// decision this domain needs (per-taskType structural validation stays in
// schema.go; OPA covers only the cross-cutting budget-admission policy,
// compiled from the budgetPolicyModule constant above).
type PolicyEngine struct {
	mu       sync.Mutex
	query    rego.PreparedEvalQuery
	evalTime metric.Float64Histogram
}

// NewPolicyEngine compiles the embedded budget policy.
func NewPolicyEngine(ctx context.Context, meter metric.Meter) (*PolicyEngine, error) {
	evalTime, _ := meter.Float64Histogram("econos_policy_eval_latency_ms")

	prepared, err := rego.New(
		rego.Query("data.econos.taskmanager.allow"),
		rego.Module("budget.rego", budgetPolicyModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}

	return &PolicyEngine{query: prepared, evalTime: evalTime}, nil
}

// AllowBudget evaluates whether budget passes the admission policy.
func (p *PolicyEngine) AllowBudget(ctx context.Context, budget uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"budget": budget,
	}))
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}
