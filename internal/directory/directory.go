// Package directory implements C3, the Worker Directory: resolves the
// active, eligible worker offers for a task and ranks the survivors by a
// pluggable selection strategy. No teacher file models worker selection
// directly; the filter-then-rank shape follows spec §4.3 in the plain,
// unadorned function style services/orchestrator uses for its own
// decision helpers (see dag_engine.go's topo sort for the nearest analogue
// of "filter, then apply one deterministic rule").
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// Strategy selects among the surviving offers after filtering.
type Strategy string

const (
	StrategyReputation Strategy = "reputation"
	StrategyCheapest   Strategy = "cheapest"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyDirect     Strategy = "direct"
	StrategyWeighted   Strategy = "weighted"
)

// ActiveChecker reports whether a worker address is active on the registry.
type ActiveChecker func(ctx context.Context, address string) (bool, error)

// Directory is C3.
type Directory struct {
	index         CapabilityIndex
	isActive      ActiveChecker
	minReputation int

	weightReputation float64
	weightPrice      float64

	rrMu    sync.Mutex
	rrState map[string]int // groupKey -> next index, process-local per spec §4.3
}

// CapabilityIndex is the subset of C2 this package depends on.
type CapabilityIndex interface {
	Discover() *task.CapabilitySummary
}

// New constructs a Directory. minReputation defaults to 50 per spec §6;
// weightReputation/weightPrice default to 0.7/0.3 for the Weighted strategy.
func New(index CapabilityIndex, isActive ActiveChecker, minReputation int) *Directory {
	return &Directory{
		index:            index,
		isActive:         isActive,
		minReputation:    minReputation,
		weightReputation: 0.7,
		weightPrice:      0.3,
		rrState:          make(map[string]int),
	}
}

// SelectWorker runs the filter pipeline in spec §4.3 order then applies
// strategy on the survivors. directAddress is only consulted for
// StrategyDirect. groupKey defaults to string(t.TaskType) for RoundRobin.
func (d *Directory) SelectWorker(ctx context.Context, t *task.Task, strategy Strategy, directAddress string) (*task.Offer, error) {
	summary := d.index.Discover()
	candidates, ok := summary.ByServiceType[t.TaskType]
	if !ok || len(candidates) == 0 {
		return nil, task.ErrNoWorkerForService(t.TaskType)
	}

	required := requiredCapabilitySet(t)
	survivors := make([]task.Offer, 0, len(candidates))
	for _, offer := range candidates {
		if !offer.IsActive {
			continue
		}
		if d.isActive != nil {
			active, err := d.isActive(ctx, offer.Address)
			if err != nil || !active {
				continue
			}
		}
		if offer.Reputation < d.minReputation {
			continue
		}
		if !offer.HasCapabilities(required) {
			continue
		}
		price, hasPrice := offer.PriceFor(t.TaskType)
		if !hasPrice || price > t.Budget {
			continue
		}
		survivors = append(survivors, offer)
	}

	if len(survivors) == 0 {
		return nil, task.ErrNoEligibleWorker()
	}

	switch strategy {
	case StrategyReputation:
		return selectByReputation(survivors, t.TaskType), nil
	case StrategyCheapest:
		return selectCheapest(survivors, t.TaskType), nil
	case StrategyRoundRobin:
		return d.selectRoundRobin(survivors, string(t.TaskType)), nil
	case StrategyDirect:
		return selectDirect(survivors, directAddress)
	case StrategyWeighted:
		return d.selectWeighted(survivors, t.TaskType), nil
	default:
		return selectByReputation(survivors, t.TaskType), nil
	}
}

func requiredCapabilitySet(t *task.Task) []string {
	set := map[string]bool{string(t.TaskType): true}
	for _, c := range t.RequiredCapabilities {
		set[c] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func selectByReputation(offers []task.Offer, serviceType task.Type) *task.Offer {
	best := offers[0]
	for _, o := range offers[1:] {
		if o.Reputation > best.Reputation {
			best = o
			continue
		}
		if o.Reputation == best.Reputation {
			if cheaperOrEqualThenLexicographic(o, best, serviceType) {
				best = o
			}
		}
	}
	return &best
}

// cheaperOrEqualThenLexicographic breaks a reputation tie by the offer's
// price for the task's own serviceType, then lexicographic address — spec
// §4.3's Reputation tie-break.
func cheaperOrEqualThenLexicographic(candidate, current task.Offer, serviceType task.Type) bool {
	cp, cok := candidate.PriceFor(serviceType)
	up, uok := current.PriceFor(serviceType)
	switch {
	case cok && uok && cp != up:
		return cp < up
	case cok && !uok:
		return true
	case !cok && uok:
		return false
	default:
		return candidate.Address < current.Address
	}
}

func selectCheapest(offers []task.Offer, serviceType task.Type) *task.Offer {
	best := offers[0]
	bestPrice, _ := best.PriceFor(serviceType)
	for _, o := range offers[1:] {
		price, _ := o.PriceFor(serviceType)
		if price < bestPrice || (price == bestPrice && o.Reputation > best.Reputation) {
			best = o
			bestPrice = price
		}
	}
	return &best
}

func (d *Directory) selectRoundRobin(offers []task.Offer, groupKey string) *task.Offer {
	sorted := append([]task.Offer(nil), offers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	d.rrMu.Lock()
	defer d.rrMu.Unlock()
	idx := d.rrState[groupKey] % len(sorted)
	d.rrState[groupKey] = idx + 1
	return &sorted[idx]
}

func selectDirect(offers []task.Offer, address string) (*task.Offer, error) {
	for _, o := range offers {
		if strings.EqualFold(o.Address, address) {
			return &o, nil
		}
	}
	return nil, task.ErrNoEligibleWorker()
}

func (d *Directory) selectWeighted(offers []task.Offer, serviceType task.Type) *task.Offer {
	minRep, maxRep := offers[0].Reputation, offers[0].Reputation
	minPrice, maxPrice := uint64(0), uint64(0)
	first := true
	for _, o := range offers {
		if o.Reputation < minRep {
			minRep = o.Reputation
		}
		if o.Reputation > maxRep {
			maxRep = o.Reputation
		}
		price, _ := o.PriceFor(serviceType)
		if first || price < minPrice {
			minPrice = price
		}
		if first || price > maxPrice {
			maxPrice = price
		}
		first = false
	}

	var best *task.Offer
	var bestScore float64
	for i := range offers {
		o := &offers[i]
		price, _ := o.PriceFor(serviceType)
		r := normalize(float64(o.Reputation), float64(minRep), float64(maxRep))
		p := normalize(float64(maxPrice)-float64(price), 0, float64(maxPrice)-float64(minPrice))
		score := d.weightReputation*r + d.weightPrice*p
		if best == nil || score > bestScore {
			best = o
			bestScore = score
		}
	}
	return best
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}
