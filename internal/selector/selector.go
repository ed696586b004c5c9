// Package selector scores candidate agents for a step and picks a winner
// (spec §4.2): a tiered discovery pass narrows the registry to suitable
// candidates, then capability, load, cost, and health combine into a
// weighted score with a stable tie-break by agent id.
package selector

import (
	"context"
	"sort"
	"strings"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/types"
)

// costDivisor is the spec's fixed cost normalization point: a cost_per_call
// of 0.1 (or more) scores 0 on the cost sub-score, regardless of what other
// candidates in the pool cost.
const costDivisor = 0.1

// Weights configures the relative contribution of each scoring factor.
// Zero-valued Weights falls back to DefaultWeights.
type Weights struct {
	Capability float64
	Load       float64
	Cost       float64
	Health     float64
}

// DefaultWeights matches the spec's suggested default split.
func DefaultWeights() Weights {
	return Weights{Capability: 0.40, Load: 0.25, Cost: 0.20, Health: 0.15}
}

// normalize rescales w so its components sum to 1, per spec §4.2 ("on
// update they must be normalized to sum to 1"). A zero-sum Weights is left
// as-is; callers should use DefaultWeights instead.
func (w Weights) normalize() Weights {
	sum := w.Capability + w.Load + w.Cost + w.Health
	if sum <= 0 {
		return w
	}
	return Weights{
		Capability: w.Capability / sum,
		Load:       w.Load / sum,
		Cost:       w.Cost / sum,
		Health:     w.Health / sum,
	}
}

// LoadTracker reports an agent's current in-flight call count, used to
// compute the load factor as currentLoad/MaxConcurrent.
type LoadTracker interface {
	CurrentLoad(agentID string) int
}

// HealthTracker reports an agent's health score in [0,1], 1 being
// perfectly healthy. The resilience breaker registry does not implement
// it.
type HealthTracker interface {
	Health(agentID string) float64
}

// Options parameterizes one Select call (spec §4.2).
type Options struct {
	// PreferredAgents, if nonempty, restricts discovery to these agent ids
	// (tier (a)); ids that don't exist or aren't suitable are dropped.
	PreferredAgents []string
	// Budget, if set, zeroes the cost sub-score for any candidate whose
	// CostPerCall exceeds it.
	Budget *float64
}

// Selector picks the best agent for a step's required capabilities.
type Selector struct {
	store   registry.Store
	load    LoadTracker
	health  HealthTracker
	weights Weights
}

// New constructs a Selector. load and health may be nil, in which case load
// is treated as 0 and health as 1 for every candidate.
func New(store registry.Store, load LoadTracker, health HealthTracker, weights Weights) *Selector {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Selector{store: store, load: load, health: health, weights: weights.normalize()}
}

// scored pairs a candidate with its computed score for sorting.
type scored struct {
	agent *types.AgentRecord
	score float64
}

// requiredCapabilities is the union of a step's explicit
// CapabilitiesRequired, its raw AgentType string, and — if AgentType ends
// in "_agent" — the stripped form (spec §4.2).
func requiredCapabilities(step *types.Step) []string {
	seen := make(map[string]struct{}, len(step.CapabilitiesRequired)+2)
	var out []string
	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, c := range step.CapabilitiesRequired {
		add(c)
	}
	add(step.AgentType)
	if strings.HasSuffix(step.AgentType, "_agent") {
		add(strings.TrimSuffix(step.AgentType, "_agent"))
	}
	return out
}

// isSuitable matches spec §4.2's definition: active, and either the agent's
// id matches the step's agent type or it advertises at least one required
// capability.
func isSuitable(a *types.AgentRecord, agentType string, required []string) bool {
	if a.Status != types.AgentActive {
		return false
	}
	if a.ID == agentType {
		return true
	}
	for _, c := range required {
		if a.HasCapability(c) {
			return true
		}
	}
	return false
}

// discover implements the tiered candidate search (spec §4.2):
// (a) explicit preferred_agents, filtered to suitable ones;
// (b) active agents whose id equals the agent type, is a prefix of it, or
// whose capability set contains it;
// (c) per required-capability tag, every active agent advertising it.
func (s *Selector) discover(ctx context.Context, step *types.Step, opts Options) ([]*types.AgentRecord, error) {
	required := requiredCapabilities(step)

	if len(opts.PreferredAgents) > 0 {
		var out []*types.AgentRecord
		for _, id := range opts.PreferredAgents {
			a, err := s.store.Get(ctx, id)
			if err != nil {
				continue
			}
			if isSuitable(a, step.AgentType, required) {
				out = append(out, a)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	all, err := s.store.List(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.KindSelection, step.ID, "failed to query agent registry", err)
	}

	var tierB []*types.AgentRecord
	for _, a := range all {
		if a.Status != types.AgentActive {
			continue
		}
		if a.ID == step.AgentType || strings.HasPrefix(step.AgentType, a.ID) || a.HasCapability(step.AgentType) {
			tierB = append(tierB, a)
		}
	}
	if len(tierB) > 0 {
		return tierB, nil
	}

	seen := make(map[string]struct{})
	var tierC []*types.AgentRecord
	for _, tag := range required {
		for _, a := range all {
			if a.Status != types.AgentActive || !a.HasCapability(tag) {
				continue
			}
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			tierC = append(tierC, a)
		}
	}
	return tierC, nil
}

// Select returns the winning agent for step, honoring opts's discovery and
// budget constraints, or a KindSelection error if no candidate is suitable.
func (s *Selector) Select(ctx context.Context, step *types.Step, opts Options) (*types.AgentRecord, error) {
	candidates, err := s.discover(ctx, step, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errs.New(errs.KindSelection, step.ID, "no active agent advertises the required capabilities", nil)
	}

	required := requiredCapabilities(step)
	scoredSet := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scoredSet = append(scoredSet, scoredEntry(c, s.capabilityFactor(c, required), s.loadFactor(c), s.costFactor(c, opts), s.healthFactor(c), s.weights))
	}

	sort.SliceStable(scoredSet, func(i, j int) bool {
		if scoredSet[i].score != scoredSet[j].score {
			return scoredSet[i].score > scoredSet[j].score
		}
		return scoredSet[i].agent.ID < scoredSet[j].agent.ID
	})
	return scoredSet[0].agent, nil
}

func scoredEntry(agent *types.AgentRecord, capabilityFactor, loadFactor, costFactor, healthFactor float64, w Weights) scored {
	score := w.Capability*capabilityFactor + w.Load*loadFactor + w.Cost*costFactor + w.Health*healthFactor
	return scored{agent: agent, score: score}
}

// capabilityFactor is the fraction of required capabilities the agent
// advertises; 1 if none are required.
func (s *Selector) capabilityFactor(a *types.AgentRecord, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	for _, c := range required {
		if a.HasCapability(c) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func (s *Selector) loadFactor(a *types.AgentRecord) float64 {
	if s.load == nil || a.MaxConcurrent <= 0 {
		return 1
	}
	cur := s.load.CurrentLoad(a.ID)
	f := float64(cur) / float64(a.MaxConcurrent)
	return 1 - clamp01(f)
}

func (s *Selector) healthFactor(a *types.AgentRecord) float64 {
	if s.health == nil {
		return 1
	}
	return clamp01(s.health.Health(a.ID))
}

// costFactor uses the spec's fixed divisor rather than normalizing against
// sibling candidates, so a single agent's cost score is stable regardless
// of who else happens to be in the pool.
func (s *Selector) costFactor(a *types.AgentRecord, opts Options) float64 {
	if opts.Budget != nil && a.CostPerCall > *opts.Budget {
		return 0
	}
	return 1 - clamp01(a.CostPerCall/costDivisor)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
