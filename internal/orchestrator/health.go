package orchestrator

import (
	"context"

	"github.com/taskmesh/orchestrator/internal/state"
)

// ComponentStatus is the tri-state health of one component (spec §6,
// "GET /health returns overall plus per-component status tri-state
// {healthy, degraded, unhealthy}").
type ComponentStatus string

const (
	Healthy   ComponentStatus = "healthy"
	Degraded  ComponentStatus = "degraded"
	Unhealthy ComponentStatus = "unhealthy"
)

// HealthReport is GET /health's payload.
type HealthReport struct {
	Overall    ComponentStatus
	Components map[string]ComponentStatus
}

// Health probes each composed component and reports overall status as the
// worst individual component's status.
func (o *Engine) Health(ctx context.Context) HealthReport {
	components := map[string]ComponentStatus{
		"registry": o.registryHealth(ctx),
		"state":    o.stateHealth(ctx),
		"executor": Healthy, // the executor has no external dependency of its own to probe
	}

	overall := Healthy
	for _, status := range components {
		if status == Unhealthy {
			overall = Unhealthy
			break
		}
		if status == Degraded {
			overall = Degraded
		}
	}
	return HealthReport{Overall: overall, Components: components}
}

func (o *Engine) registryHealth(ctx context.Context) ComponentStatus {
	if _, err := o.agents.List(ctx, nil); err != nil {
		return Unhealthy
	}
	return Healthy
}

func (o *Engine) stateHealth(ctx context.Context) ComponentStatus {
	_, err := o.states.Load(ctx, "__health_probe__")
	if err == nil || err == state.ErrNotFound {
		return Healthy
	}
	return Unhealthy
}
