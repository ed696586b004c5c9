// Package registry is the agent catalog the Selector queries (spec §4.2):
// agents are saved as AgentRecords, List filters them by capability, and a
// heartbeat sweep demotes agents that stop reporting liveness (spec
// SPEC_FULL §C, supplementing the distilled spec's registry with the
// staleness detail the original implementation enforced).
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/types"
)

// ErrNotFound is returned when an agent id is not present in the registry.
var ErrNotFound = errors.New("registry: agent not found")

// Store is the registry's persistence interface, implemented in-memory here
// and mirrored by the durable state stores' own backends for other
// concerns.
type Store interface {
	Save(ctx context.Context, rec *types.AgentRecord) error
	Get(ctx context.Context, id string) (*types.AgentRecord, error)
	Delete(ctx context.Context, id string) error
	// List returns every registered agent, optionally filtered to those
	// advertising every capability in caps.
	List(ctx context.Context, caps []string) ([]*types.AgentRecord, error)
}

// MemoryStore is an in-memory, concurrency-safe Store.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*types.AgentRecord
}

var _ Store = (*MemoryStore)(nil)

// New returns an empty in-memory registry.
func New() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*types.AgentRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, rec *types.AgentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, caps []string) ([]*types.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		if matchesCapabilities(rec, caps) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchesCapabilities(rec *types.AgentRecord, caps []string) bool {
	for _, c := range caps {
		if !rec.HasCapability(c) {
			return false
		}
	}
	return true
}

// Touch records a heartbeat for id, marking it Active. Agents call this
// periodically; SweepStale demotes agents that stop.
func (s *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	rec.LastHeartbeat = at
	rec.Status = types.AgentActive
	return nil
}

// SweepStale demotes every agent whose last heartbeat is older than
// staleAfter to AgentInactive, returning the ids demoted. The Selector
// treats AgentInactive agents as ineligible candidates (spec §4.2.1).
func (s *MemoryStore) SweepStale(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var demoted []string
	for id, rec := range s.agents {
		if rec.Status != types.AgentActive {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > staleAfter {
			rec.Status = types.AgentInactive
			demoted = append(demoted, id)
		}
	}
	return demoted, nil
}

// SearchByName returns agents whose name contains query, case-insensitive,
// for operator-facing lookup tools (grounded on the registry's toolset
// search, generalized to agents).
func (s *MemoryStore) SearchByName(ctx context.Context, query string) ([]*types.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []*types.AgentRecord
	for _, rec := range s.agents {
		if strings.Contains(strings.ToLower(rec.Name), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}
