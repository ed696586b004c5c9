// Package snapshot manages named checkpoints over a state.Store: a
// checkpoint pins a workflow's state at a given version under a name, so
// restore can later rewind the workflow to that exact state without
// disturbing the version history in between.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/types"
)

// ErrNotFound means no checkpoint exists under the given name.
var ErrNotFound = errors.New("snapshot: checkpoint not found")

// Store persists Checkpoint records, independent of the state.Store the
// checkpoints point into. MemoryStore is process-local; a durable
// deployment can back this with the same redisstore/mongostore key space
// (P:snapshot:<workflow>:<name> and P:snapshot:workflow:<id>).
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, workflowID, name string) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, workflowID, name string) error
}

// MemoryStore is an in-process Store guarded by a single mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*types.Checkpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*types.Checkpoint)}
}

func key(workflowID, name string) string { return workflowID + "\x00" + name }

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *cp
	m.byKey[key(cp.WorkflowID, cp.Name)] = &cpy
	return nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, workflowID, name string) (*types.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.byKey[key(workflowID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *cp
	return &cpy, nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context, workflowID string) ([]*types.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Checkpoint
	for _, cp := range m.byKey {
		if cp.WorkflowID == workflowID {
			cpy := *cp
			out = append(out, &cpy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, workflowID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(workflowID, name)
	if _, ok := m.byKey[k]; !ok {
		return ErrNotFound
	}
	delete(m.byKey, k)
	return nil
}

// RetentionPolicy bounds how many checkpoints Cleanup keeps for a
// workflow. KeepNewest ≤ 0 disables the count-based rule; OlderThan ≤ 0
// disables the age-based rule. Both may be set; a checkpoint is deleted
// if either rule marks it for removal.
type RetentionPolicy struct {
	KeepNewest int
	OlderThan  time.Duration
}

// Manager creates, restores, lists, and prunes checkpoints over a
// state.Store.
type Manager struct {
	states      state.Store
	checkpoints Store
}

// New returns a Manager layering checkpoints over states.
func New(states state.Store, checkpoints Store) *Manager {
	return &Manager{states: states, checkpoints: checkpoints}
}

// Create snapshots the workflow's current state under name.
func (m *Manager) Create(ctx context.Context, workflowID, name string, metadata map[string]string) (*types.Checkpoint, error) {
	latest, err := m.states.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load current state for %q: %w", workflowID, err)
	}
	cp := &types.Checkpoint{
		Name:       name,
		WorkflowID: workflowID,
		Version:    latest.Version,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
	if err := m.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("snapshot: save checkpoint %q for %q: %w", name, workflowID, err)
	}
	return cp, nil
}

// Restore writes the checkpoint's captured state back as the current
// state, at the checkpoint's original version (not as a new version), per
// the state.Store contract's explicit-version Save path.
func (m *Manager) Restore(ctx context.Context, workflowID, name string) (*types.StateVersion, error) {
	cp, err := m.checkpoints.GetCheckpoint(ctx, workflowID, name)
	if err != nil {
		return nil, err
	}
	captured, err := m.states.LoadVersion(ctx, workflowID, cp.Version)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load captured version %d for %q: %w", cp.Version, workflowID, err)
	}
	if err := m.states.SaveAt(ctx, workflowID, *captured); err != nil {
		return nil, fmt.Errorf("snapshot: restore version %d for %q: %w", cp.Version, workflowID, err)
	}
	return captured, nil
}

// List returns the workflow's checkpoints newest-first.
func (m *Manager) List(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	return m.checkpoints.ListCheckpoints(ctx, workflowID)
}

// Cleanup deletes checkpoints for workflowID that fall outside policy,
// returning the names it removed.
func (m *Manager) Cleanup(ctx context.Context, workflowID string, policy RetentionPolicy) ([]string, error) {
	all, err := m.checkpoints.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	// ListCheckpoints already returns newest-first.
	var toDelete []*types.Checkpoint
	now := time.Now()
	for i, cp := range all {
		byCount := policy.KeepNewest > 0 && i >= policy.KeepNewest
		byAge := policy.OlderThan > 0 && now.Sub(cp.CreatedAt) > policy.OlderThan
		if byCount || byAge {
			toDelete = append(toDelete, cp)
		}
	}

	removed := make([]string, 0, len(toDelete))
	for _, cp := range toDelete {
		if err := m.checkpoints.DeleteCheckpoint(ctx, workflowID, cp.Name); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, fmt.Errorf("snapshot: delete checkpoint %q for %q: %w", cp.Name, workflowID, err)
		}
		removed = append(removed, cp.Name)
	}
	return removed, nil
}
