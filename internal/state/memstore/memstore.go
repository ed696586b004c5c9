// Package memstore is an in-process Store implementation guarded by a
// single mutex: adequate for the in-memory engine and tests, not for a
// multi-process deployment (use state/redisstore or state/mongostore
// there).
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// entry.versions is an append-only log in write order, not indexed by
// version number: SaveAt (snapshot restore) can append a record whose
// Version repeats an earlier one, so Load/LoadVersion search the log
// instead of treating index+1 as the version.
type entry struct {
	versions []types.StateVersion
	locked   bool
}

func (e *entry) currentVersion() int {
	if len(e.versions) == 0 {
		return 0
	}
	return e.versions[len(e.versions)-1].Version
}

// Store is a single-mutex in-memory implementation of state.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var _ state.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) Save(ctx context.Context, workflowID string, expectedVersion int, sv types.StateVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[workflowID]
	if !ok {
		e = &entry{}
		s.entries[workflowID] = e
	}
	current := e.currentVersion()
	if current != expectedVersion {
		return state.ErrVersionConflict
	}
	sv.WorkflowID = workflowID
	sv.Version = current + 1
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now()
	}
	e.versions = append(e.versions, sv)
	return nil
}

// SaveAt appends sv using its own Version field verbatim, making it current
// regardless of the store's prior current version (spec §4.5 restore path).
func (s *Store) SaveAt(ctx context.Context, workflowID string, sv types.StateVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[workflowID]
	if !ok {
		e = &entry{}
		s.entries[workflowID] = e
	}
	sv.WorkflowID = workflowID
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now()
	}
	e.versions = append(e.versions, sv)
	return nil
}

func (s *Store) Load(ctx context.Context, workflowID string) (*types.StateVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[workflowID]
	if !ok || len(e.versions) == 0 {
		return nil, state.ErrNotFound
	}
	v := e.versions[len(e.versions)-1]
	return &v, nil
}

func (s *Store) LoadVersion(ctx context.Context, workflowID string, version int) (*types.StateVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[workflowID]
	if !ok {
		return nil, state.ErrNotFound
	}
	for i := len(e.versions) - 1; i >= 0; i-- {
		if e.versions[i].Version == version {
			v := e.versions[i]
			return &v, nil
		}
	}
	return nil, state.ErrNotFound
}

// Update merges patch onto the latest state and saves it, retrying the CAS
// if a concurrent writer raced ahead (spec §4.5/§8 merge-update atomicity).
func (s *Store) Update(ctx context.Context, workflowID string, patch value.Value) (int, error) {
	return state.RunUpdate(ctx, func(ctx context.Context) (*types.StateVersion, error) {
		return s.Load(ctx, workflowID)
	}, func(ctx context.Context, expectedVersion int, sv types.StateVersion) error {
		return s.Save(ctx, workflowID, expectedVersion, sv)
	}, workflowID, patch)
}

// History returns the full append log for workflowID, oldest first.
func (s *Store) History(ctx context.Context, workflowID string) ([]types.StateVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[workflowID]
	if !ok {
		return nil, nil
	}
	out := make([]types.StateVersion, len(e.versions))
	copy(out, e.versions)
	return out, nil
}

// Delete removes every recorded version of workflowID.
func (s *Store) Delete(ctx context.Context, workflowID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workflowID)
	return nil
}

// List returns every workflow id with recorded state.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if len(e.versions) > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// Lock is cooperative and process-local: it blocks until the workflow's
// flag clears or ctx is cancelled, then re-checks under the mutex.
func (s *Store) Lock(ctx context.Context, workflowID string, ttl time.Duration) (func(context.Context), error) {
	deadline := time.Now().Add(ttl)
	for {
		s.mu.Lock()
		e, ok := s.entries[workflowID]
		if !ok {
			e = &entry{}
			s.entries[workflowID] = e
		}
		if !e.locked {
			e.locked = true
			s.mu.Unlock()
			return func(context.Context) {
				s.mu.Lock()
				e.locked = false
				s.mu.Unlock()
			}, nil
		}
		s.mu.Unlock()

		if ttl > 0 && time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
