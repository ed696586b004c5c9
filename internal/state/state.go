// Package state defines the versioned workflow state store (spec §4.5/§6):
// every write creates a new monotonic StateVersion under optimistic
// concurrency control, so two concurrent writers never silently clobber
// each other's state.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// ErrNotFound means the workflow has no recorded state.
var ErrNotFound = errors.New("state: workflow not found")

// ErrVersionConflict means Save's expectedVersion didn't match the store's
// current version — another writer raced ahead.
var ErrVersionConflict = errors.New("state: version conflict")

// Store is the versioned state persistence interface. Implementations:
// memstore (single process), redisstore and mongostore (durable,
// multi-process).
type Store interface {
	// Save appends a new version built from value on top of
	// expectedVersion. Returns ErrVersionConflict if the store's current
	// version is not expectedVersion.
	Save(ctx context.Context, workflowID string, expectedVersion int, value types.StateVersion) error

	// Load returns the latest StateVersion for workflowID, or ErrNotFound.
	Load(ctx context.Context, workflowID string) (*types.StateVersion, error)

	// LoadVersion returns a specific historical version, or ErrNotFound.
	LoadVersion(ctx context.Context, workflowID string, version int) (*types.StateVersion, error)

	// SaveAt writes sv as the exact current version, reusing sv.Version
	// rather than minting current+1. This is the explicit-version write
	// path spec §4.5 reserves for snapshot restore ("writes the captured
	// state back at the captured version, not as a new version").
	SaveAt(ctx context.Context, workflowID string, sv types.StateVersion) error

	// Update loads the latest state (or the empty object if none exists),
	// merges patch on top (patch keys overwrite), and saves the result,
	// retrying the underlying CAS on a concurrent writer until it wins.
	// Returns the new version.
	Update(ctx context.Context, workflowID string, patch value.Value) (int, error)

	// History returns every recorded version for workflowID, oldest first.
	// Durable backends may be missing versions whose TTL has expired;
	// callers must tolerate gaps.
	History(ctx context.Context, workflowID string) ([]types.StateVersion, error)

	// Delete removes every recorded version of workflowID.
	Delete(ctx context.Context, workflowID string) error

	// List returns every workflow id with recorded state.
	List(ctx context.Context) ([]string, error)

	// Lock acquires a distributed, TTL-bounded lock for workflowID so only
	// one executor advances a given workflow at a time. The returned func
	// releases it; callers must defer it.
	Lock(ctx context.Context, workflowID string, ttl time.Duration) (release func(context.Context), err error)
}

// updateRetryLimit bounds Update's optimistic-retry loop so a pathological
// CAS failure (store returning ErrVersionConflict forever) surfaces as an
// error instead of spinning indefinitely.
const updateRetryLimit = 1000

// ErrUpdateRetriesExhausted means Update's CAS retry loop never won.
var ErrUpdateRetriesExhausted = errors.New("state: update retries exhausted")

// RunUpdate implements the shared load-merge-save retry loop each Store
// backend's Update method delegates to: it keeps Save's per-backend CAS
// semantics (mutex for memstore, WATCH for redisstore, unique index for
// mongostore) as the atomicity primitive and only retries the merge on top
// of it, per spec §4.5/§8's "merge-update atomicity" property.
func RunUpdate(ctx context.Context, load func(context.Context) (*types.StateVersion, error), save func(context.Context, int, types.StateVersion) error, workflowID string, patch value.Value) (int, error) {
	for attempt := 0; attempt < updateRetryLimit; attempt++ {
		base := value.Object(map[string]any{})
		baseVersion := 0

		latest, err := load(ctx)
		switch {
		case err == nil:
			base = latest.State
			baseVersion = latest.Version
		case errors.Is(err, ErrNotFound):
			// no recorded state yet: merge onto the empty object
		default:
			return 0, err
		}

		merged := value.Merge(base, patch)
		sv := types.StateVersion{WorkflowID: workflowID, State: merged}
		if err := save(ctx, baseVersion, sv); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return 0, err
		}
		return baseVersion + 1, nil
	}
	return 0, ErrUpdateRetriesExhausted
}
