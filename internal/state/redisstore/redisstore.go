// Package redisstore is a Redis-backed, multi-process state.Store. Each
// workflow keeps one key per version (P:<workflow_id>:vN) plus a
// metadata key (P:<workflow_id>:metadata) holding the current version
// number, updated transactionally via WATCH/MULTI so two executors racing
// to advance the same workflow can't silently overwrite each other.
// Locking uses SET NX PX under P:lock:<workflow_id>, the same pattern the
// teacher's Pulse client layers on top of for its own consumer-group
// coordination.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// Store is a Redis-backed implementation of state.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ state.Store = (*Store)(nil)

// New returns a Store backed by rdb. prefix namespaces keys (e.g. "P" to
// match the spec's key layout P:<workflow_id>:...); it defaults to "P".
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "P"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) metaKey(workflowID string) string {
	return fmt.Sprintf("%s:%s:metadata", s.prefix, workflowID)
}

func (s *Store) versionKey(workflowID string, version int) string {
	return fmt.Sprintf("%s:%s:v%d", s.prefix, workflowID, version)
}

func (s *Store) lockKey(workflowID string) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, workflowID)
}

// indexKey names the set of every workflow id with recorded state, so List
// doesn't need a KEYS/SCAN sweep.
func (s *Store) indexKey() string {
	return fmt.Sprintf("%s:index", s.prefix)
}

type metaDoc struct {
	Version int `json:"version"`
}

// Save performs an optimistic-locking append: it watches the metadata key,
// verifies its version equals expectedVersion, and transactionally writes
// the new version plus the bumped metadata.
func (s *Store) Save(ctx context.Context, workflowID string, expectedVersion int, value types.StateVersion) error {
	metaKey := s.metaKey(workflowID)

	txf := func(tx *redis.Tx) error {
		current, err := readMeta(ctx, tx, metaKey)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return state.ErrVersionConflict
		}

		value.WorkflowID = workflowID
		value.Version = current + 1
		value.CreatedAt = time.Now()

		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("redisstore: marshal state version: %w", err)
		}
		meta, err := json.Marshal(metaDoc{Version: value.Version})
		if err != nil {
			return fmt.Errorf("redisstore: marshal metadata: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.versionKey(workflowID, value.Version), payload, 0)
			pipe.Set(ctx, metaKey, meta, 0)
			pipe.SAdd(ctx, s.indexKey(), workflowID)
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, metaKey)
	if err == redis.TxFailedErr {
		return state.ErrVersionConflict
	}
	return err
}

// SaveAt writes sv at its own Version, overwriting any existing key for
// that version, and makes it current regardless of the store's prior
// current version (spec §4.5 restore path).
func (s *Store) SaveAt(ctx context.Context, workflowID string, sv types.StateVersion) error {
	sv.WorkflowID = workflowID
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(sv)
	if err != nil {
		return fmt.Errorf("redisstore: marshal state version: %w", err)
	}
	meta, err := json.Marshal(metaDoc{Version: sv.Version})
	if err != nil {
		return fmt.Errorf("redisstore: marshal metadata: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.versionKey(workflowID, sv.Version), payload, 0)
		pipe.Set(ctx, s.metaKey(workflowID), meta, 0)
		pipe.SAdd(ctx, s.indexKey(), workflowID)
		return nil
	})
	return err
}

// Update merges patch onto the latest state and saves it, retrying the CAS
// if a concurrent writer raced ahead.
func (s *Store) Update(ctx context.Context, workflowID string, patch value.Value) (int, error) {
	return state.RunUpdate(ctx, func(ctx context.Context) (*types.StateVersion, error) {
		return s.Load(ctx, workflowID)
	}, func(ctx context.Context, expectedVersion int, sv types.StateVersion) error {
		return s.Save(ctx, workflowID, expectedVersion, sv)
	}, workflowID, patch)
}

// History returns every recorded version for workflowID, oldest first,
// tolerating version keys whose TTL has already expired.
func (s *Store) History(ctx context.Context, workflowID string) ([]types.StateVersion, error) {
	current, err := readMetaDirect(ctx, s.rdb, s.metaKey(workflowID))
	if err != nil {
		return nil, err
	}
	out := make([]types.StateVersion, 0, current)
	for v := 1; v <= current; v++ {
		sv, err := s.LoadVersion(ctx, workflowID, v)
		if err == state.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, nil
}

// Delete removes every recorded version of workflowID plus its metadata.
func (s *Store) Delete(ctx context.Context, workflowID string) error {
	current, err := readMetaDirect(ctx, s.rdb, s.metaKey(workflowID))
	if err != nil {
		return err
	}
	keys := make([]string, 0, current+1)
	for v := 1; v <= current; v++ {
		keys = append(keys, s.versionKey(workflowID, v))
	}
	keys = append(keys, s.metaKey(workflowID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", workflowID, err)
	}
	return s.rdb.SRem(ctx, s.indexKey(), workflowID).Err()
}

// List returns every workflow id with recorded state.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list workflows: %w", err)
	}
	return ids, nil
}

func readMeta(ctx context.Context, tx *redis.Tx, metaKey string) (int, error) {
	raw, err := tx.Get(ctx, metaKey).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisstore: read metadata: %w", err)
	}
	var doc metaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("redisstore: decode metadata: %w", err)
	}
	return doc.Version, nil
}

func (s *Store) Load(ctx context.Context, workflowID string) (*types.StateVersion, error) {
	current, err := readMetaDirect(ctx, s.rdb, s.metaKey(workflowID))
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return nil, state.ErrNotFound
	}
	return s.LoadVersion(ctx, workflowID, current)
}

func readMetaDirect(ctx context.Context, rdb *redis.Client, metaKey string) (int, error) {
	raw, err := rdb.Get(ctx, metaKey).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisstore: read metadata: %w", err)
	}
	var doc metaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("redisstore: decode metadata: %w", err)
	}
	return doc.Version, nil
}

func (s *Store) LoadVersion(ctx context.Context, workflowID string, version int) (*types.StateVersion, error) {
	raw, err := s.rdb.Get(ctx, s.versionKey(workflowID, version)).Bytes()
	if err == redis.Nil {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: read version: %w", err)
	}
	var sv types.StateVersion
	if err := json.Unmarshal(raw, &sv); err != nil {
		return nil, fmt.Errorf("redisstore: decode version: %w", err)
	}
	return &sv, nil
}

// Lock acquires a TTL-bounded distributed lock via SET NX PX, spinning with
// a short sleep until acquired or ctx/ttl expire. The release func deletes
// the key only if it still holds the token it set, using a Lua
// compare-and-delete (releaseScript) so the check and the delete are atomic.
func (s *Store) Lock(ctx context.Context, workflowID string, ttl time.Duration) (func(context.Context), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := s.lockKey(workflowID)
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: acquire lock: %w", err)
		}
		if ok {
			return func(releaseCtx context.Context) {
				releaseIfOwned(releaseCtx, s.rdb, key, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

func releaseIfOwned(ctx context.Context, rdb *redis.Client, key, token string) {
	rdb.Eval(ctx, releaseScript, []string{key}, token)
}
