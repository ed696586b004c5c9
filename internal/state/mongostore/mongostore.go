// Package mongostore is a MongoDB-backed, multi-process state.Store. Each
// workflow version is its own document, written with InsertOne under a
// string _id built from the workflow id and version, so _id uniqueness
// doubles as the optimistic concurrency check: two writers racing on the
// same expectedVersion will have exactly one insert succeed and the other
// fail with a duplicate-key error.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

// Store is a MongoDB implementation of state.Store.
type Store struct {
	versions *mongo.Collection
	locks    *mongo.Collection
}

var _ state.Store = (*Store)(nil)

// New creates a Store using the given collections. versions holds one
// document per (workflow, version) plus one current-version pointer
// document per workflow; locks holds one TTL-indexed document per held
// lock. Version uniqueness comes from _id, so versions needs no extra
// index; callers are expected to have created a TTL index on
// locks.expires_at.
func New(versions, locks *mongo.Collection) *Store {
	return &Store{versions: versions, locks: locks}
}

type versionDocument struct {
	ID         string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	Version    int       `bson:"version"`
	State      []byte    `bson:"state"`
	CreatedAt  time.Time `bson:"created_at"`
}

// currentDocument tracks which version is current for a workflow,
// independent of the version documents' own numbering — snapshot restore
// (SaveAt) can move current backward to a version lower than the highest
// one ever written, which a plain max(version) query could not represent.
type currentDocument struct {
	ID         string `bson:"_id"`
	WorkflowID string `bson:"workflow_id"`
	Version    int    `bson:"version"`
}

func docID(workflowID string, version int) string {
	return fmt.Sprintf("%s:%d", workflowID, version)
}

func currentDocID(workflowID string) string {
	return workflowID + ":__current__"
}

func (s *Store) currentVersion(ctx context.Context, workflowID string) (int, error) {
	var doc currentDocument
	err := s.versions.FindOne(ctx, bson.M{"_id": currentDocID(workflowID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mongostore: read current version for %q: %w", workflowID, err)
	}
	return doc.Version, nil
}

func (s *Store) setCurrentVersion(ctx context.Context, workflowID string, version int) error {
	_, err := s.versions.ReplaceOne(ctx,
		bson.M{"_id": currentDocID(workflowID)},
		currentDocument{ID: currentDocID(workflowID), WorkflowID: workflowID, Version: version},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: set current version for %q: %w", workflowID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, workflowID string, expectedVersion int, sv types.StateVersion) error {
	current, err := s.currentVersion(ctx, workflowID)
	if err != nil {
		return err
	}
	if current != expectedVersion {
		return state.ErrVersionConflict
	}

	raw, err := sv.State.MarshalJSON()
	if err != nil {
		return fmt.Errorf("mongostore: marshal state: %w", err)
	}
	doc := versionDocument{
		ID:         docID(workflowID, current+1),
		WorkflowID: workflowID,
		Version:    current + 1,
		State:      raw,
		CreatedAt:  time.Now(),
	}

	_, err = s.versions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return state.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("mongostore: insert version %d for %q: %w", doc.Version, workflowID, err)
	}
	return s.setCurrentVersion(ctx, workflowID, doc.Version)
}

// SaveAt writes sv at its own Version (replacing any existing document for
// that version) and makes it current, regardless of the store's prior
// current version (spec §4.5 restore path).
func (s *Store) SaveAt(ctx context.Context, workflowID string, sv types.StateVersion) error {
	raw, err := sv.State.MarshalJSON()
	if err != nil {
		return fmt.Errorf("mongostore: marshal state: %w", err)
	}
	doc := versionDocument{
		ID:         docID(workflowID, sv.Version),
		WorkflowID: workflowID,
		Version:    sv.Version,
		State:      raw,
		CreatedAt:  time.Now(),
	}
	if !sv.CreatedAt.IsZero() {
		doc.CreatedAt = sv.CreatedAt
	}
	_, err = s.versions.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: save version %d for %q: %w", sv.Version, workflowID, err)
	}
	return s.setCurrentVersion(ctx, workflowID, sv.Version)
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

// History returns every recorded version for workflowID, oldest first.
func (s *Store) History(ctx context.Context, workflowID string) ([]types.StateVersion, error) {
	current, err := s.currentVersion(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make([]types.StateVersion, 0, current)
	for v := 1; v <= current; v++ {
		sv, err := s.LoadVersion(ctx, workflowID, v)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, nil
}

// Delete removes every recorded version of workflowID plus its current
// version pointer.
func (s *Store) Delete(ctx context.Context, workflowID string) error {
	if _, err := s.versions.DeleteMany(ctx, bson.M{"workflow_id": workflowID}); err != nil {
		return fmt.Errorf("mongostore: delete %q: %w", workflowID, err)
	}
	return nil
}

// List returns every workflow id with recorded state.
func (s *Store) List(ctx context.Context) ([]string, error) {
	cur, err := s.versions.Find(ctx, bson.M{"version": bson.M{"$gt": 0}}, options.Find().SetProjection(bson.M{"workflow_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: list workflows: %w", err)
	}
	defer cur.Close(ctx)

	seen := make(map[string]struct{})
	var out []string
	for cur.Next(ctx) {
		var doc struct {
			WorkflowID string `bson:"workflow_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode workflow id: %w", err)
		}
		if _, ok := seen[doc.WorkflowID]; !ok {
			seen[doc.WorkflowID] = struct{}{}
			out = append(out, doc.WorkflowID)
		}
	}
	return out, cur.Err()
}

func (s *Store) Load(ctx context.Context, workflowID string) (*types.StateVersion, error) {
	current, err := s.currentVersion(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return nil, state.ErrNotFound
	}
	return s.LoadVersion(ctx, workflowID, current)
}

func (s *Store) LoadVersion(ctx context.Context, workflowID string, version int) (*types.StateVersion, error) {
	var doc versionDocument
	err := s.versions.FindOne(ctx, bson.M{"_id": docID(workflowID, version)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: load %q version %d: %w", workflowID, version, err)
	}
	return fromDocument(&doc)
}

func fromDocument(doc *versionDocument) (*types.StateVersion, error) {
	sv := &types.StateVersion{
		WorkflowID: doc.WorkflowID,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
	}
	if err := sv.State.UnmarshalJSON(doc.State); err != nil {
		return nil, fmt.Errorf("mongostore: decode state: %w", err)
	}
	return sv, nil
}

type lockDocument struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Lock acquires a TTL-bounded lock document; the locks collection is
// expected to carry a TTL index on expires_at so abandoned locks are
// reaped by Mongo itself even if release is never called.
func (s *Store) Lock(ctx context.Context, workflowID string, ttl time.Duration) (func(context.Context), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := bson.NewObjectID().Hex()
	deadline := time.Now().Add(ttl)

	for {
		_, err := s.locks.InsertOne(ctx, lockDocument{
			ID:        workflowID,
			Token:     token,
			ExpiresAt: time.Now().Add(ttl),
		})
		if err == nil {
			return func(releaseCtx context.Context) {
				_, _ = s.locks.DeleteOne(releaseCtx, bson.M{"_id": workflowID, "token": token})
			}, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("mongostore: acquire lock for %q: %w", workflowID, err)
		}
		// An existing lock document may have expired server-side lag
		// behind the TTL sweep; try to reclaim it if its own expiry has
		// already passed.
		res, delErr := s.locks.DeleteOne(ctx, bson.M{"_id": workflowID, "expires_at": bson.M{"$lt": time.Now()}})
		if delErr == nil && res.DeletedCount > 0 {
			continue
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
