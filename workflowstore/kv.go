package workflowstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/natsclient"
	"github.com/c360/journeykit/pkg/cache"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/pkg/retry"
	"github.com/c360/journeykit/workflow"
)

// Bucket is the KV bucket holding workflow definitions
const Bucket = "workflows"

// Version records are immutable once published, so cached entries never
// go stale. Sized for the hot set of concurrently running workflows.
const versionCacheSize = 256

// KV is the Store on NATS JetStream KV. Head records live under
// "head.{id}" and are updated with CAS; version records live under
// "{id}.v{n}" and are written once.
type KV struct {
	store    *natsclient.KVStore
	clock    clock.Clock
	versions *cache.LRU[*workflow.Definition]
}

// KVOption configures a KV store
type KVOption func(*KV)

// WithKVClock injects a clock for deterministic timestamps
func WithKVClock(c clock.Clock) KVOption {
	return func(s *KV) { s.clock = c }
}

// NewKV wraps a KV store over the workflow bucket
func NewKV(store *natsclient.KVStore, opts ...KVOption) *KV {
	versions, _ := cache.NewLRU[*workflow.Definition](versionCacheSize)
	s := &KV{store: store, clock: clock.System(), versions: versions}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func headKey(workflowID string) string {
	return "head." + workflowID
}

// Publish validates and stores the definition as the next version
func (s *KV) Publish(ctx context.Context, def *workflow.Definition) (*workflow.Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var published *workflow.Definition
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	err := s.store.UpdateWithRetry(ctx, headKey(def.ID), func(current []byte) ([]byte, error) {
		stored := *def
		if current != nil {
			var head workflow.Definition
			if err := json.Unmarshal(current, &head); err != nil {
				return nil, retry.NonRetryable(fmt.Errorf("unmarshal head: %w", err))
			}
			stored.Version = head.Version + 1
			stored.CreatedAt = head.CreatedAt
		} else {
			stored.Version = 1
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		data, err := json.Marshal(&stored)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}

		// The immutable version record is written first so a head that
		// references it can always resolve.
		versionKey := workflow.VersionKey(stored.ID, stored.Version)
		if _, err := s.store.Create(ctx, versionKey, data); err != nil &&
			!stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return nil, retry.NonRetryable(fmt.Errorf("write version record: %w", err))
		}

		published = &stored
		return data, nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KV", "Publish", "publish definition")
	}
	return published, nil
}

// Get returns the head version of the workflow
func (s *KV) Get(ctx context.Context, workflowID string) (*workflow.Definition, error) {
	entry, err := s.store.Get(ctx, headKey(workflowID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrVersionNotFound, workflowID)
		}
		return nil, errors.WrapTransient(err, "KV", "Get", "read head")
	}

	var def workflow.Definition
	if err := json.Unmarshal(entry.Value, &def); err != nil {
		return nil, errors.WrapFatal(err, "KV", "Get", "unmarshal definition")
	}
	return &def, nil
}

// GetVersion returns one immutable published version. Callers share the
// cached definition and must treat it as read-only.
func (s *KV) GetVersion(ctx context.Context, workflowID string, version int) (*workflow.Definition, error) {
	key := workflow.VersionKey(workflowID, version)
	if def, ok := s.versions.Get(key); ok {
		return def, nil
	}

	entry, err := s.store.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s v%d", errors.ErrVersionNotFound, workflowID, version)
		}
		return nil, errors.WrapTransient(err, "KV", "GetVersion", "read version")
	}

	var def workflow.Definition
	if err := json.Unmarshal(entry.Value, &def); err != nil {
		return nil, errors.WrapFatal(err, "KV", "GetVersion", "unmarshal definition")
	}
	s.versions.Set(key, &def)
	return &def, nil
}

// UpdateStatus transitions the workflow's lifecycle status via CAS
func (s *KV) UpdateStatus(ctx context.Context, workflowID string, to workflow.Status) error {
	err := s.store.UpdateWithRetry(ctx, headKey(workflowID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrVersionNotFound, workflowID)
		}

		var head workflow.Definition
		if err := json.Unmarshal(current, &head); err != nil {
			return nil, retry.NonRetryable(fmt.Errorf("unmarshal head: %w", err))
		}
		if !head.Status.CanTransition(to) {
			return nil, fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, head.Status, to)
		}

		head.Status = to
		head.UpdatedAt = s.clock.Now().UTC().Truncate(time.Millisecond)
		return json.Marshal(&head)
	})
	if err != nil {
		for _, sentinel := range []error{errors.ErrVersionNotFound, errors.ErrInvalidTransition} {
			if stderrors.Is(err, sentinel) {
				return sentinel
			}
		}
		return errors.WrapTransient(err, "KV", "UpdateStatus", "update head")
	}
	return nil
}

// List returns the head version of every stored workflow
func (s *KV) List(ctx context.Context) ([]*workflow.Definition, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KV", "List", "list keys")
	}

	var out []*workflow.Definition
	for _, key := range keys {
		if !strings.HasPrefix(key, "head.") {
			continue
		}
		def, err := s.Get(ctx, strings.TrimPrefix(key, "head."))
		if err != nil {
			if stderrors.Is(err, errors.ErrVersionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}
