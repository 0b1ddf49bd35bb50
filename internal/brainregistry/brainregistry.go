// Package brainregistry implements the brain registry contract (spec.md
// §6): project lookup plus the two advisory locks guarding code-semantic
// search (ingestion lock, embedding lock). Backed by Redis SET NX + TTL,
// grounded on the teacher's go.mod dependency on github.com/redis/go-redis/v9
// (used elsewhere in the pack for exactly this kind of short-lived
// advisory lock) generalized into HCME's non-blocking-poll lock seam.
package brainregistry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hcme/internal/herr"
)

// Project is one registered project (spec.md §6: "list_projects() ->
// [{id, path, type}]").
type Project struct {
	ID   string
	Path string
	Type string
}

// Lock is a single advisory lock (spec.md §6: "get_ingestion_lock() /
// get_embedding_lock() each exposing is_locked() and
// wait_for_unlock(timeout)").
type Lock interface {
	IsLocked(ctx context.Context) (bool, error)
	WaitForUnlock(ctx context.Context, timeout time.Duration) error
}

// Registry is the brain registry contract.
type Registry interface {
	ListProjects(ctx context.Context) ([]Project, error)
	FindProjectByPath(ctx context.Context, path string) (Project, bool, error)
	GetIngestionLock(projectID string) Lock
	GetEmbeddingLock(projectID string) Lock
}

// RedisRegistry is the production Registry backed by a single Redis
// client: project metadata lives in a hash per project id, and each lock
// is a SET NX key with a TTL.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

const (
	projectIndexKey = "hcme:projects"
	projectKeyPrefix = "hcme:project:"
)

func (r *RedisRegistry) ListProjects(ctx context.Context) ([]Project, error) {
	ids, err := r.client.SMembers(ctx, projectIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("brainregistry: list project ids: %w", err)
	}
	projects := make([]Project, 0, len(ids))
	for _, id := range ids {
		vals, err := r.client.HGetAll(ctx, projectKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("brainregistry: load project %q: %w", id, err)
		}
		if len(vals) == 0 {
			continue
		}
		projects = append(projects, Project{ID: id, Path: vals["path"], Type: vals["type"]})
	}
	return projects, nil
}

func (r *RedisRegistry) FindProjectByPath(ctx context.Context, path string) (Project, bool, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return Project{}, false, err
	}
	for _, p := range projects {
		if p.Path == path || strings.HasPrefix(path, p.Path+"/") {
			return p, true, nil
		}
	}
	return Project{}, false, nil
}

func (r *RedisRegistry) GetIngestionLock(projectID string) Lock {
	return &redisLock{client: r.client, key: "hcme:lock:ingestion:" + projectID, ttl: r.ttl}
}

func (r *RedisRegistry) GetEmbeddingLock(projectID string) Lock {
	return &redisLock{client: r.client, key: "hcme:lock:embedding:" + projectID, ttl: r.ttl}
}

// redisLock implements Lock as a SET NX key; HCME never holds these
// locks itself (spec.md §5: "No other component acquires locks"), it
// only polls them, so release is intentionally not exposed here.
type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (l *redisLock) IsLocked(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, fmt.Errorf("brainregistry: check lock %q: %w", l.key, err)
	}
	return n > 0, nil
}

// WaitForUnlock polls until the lock clears or the timeout elapses.
// HCME's only caller (Code Searcher) uses a non-blocking poll instead
// (spec.md §5: "obtains both locks in a non-blocking poll"), so this
// exists for completeness of the brain registry contract rather than
// being exercised by the core retrieval path.
func (l *redisLock) WaitForUnlock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		locked, err := l.IsLocked(ctx)
		if err != nil {
			return err
		}
		if !locked {
			return nil
		}
		if time.Now().After(deadline) {
			return herr.ErrLockUnavailable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquireBoth performs the non-blocking poll the Code Searcher uses
// (spec.md §5: "obtains both locks in a non-blocking poll from the
// brain registry; if either is held, it short-circuits to the
// LLM-guided fallback").
func TryAcquireBoth(ctx context.Context, ingestion, embedding Lock) (bool, error) {
	locked, err := ingestion.IsLocked(ctx)
	if err != nil {
		return false, err
	}
	if locked {
		return false, nil
	}
	locked, err = embedding.IsLocked(ctx)
	if err != nil {
		return false, err
	}
	return !locked, nil
}
