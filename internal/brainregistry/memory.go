package brainregistry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry for tests.
type MemoryRegistry struct {
	mu       sync.RWMutex
	projects map[string]Project
	locked   map[string]bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{projects: map[string]Project{}, locked: map[string]bool{}}
}

func (m *MemoryRegistry) AddProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *MemoryRegistry) SetLocked(key string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[key] = locked
}

func (m *MemoryRegistry) ListProjects(ctx context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryRegistry) FindProjectByPath(ctx context.Context, path string) (Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Path == path {
			return p, true, nil
		}
	}
	return Project{}, false, nil
}

func (m *MemoryRegistry) GetIngestionLock(projectID string) Lock {
	return &memoryLock{registry: m, key: "ingestion:" + projectID}
}

func (m *MemoryRegistry) GetEmbeddingLock(projectID string) Lock {
	return &memoryLock{registry: m, key: "embedding:" + projectID}
}

type memoryLock struct {
	registry *MemoryRegistry
	key      string
}

func (l *memoryLock) IsLocked(ctx context.Context) (bool, error) {
	l.registry.mu.RLock()
	defer l.registry.mu.RUnlock()
	return l.registry.locked[l.key], nil
}

func (l *memoryLock) WaitForUnlock(ctx context.Context, timeout time.Duration) error {
	locked, _ := l.IsLocked(ctx)
	if !locked {
		return nil
	}
	return context.DeadlineExceeded
}
