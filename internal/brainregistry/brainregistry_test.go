package brainregistry

import (
	"context"
	"testing"
)

func TestTryAcquireBoth_SucceedsWhenNeitherLocked(t *testing.T) {
	reg := NewMemoryRegistry()
	ok, err := TryAcquireBoth(context.Background(), reg.GetIngestionLock("p1"), reg.GetEmbeddingLock("p1"))
	if err != nil {
		t.Fatalf("TryAcquireBoth() error = %v", err)
	}
	if !ok {
		t.Fatalf("TryAcquireBoth() = false, want true")
	}
}

func TestTryAcquireBoth_FailsWhenIngestionLocked(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.SetLocked("ingestion:p1", true)
	ok, err := TryAcquireBoth(context.Background(), reg.GetIngestionLock("p1"), reg.GetEmbeddingLock("p1"))
	if err != nil {
		t.Fatalf("TryAcquireBoth() error = %v", err)
	}
	if ok {
		t.Fatalf("TryAcquireBoth() = true, want false")
	}
}

func TestFindProjectByPath(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.AddProject(Project{ID: "p1", Path: "/workspace/app", Type: "go"})

	p, ok, err := reg.FindProjectByPath(context.Background(), "/workspace/app")
	if err != nil {
		t.Fatalf("FindProjectByPath() error = %v", err)
	}
	if !ok || p.ID != "p1" {
		t.Fatalf("FindProjectByPath() = (%+v, %v), want p1", p, ok)
	}
}
