package codesearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hcme/internal/brainregistry"
	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/llm"
	"hcme/internal/llmexec"
)

type fakeEmbedder struct {
	vector []float32
}

func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func TestSemanticSearch_UsedWhenProjectRegisteredAndUnlocked(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	reg := brainregistry.NewMemoryRegistry()
	reg.AddProject(brainregistry.Project{ID: "p1", Path: "/workspace/app", Type: "go"})

	vector := []float32{1, 0, 0}
	gw.RegisterScope(graphstore.Scope{
		UUID:      "scope:main.go:1",
		File:      "/workspace/app/main.go",
		StartLine: 1,
		EndLine:   10,
		Name:      "main",
		Type:      "function",
		Source:    "func main() {}\n",
	})
	if err := gw.VectorIndex(graphstore.IndexScopeEmbedding).Upsert(context.Background(), "scope:main.go:1", vector, map[string]string{"project_id": "p1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	s := New(gw, fakeEmbedder{vector: vector}, reg, nil, config.Default())
	units, err := s.Search(context.Background(), Options{Query: "entrypoint", WorkingDir: "/workspace/app"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(units) != 1 || units[0].File != "/workspace/app/main.go" {
		t.Fatalf("units = %+v, want one hit under /workspace/app/main.go", units)
	}
	if units[0].StartLine != 1 || units[0].EndLine != 10 || units[0].Name != "main" || units[0].Type != "function" {
		t.Fatalf("units[0] = %+v, want resolved scope metadata", units[0])
	}
}

func TestSearch_FallsBackWhenProjectLocked(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	reg := brainregistry.NewMemoryRegistry()
	dir := t.TempDir()
	reg.AddProject(brainregistry.Project{ID: "p1", Path: dir, Type: "go"})
	reg.SetLocked("ingestion:p1", true)

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc widgetHandler() {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	provider := &fakeFallbackProvider{}
	exec := llmexec.New(provider, config.Default())
	s := New(gw, fakeEmbedder{}, reg, exec, config.Default())

	units, err := s.Search(context.Background(), Options{Query: "widget handler", WorkingDir: dir})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("units = %+v, want one grep hit", units)
	}
	if units[0].Confidence != config.Default().GrepConfidence {
		t.Fatalf("Confidence = %v, want grep confidence", units[0].Confidence)
	}
}

func TestSearch_FallsBackWhenProjectUnregistered(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	reg := brainregistry.NewMemoryRegistry()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "widget.go"), []byte("func widget() {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	provider := &fakeFallbackProvider{}
	exec := llmexec.New(provider, config.Default())
	s := New(gw, fakeEmbedder{}, reg, exec, config.Default())

	units, err := s.Search(context.Background(), Options{Query: "widget", WorkingDir: dir})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(units) == 0 {
		t.Fatalf("expected at least one fallback hit")
	}
}

func TestIsProjectRootRelated(t *testing.T) {
	cases := []struct {
		name       string
		workingDir string
		root       string
		want       bool
	}{
		{"same", "/a/b", "/a/b", true},
		{"subdirectory", "/a/b/c", "/a/b", true},
		{"ancestor", "/a", "/a/b", true},
		{"unrelated", "/x/y", "/a/b", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isProjectRootRelated(c.workingDir, c.root); got != c.want {
				t.Fatalf("isProjectRootRelated(%q, %q) = %v, want %v", c.workingDir, c.root, got, c.want)
			}
		})
	}
}

// fakeFallbackProvider issues one grep_files tool call, then terminates.
type fakeFallbackProvider struct {
	calls int
}

func (f *fakeFallbackProvider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	if f.calls == 1 {
		return llm.Response{ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "grep_files", Args: map[string]any{"pattern": "widget"}},
		}}, nil
	}
	return llm.Response{Content: "done, inspected the working directory"}, nil
}
