// Package codesearch implements the Code Searcher (spec.md §4.9): a
// semantic path guarded by project/lock checks, and an LLM-guided
// fallback mini-agent when either guard fails.
//
// Grounded on the teacher's internal/sefii (context_retrieval.go's
// scope-boosted candidate ranking) for the semantic path, and
// internal/agent/warpp.go's bounded parallel tool fan-out for the
// fallback mini-agent.
package codesearch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"hcme/internal/brainregistry"
	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/llmexec"
)

// CodeUnit is one retrievable code entity (spec.md §4.9).
type CodeUnit struct {
	File       string
	StartLine  int
	EndLine    int
	Name       string // scope name (function/method/class/...), empty if unresolved
	Source     string
	Type       string // method, function, arrow, class, interface, type, variable, property
	Score      float64
	Confidence float64
}

// Embedder is the query-embedding seam.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the Code Searcher.
type Searcher struct {
	gw       graphstore.Gateway
	embed    Embedder
	registry brainregistry.Registry
	exec     *llmexec.Executor
	cfg      config.Config
}

func New(gw graphstore.Gateway, embed Embedder, registry brainregistry.Registry, exec *llmexec.Executor, cfg config.Config) *Searcher {
	return &Searcher{gw: gw, embed: embed, registry: registry, exec: exec, cfg: cfg}
}

// Options configures one Search call.
type Options struct {
	Query      string
	WorkingDir string
	CharBudget int
}

// Search dispatches to the semantic path when its guard conditions hold,
// otherwise to the LLM-guided fallback (spec.md §4.9).
func (s *Searcher) Search(ctx context.Context, opts Options) ([]CodeUnit, error) {
	project, guardOK, err := s.semanticGuard(ctx, opts.WorkingDir)
	if err != nil {
		return nil, err
	}
	if guardOK {
		units, err := s.semanticSearch(ctx, opts, project)
		if err != nil {
			return nil, err
		}
		return units, nil
	}
	return s.fallbackSearch(ctx, opts)
}

// semanticGuard checks the working directory is the project root, a
// subdirectory, or an ancestor containing the project root, and that
// both advisory locks are free (spec.md §4.9).
func (s *Searcher) semanticGuard(ctx context.Context, workingDir string) (brainregistry.Project, bool, error) {
	if s.registry == nil || workingDir == "" {
		return brainregistry.Project{}, false, nil
	}
	project, found, err := s.registry.FindProjectByPath(ctx, workingDir)
	if err != nil {
		return brainregistry.Project{}, false, fmt.Errorf("codesearch: find project: %w", err)
	}
	if !found {
		projects, err := s.registry.ListProjects(ctx)
		if err != nil {
			return brainregistry.Project{}, false, fmt.Errorf("codesearch: list projects: %w", err)
		}
		for _, p := range projects {
			if isProjectRootRelated(workingDir, p.Path) {
				project, found = p, true
				break
			}
		}
	}
	if !found {
		return brainregistry.Project{}, false, nil
	}

	ok, err := brainregistry.TryAcquireBoth(ctx, s.registry.GetIngestionLock(project.ID), s.registry.GetEmbeddingLock(project.ID))
	if err != nil {
		return brainregistry.Project{}, false, fmt.Errorf("codesearch: lock poll: %w", err)
	}
	return project, ok, nil
}

// isProjectRootRelated reports whether workingDir is the project root, a
// subdirectory of it, or an ancestor containing it.
func isProjectRootRelated(workingDir, projectRoot string) bool {
	wd := filepath.Clean(workingDir)
	root := filepath.Clean(projectRoot)
	if wd == root {
		return true
	}
	if strings.HasPrefix(root+string(filepath.Separator), wd+string(filepath.Separator)) {
		return true // workingDir is an ancestor containing the project root
	}
	if strings.HasPrefix(wd+string(filepath.Separator), root+string(filepath.Separator)) {
		return true // workingDir is a subdirectory of the project root
	}
	return false
}

func (s *Searcher) semanticSearch(ctx context.Context, opts Options, project brainregistry.Project) ([]CodeUnit, error) {
	if s.embed == nil {
		return nil, nil
	}
	vector, err := s.embed.EmbedSingle(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("codesearch: embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, nil
	}

	initialLimit := s.cfg.CodeSearchInitialLimit
	if initialLimit <= 0 {
		initialLimit = 100
	}
	topK := 3 * initialLimit

	hits, err := s.gw.VectorQuery(ctx, graphstore.IndexScopeEmbedding, vector, topK, map[string]string{"project_id": project.ID})
	if err != nil {
		return nil, fmt.Errorf("codesearch: vector query: %w", err)
	}

	units := make([]CodeUnit, 0, len(hits))
	for _, h := range hits {
		unit, ok, err := s.resolveUnit(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("codesearch: resolve scope %q: %w", h.ID, err)
		}
		if !ok {
			continue
		}
		if opts.WorkingDir != "" && !strings.HasPrefix(unit.File, opts.WorkingDir) {
			continue
		}
		boost := s.cfg.TypeBoosts[unit.Type]
		if boost == 0 {
			boost = 1.0
		}
		score := h.Score * boost
		if score > 1.0 {
			score = 1.0
		}
		unit.Score = score
		units = append(units, unit)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Score > units[j].Score })

	budget := opts.CharBudget
	if budget <= 0 {
		budget = s.cfg.Budget(s.cfg.CodeSearchPercent)
	}
	return truncateByCharBudget(units, budget), nil
}

// resolveUnit fetches the full code unit body (file, line range, name,
// type, source) behind a scope_embedding_content_vector hit's id from the
// graph store's Scope nodes — the ingestion pipeline (out of scope per
// spec.md §1) is the only writer of these nodes; the Code Searcher only
// reads them.
func (s *Searcher) resolveUnit(ctx context.Context, id string) (CodeUnit, bool, error) {
	scope, ok, err := s.gw.GetScope(ctx, id)
	if err != nil {
		return CodeUnit{}, false, err
	}
	if !ok {
		return CodeUnit{}, false, nil
	}
	return CodeUnit{
		File:      scope.File,
		StartLine: scope.StartLine,
		EndLine:   scope.EndLine,
		Name:      scope.Name,
		Type:      scope.Type,
		Source:    scope.Source,
	}, true, nil
}

func truncateByCharBudget(units []CodeUnit, budget int) []CodeUnit {
	if budget <= 0 {
		return units
	}
	used := 0
	out := make([]CodeUnit, 0, len(units))
	for _, u := range units {
		cost := len(u.Source)
		if used+cost > budget && len(out) > 0 {
			break
		}
		out = append(out, u)
		used += cost
	}
	return out
}
