// Package contextbuilder implements the Context Builder (spec.md
// §4.10): it partitions the total character budget across named
// sources, runs the expensive ones concurrently, and hands the result
// to the Context Formatter for deterministic rendering.
//
// Grounded on the teacher's internal/agent/warpp.go errgroup.WithContext
// fan-out pattern (parallel stages sharing one cancelable context),
// applied here to the conversation-history search / code search
// concurrency spec.md §5 calls for; the cheap sources (last user
// queries, recent turns, recent L1 summaries) run serially since
// spec.md only asks for concurrency on the two expensive searches.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"hcme/internal/accounting"
	"hcme/internal/codesearch"
	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/retrieval"
	"hcme/internal/turnstore"
)

// Options configures one Build call (spec.md §4.10).
type Options struct {
	SkipCodeSearch    bool
	SkipHistorySearch bool
	WorkingDir        string
	MaxResults        int // cap for the conversation-semantic source
}

// BuildReport records what each source contributed, for observability
// and tests.
type BuildReport struct {
	CharsUsed          map[string]int
	SkippedCodeSearch  bool
	SkippedHistorySearch bool
}

// Builder is the Context Builder.
type Builder struct {
	gw        graphstore.Gateway
	store     *turnstore.Store
	retriever *retrieval.Retriever
	code      *codesearch.Searcher
	cfg       config.Config
}

func New(gw graphstore.Gateway, store *turnstore.Store, retriever *retrieval.Retriever, code *codesearch.Searcher, cfg config.Config) *Builder {
	return &Builder{gw: gw, store: store, retriever: retriever, code: code, cfg: cfg}
}

// Build assembles and renders the prompt context for one user message
// (spec.md §4.10, §4.11).
func (b *Builder) Build(ctx context.Context, conversationID, userMessage string, opts Options) (string, BuildReport, error) {
	var historyHits []retrieval.Hit
	var codeUnits []codesearch.CodeUnit

	g, gctx := errgroup.WithContext(ctx)

	if !opts.SkipHistorySearch && b.retriever != nil {
		g.Go(func() error {
			maxResults := opts.MaxResults
			if maxResults <= 0 {
				maxResults = 20
			}
			hits, err := b.retriever.SearchConversationHistory(gctx, conversationID, userMessage, retrieval.SearchOptions{
				Semantic:     true,
				MaxResults:   maxResults,
				IncludeTurns: true,
			})
			if err != nil {
				return fmt.Errorf("contextbuilder: history search: %w", err)
			}
			historyHits = hits
			return nil
		})
	}

	if !opts.SkipCodeSearch && b.code != nil {
		g.Go(func() error {
			units, err := b.code.Search(gctx, codesearch.Options{
				Query:      userMessage,
				WorkingDir: opts.WorkingDir,
				CharBudget: b.cfg.Budget(b.cfg.CodeSearchPercent),
			})
			if err != nil {
				return fmt.Errorf("contextbuilder: code search: %w", err)
			}
			codeUnits = units
			return nil
		})
	}

	lastQueries, queryChars, err := b.lastUserQueries(ctx, conversationID, b.cfg.Budget(b.cfg.LastUserQueriesPercent))
	if err != nil {
		return "", BuildReport{}, err
	}
	recentTurns, turnChars, err := b.recentTurns(ctx, conversationID, b.cfg.Budget(b.cfg.RecentTurnsPercent))
	if err != nil {
		return "", BuildReport{}, err
	}
	recentL1, l1Chars, err := b.recentL1Summaries(ctx, conversationID, b.cfg.Budget(b.cfg.RecentL1SummariesPercent))
	if err != nil {
		return "", BuildReport{}, err
	}

	if err := g.Wait(); err != nil {
		return "", BuildReport{}, err
	}

	sections := Sections{
		LastUserQueries:     lastQueries,
		RecentTurns:         recentTurns,
		RelevantPastContext: historyHits,
		RelevantCode:        codeUnits,
		RecentL1Summaries:   recentL1,
	}

	rendered := NewFormatter(opts.WorkingDir).Render(sections)

	codeChars := 0
	for _, u := range codeUnits {
		codeChars += len(u.Source)
	}
	historyChars := 0
	for _, h := range historyHits {
		if h.Summary != nil {
			historyChars += h.Summary.Content.CharCount()
		}
		if h.Message != nil {
			historyChars += h.Message.CharCount
		}
	}

	report := BuildReport{
		CharsUsed: map[string]int{
			"last_user_queries":    queryChars,
			"recent_turns":         turnChars,
			"code_semantic":        codeChars,
			"recent_l1_summaries":  l1Chars,
			"conversation_semantic": historyChars,
		},
		SkippedCodeSearch:    opts.SkipCodeSearch,
		SkippedHistorySearch: opts.SkipHistorySearch,
	}
	return rendered, report, nil
}

// lastUserQueries returns user message content in reverse-chronological
// order, truncated against its sub-budget (spec.md §4.10).
func (b *Builder) lastUserQueries(ctx context.Context, conversationID string, budget int) ([]string, int, error) {
	records, err := b.store.GetMessages(ctx, conversationID, 0, false)
	if err != nil {
		return nil, 0, fmt.Errorf("contextbuilder: last user queries: %w", err)
	}

	var reversed []string
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Message.Role == graphstore.RoleUser {
			reversed = append(reversed, records[i].Message.Content)
		}
	}

	used := 0
	out := make([]string, 0, len(reversed))
	for _, q := range reversed {
		cost := len([]rune(q))
		if budget > 0 && used+cost > budget && len(out) > 0 {
			break
		}
		out = append(out, q)
		used += cost
	}
	return out, used, nil
}

// recentTurns returns the most recent full turn objects in chronological
// order (oldest first), truncated against its sub-budget (spec.md §4.10).
func (b *Builder) recentTurns(ctx context.Context, conversationID string, budget int) ([]accounting.Turn, int, error) {
	records, err := b.store.GetMessages(ctx, conversationID, 0, true)
	if err != nil {
		return nil, 0, fmt.Errorf("contextbuilder: recent turns: %w", err)
	}
	turns := turnstore.MessagesToTurns(records)

	used := 0
	var out []accounting.Turn
	for i := len(turns) - 1; i >= 0; i-- {
		cost := accounting.TurnWeight(turns[i])
		if budget > 0 && used+cost > budget && len(out) > 0 {
			break
		}
		out = append([]accounting.Turn{turns[i]}, out...)
		used += cost
	}
	return out, used, nil
}

// recentL1Summaries returns the most recent L1 summaries regardless of
// L2 consolidation (spec.md §4.10: "Most recent L1s regardless of
// L2-consolidation"), truncated against its sub-budget.
func (b *Builder) recentL1Summaries(ctx context.Context, conversationID string, budget int) ([]graphstore.Summary, int, error) {
	summaries, err := b.gw.ListSummaries(ctx, conversationID, graphstore.Level1)
	if err != nil {
		return nil, 0, fmt.Errorf("contextbuilder: recent l1 summaries: %w", err)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CharRangeStart > summaries[j].CharRangeStart })

	used := 0
	var out []graphstore.Summary
	for _, s := range summaries {
		cost := s.Content.CharCount()
		if budget > 0 && used+cost > budget && len(out) > 0 {
			break
		}
		out = append(out, s)
		used += cost
	}
	return out, used, nil
}
