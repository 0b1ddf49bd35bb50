// Package summarizer implements the two independent summarization state
// machines (spec.md §4.5): L1 summarizes turns, L2 summarizes L1
// summaries, each triggered by a character-budget threshold measured
// from a cursor derived from the latest summary at that level.
//
// Grounded on the teacher's internal/agent/memory/manager.go
// ensureSummary, which likewise walks a message/summary stream against a
// rolling token budget and persists a summary once the budget is
// crossed; HCME generalizes that single-level rolling summarizer into
// two independent level-scoped FSMs driven by character budgets instead
// of token budgets.
package summarizer

import (
	"context"
	"fmt"
	"sort"

	"hcme/internal/accounting"
	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/identity"
	"hcme/internal/turnstore"
)

// Embedder is the minimal embedding seam the summarizer needs; satisfied
// by internal/embedding.Client.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Generator is the Summary Generator seam (spec.md §4.6); satisfied by
// SummaryGenerator (generator.go).
type Generator interface {
	Summarize(ctx context.Context, input GenerationInput) (GenerationOutput, error)
}

// FSM drives both the L1 and L2 triggers for one conversation against a
// shared Gateway, Embedder, Generator and MentionExtractor.
type FSM struct {
	gw        graphstore.Gateway
	store     *turnstore.Store
	embed     Embedder
	generate  Generator
	mentions  *MentionExtractor
	cfg       config.Config
}

func New(gw graphstore.Gateway, store *turnstore.Store, embed Embedder, generate Generator, mentions *MentionExtractor, cfg config.Config) *FSM {
	return &FSM{gw: gw, store: store, embed: embed, generate: generate, mentions: mentions, cfg: cfg}
}

// L1Trigger is the should_create_l1 report (spec.md §4.5.1).
type L1Trigger struct {
	ShouldCreate   bool
	CharRangeStart int
	CharRangeEnd   int
	StartTurnIndex int
	EndTurnIndex   int
	Turns          []accounting.Turn
}

// ShouldCreateL1 streams messages in timestamp order from the L1
// cursor, accumulating turn-weighted characters until the L1 threshold
// is first crossed (spec.md §4.5.1). The loop intentionally stops as
// soon as char_range_end − char_range_start ≥ T1, so the emitted range
// can overshoot T1 slightly (REDESIGN FLAGS: "tests should allow
// current_chars ≥ T1, not equality").
func (f *FSM) ShouldCreateL1(ctx context.Context, conversationID string) (L1Trigger, error) {
	lastEnd, _, err := f.l1Cursor(ctx, conversationID)
	if err != nil {
		return L1Trigger{}, err
	}

	records, err := f.store.GetMessages(ctx, conversationID, 0, true)
	if err != nil {
		return L1Trigger{}, fmt.Errorf("summarizer: get messages: %w", err)
	}
	allTurns := turnstore.MessagesToTurns(records)

	t1 := f.cfg.L1Threshold()
	var selected []accounting.Turn
	pos := 0
	turnIndex := -1
	startTurnIndex, endTurnIndex := -1, -1
	charRangeStart, charRangeEnd := 0, 0
	started := false

	for _, turn := range allTurns {
		turnIndex++
		weight := accounting.TurnWeight(turn)
		posStart := pos
		posEnd := pos + weight
		pos = posEnd

		if posEnd <= lastEnd {
			continue
		}
		if !started {
			charRangeStart = max(lastEnd, posStart)
			startTurnIndex = turnIndex
			started = true
		}
		selected = append(selected, turn)
		endTurnIndex = turnIndex
		charRangeEnd = posEnd

		if charRangeEnd-charRangeStart >= t1 {
			break
		}
	}

	trig := L1Trigger{
		ShouldCreate:   len(selected) >= 1 && (charRangeEnd-charRangeStart) >= t1,
		CharRangeStart: charRangeStart,
		CharRangeEnd:   charRangeEnd,
		StartTurnIndex: startTurnIndex,
		EndTurnIndex:   endTurnIndex,
		Turns:          selected,
	}
	return trig, nil
}

// l1Cursor loads (last_char_end, last_turn_end) from the latest L1
// summary, defaulting to (0, -1) (spec.md §4.5).
func (f *FSM) l1Cursor(ctx context.Context, conversationID string) (int, int, error) {
	latest, ok, err := f.gw.LatestSummary(ctx, conversationID, graphstore.Level1)
	if err != nil {
		return 0, 0, fmt.Errorf("summarizer: latest L1 summary: %w", err)
	}
	if !ok {
		return 0, -1, nil
	}
	return latest.CharRangeEnd, latest.EndTurnIndex, nil
}

// CreateL1 performs the full L1 creation pipeline (spec.md §4.5.2) when
// trig.ShouldCreate is true: it reconstructs turns (already supplied by
// the trigger), calls the Summary Generator, persists the summary with
// its embedding, and creates SUMMARIZES/MENTIONS_FILE edges. Any failing
// step returns an error and leaves no partial state the next invocation
// can't safely retry from (spec.md §4.5.5: deterministic IDs make
// retries safe).
func (f *FSM) CreateL1(ctx context.Context, conversationID string, trig L1Trigger) (graphstore.Summary, error) {
	if !trig.ShouldCreate {
		return graphstore.Summary{}, fmt.Errorf("summarizer: CreateL1 called without a positive trigger")
	}

	gen, err := f.generate.Summarize(ctx, GenerationInput{
		ConversationID: conversationID,
		TargetLevel:    graphstore.Level1,
		Turns:          trig.Turns,
	})
	if err != nil {
		return graphstore.Summary{}, fmt.Errorf("summarizer: generate L1: %w", err)
	}

	extracted := f.mentions.ExtractFromTurns(trig.Turns)
	files, nodes := mergeMentions(extracted, gen.FilesMentioned, gen.NodesMentioned)

	summary := graphstore.Summary{
		UUID:             identity.SummaryID(conversationID, int(graphstore.Level1), trig.StartTurnIndex, trig.EndTurnIndex),
		ConversationID:   conversationID,
		Level:            graphstore.Level1,
		Content:          gen.Content,
		StartTurnIndex:   trig.StartTurnIndex,
		EndTurnIndex:     trig.EndTurnIndex,
		CharRangeStart:   trig.CharRangeStart,
		CharRangeEnd:     trig.CharRangeEnd,
		SummaryCharCount: gen.Content.CharCount(),
	}

	if err := f.persistSummary(ctx, &summary); err != nil {
		return graphstore.Summary{}, err
	}

	targetIDs := messageIDs(trig.Turns)
	if err := f.gw.MergeSummarizesEdges(ctx, summary.UUID, targetIDs); err != nil {
		return graphstore.Summary{}, fmt.Errorf("summarizer: merge SUMMARIZES edges: %w", err)
	}
	if err := f.linkFiles(ctx, summary.UUID, files); err != nil {
		return graphstore.Summary{}, err
	}
	_ = nodes // node mentions are not persisted: only file mentions become edges, and the summary content holds only the generated text.

	return summary, nil
}

// L2Trigger is the should_create_l2 report (spec.md §4.5.3).
type L2Trigger struct {
	ShouldCreate bool
	Selected     []graphstore.Summary
	CurrentChars int
}

// ShouldCreateL2 selects unsummarized L1s (those absent from every L2's
// parent_summaries) ordered by char_range_start, and walks them
// accumulating summary_char_count until the L2 threshold is crossed
// (spec.md §4.5.3).
func (f *FSM) ShouldCreateL2(ctx context.Context, conversationID string) (L2Trigger, error) {
	l1s, err := f.gw.ListSummaries(ctx, conversationID, graphstore.Level1)
	if err != nil {
		return L2Trigger{}, fmt.Errorf("summarizer: list L1 summaries: %w", err)
	}
	l2s, err := f.gw.ListSummaries(ctx, conversationID, graphstore.Level2)
	if err != nil {
		return L2Trigger{}, fmt.Errorf("summarizer: list L2 summaries: %w", err)
	}

	cited := map[string]bool{}
	for _, l2 := range l2s {
		for _, parent := range l2.ParentSummaries {
			cited[parent] = true
		}
	}

	var candidates []graphstore.Summary
	for _, l1 := range l1s {
		if !cited[l1.UUID] {
			candidates = append(candidates, l1)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CharRangeStart < candidates[j].CharRangeStart })

	if len(candidates) < 2 {
		return L2Trigger{ShouldCreate: false}, nil
	}

	t2 := f.cfg.L2Threshold()
	var selected []graphstore.Summary
	accumulated := 0
	for _, c := range candidates {
		selected = append(selected, c)
		accumulated += c.SummaryCharCount
		if accumulated >= t2 {
			break
		}
	}

	return L2Trigger{
		ShouldCreate: len(selected) >= 2 && accumulated >= t2,
		Selected:     selected,
		CurrentChars: accumulated,
	}, nil
}

// CreateL2 mirrors CreateL1 but summarizes L1 summaries into an L2
// summary, with Summary→Summary SUMMARIZES edges and parent_summaries
// set to the selected L1 UUIDs (spec.md §4.5.4).
func (f *FSM) CreateL2(ctx context.Context, conversationID string, trig L2Trigger) (graphstore.Summary, error) {
	if !trig.ShouldCreate {
		return graphstore.Summary{}, fmt.Errorf("summarizer: CreateL2 called without a positive trigger")
	}

	gen, err := f.generate.Summarize(ctx, GenerationInput{
		ConversationID: conversationID,
		TargetLevel:    graphstore.Level2,
		Summaries:      trig.Selected,
	})
	if err != nil {
		return graphstore.Summary{}, fmt.Errorf("summarizer: generate L2: %w", err)
	}

	startTurn := trig.Selected[0].StartTurnIndex
	endTurn := trig.Selected[len(trig.Selected)-1].EndTurnIndex
	charStart := trig.Selected[0].CharRangeStart
	charEnd := trig.Selected[len(trig.Selected)-1].CharRangeEnd

	parentIDs := make([]string, len(trig.Selected))
	for i, s := range trig.Selected {
		parentIDs[i] = s.UUID
	}

	summary := graphstore.Summary{
		UUID:             identity.SummaryID(conversationID, int(graphstore.Level2), startTurn, endTurn),
		ConversationID:   conversationID,
		Level:            graphstore.Level2,
		Content:          gen.Content,
		StartTurnIndex:   startTurn,
		EndTurnIndex:     endTurn,
		CharRangeStart:   charStart,
		CharRangeEnd:     charEnd,
		SummaryCharCount: gen.Content.CharCount(),
		ParentSummaries:  parentIDs,
	}

	if err := f.persistSummary(ctx, &summary); err != nil {
		return graphstore.Summary{}, err
	}
	if err := f.gw.MergeSummarizesEdges(ctx, summary.UUID, parentIDs); err != nil {
		return graphstore.Summary{}, fmt.Errorf("summarizer: merge SUMMARIZES edges: %w", err)
	}

	return summary, nil
}

// persistSummary embeds the combined summary text and stores the
// summary; an embedding failure is non-fatal (spec.md §4.5.5: "the
// summary is still persisted without an embedding").
func (f *FSM) persistSummary(ctx context.Context, summary *graphstore.Summary) error {
	if f.embed != nil {
		text := summary.Content.ConversationSummary + "\n" + summary.Content.ActionsSummary
		if vec, err := f.embed.EmbedSingle(ctx, text); err == nil {
			summary.Embedding = vec
		}
	}
	if err := f.gw.StoreSummary(ctx, *summary); err != nil {
		return fmt.Errorf("summarizer: store summary: %w", err)
	}
	if len(summary.Embedding) > 0 {
		indexName := graphstore.IndexSummaryEmbedding
		if err := f.gw.UpdateEmbedding(ctx, graphstore.LabelSummary, summary.UUID, summary.Embedding); err != nil {
			return fmt.Errorf("summarizer: update embedding flag: %w", err)
		}
		meta := map[string]string{"conversation_id": summary.ConversationID, "level": itoaLevel(summary.Level)}
		if idx, ok := f.vectorIndex(indexName); ok {
			if err := idx.Upsert(ctx, summary.UUID, summary.Embedding, meta); err != nil {
				return fmt.Errorf("summarizer: upsert summary embedding: %w", err)
			}
		}
	}
	return nil
}

// vectorIndex is a narrow seam so FSM can upsert directly into a named
// vector index when the Gateway implementation exposes one; the
// in-memory and Postgres gateways both do via their VectorIndex(name)
// accessor when present.
type vectorIndexProvider interface {
	VectorIndex(name string) graphstore.VectorIndex
}

func (f *FSM) vectorIndex(name string) (graphstore.VectorIndex, bool) {
	p, ok := f.gw.(vectorIndexProvider)
	if !ok {
		return nil, false
	}
	idx := p.VectorIndex(name)
	return idx, idx != nil
}

func (f *FSM) linkFiles(ctx context.Context, summaryID string, files []FileMention) error {
	if len(files) == 0 {
		return nil
	}
	var fileIDs []string
	for _, fm := range files {
		id, ok, err := f.gw.ResolveFile(ctx, fm.Candidates())
		if err != nil {
			return fmt.Errorf("summarizer: resolve file: %w", err)
		}
		if ok {
			fileIDs = append(fileIDs, id)
		}
	}
	if len(fileIDs) == 0 {
		return nil
	}
	if err := f.gw.MergeMentionsFileEdges(ctx, summaryID, fileIDs); err != nil {
		return fmt.Errorf("summarizer: merge MENTIONS_FILE edges: %w", err)
	}
	return nil
}

func messageIDs(turns []accounting.Turn) []string {
	var ids []string
	for _, turn := range turns {
		for _, rec := range turn.Messages {
			ids = append(ids, rec.Message.UUID)
		}
	}
	return ids
}

func itoaLevel(l graphstore.SummaryLevel) string {
	if l == graphstore.Level2 {
		return "2"
	}
	return "1"
}
