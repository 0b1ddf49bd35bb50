// Package retrieval implements the Semantic Retriever (spec.md §4.8):
// vector search per requested level with confidence tags, falling back
// to linear cosine similarity when the gateway signals a missing vector
// index.
//
// Grounded on the teacher's internal/rag/retrieve (query.go's budget
// splitting, fusion.go's RRF/score-sort merge pattern) generalized from
// full-text+vector fusion into HCME's level-tagged vector-only merge,
// and on internal/sefii/context_retrieval.go's confidence-tiered
// chunk retrieval.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/herr"
)

// Embedder is the seam the retriever needs for query embedding.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Hit is one retrieved record, level-tagged with its confidence.
type Hit struct {
	ID         string
	Level      int // 0, 1, or 2
	Score      float64
	Confidence float64
	Message    *graphstore.Message // set for level 0 hits when include_turns is true
	Summary    *graphstore.Summary // set for level 1/2 hits
}

// SearchOptions configures search_conversation_history (spec.md §4.8).
type SearchOptions struct {
	Semantic     bool
	Levels       []int // subset of {0, 1, 2}; empty means all three
	MaxResults   int
	MinScore     float64
	IncludeTurns bool
}

// Retriever is the Semantic Retriever.
type Retriever struct {
	gw    graphstore.Gateway
	embed Embedder
	cfg   config.Config
}

func New(gw graphstore.Gateway, embed Embedder, cfg config.Config) *Retriever {
	return &Retriever{gw: gw, embed: embed, cfg: cfg}
}

// SearchConversationHistory is the Semantic Retriever's public
// operation (spec.md §4.8).
func (r *Retriever) SearchConversationHistory(ctx context.Context, conversationID, query string, opts SearchOptions) ([]Hit, error) {
	if !opts.Semantic {
		return nil, nil // spec.md §4.8: "text search is not part of the core"
	}
	if r.embed == nil {
		return nil, nil // spec.md §4.8: "no provider configured ... return empty rather than raising"
	}

	vector, err := r.embed.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, nil
	}

	levels := opts.Levels
	if len(levels) == 0 {
		levels = []int{0, 1, 2}
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	topK := 3 * maxResults
	if topK > 100 {
		topK = 100
	}

	var all []Hit
	for _, level := range levels {
		hits, err := r.searchLevel(ctx, conversationID, level, vector, topK, opts.MinScore)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > maxResults {
		all = all[:maxResults]
	}

	if opts.IncludeTurns {
		if err := r.attachRecords(ctx, conversationID, all); err != nil {
			return nil, err
		}
	}

	return all, nil
}

func (r *Retriever) searchLevel(ctx context.Context, conversationID string, level int, vector []float32, topK int, minScore float64) ([]Hit, error) {
	indexName, confidence, filter := r.levelQuery(conversationID, level)

	vectorHits, err := r.gw.VectorQuery(ctx, indexName, vector, topK, filter)
	if err != nil {
		if errors.Is(err, herr.ErrVectorIndexNotFound) {
			return r.linearFallback(ctx, conversationID, level, vector, topK, minScore, confidence)
		}
		return nil, fmt.Errorf("retrieval: vector query level %d: %w", level, err)
	}

	hits := make([]Hit, 0, len(vectorHits))
	for _, vh := range vectorHits {
		if vh.Score < minScore {
			continue
		}
		hits = append(hits, Hit{ID: vh.ID, Level: level, Score: vh.Score, Confidence: confidence})
	}
	return hits, nil
}

func (r *Retriever) levelQuery(conversationID string, level int) (indexName string, confidence float64, filter map[string]string) {
	switch level {
	case 0:
		return graphstore.IndexMessageEmbedding, r.cfg.L0Confidence, map[string]string{"conversation_id": conversationID}
	case 1:
		return graphstore.IndexSummaryEmbedding, r.cfg.L1Confidence, map[string]string{"conversation_id": conversationID, "level": "1"}
	default:
		return graphstore.IndexSummaryEmbedding, r.cfg.L2Confidence, map[string]string{"conversation_id": conversationID, "level": "2"}
	}
}

// linearFallback enumerates nodes with embeddings under the conversation
// and computes cosine similarity in-process (spec.md §4.8 fallback
// rule). Both paths return the same record shape.
func (r *Retriever) linearFallback(ctx context.Context, conversationID string, level int, vector []float32, topK int, minScore, confidence float64) ([]Hit, error) {
	label := graphstore.LabelMessage
	var sumLevel graphstore.SummaryLevel
	if level == 1 {
		label, sumLevel = graphstore.LabelSummary, graphstore.Level1
	} else if level == 2 {
		label, sumLevel = graphstore.LabelSummary, graphstore.Level2
	}

	nodes, err := r.gw.NodesWithEmbeddings(ctx, conversationID, label, sumLevel)
	if err != nil {
		return nil, fmt.Errorf("retrieval: nodes with embeddings: %w", err)
	}

	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		score := graphstore.CosineSimilarity(vector, n.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{ID: n.ID, Level: level, Score: score, Confidence: confidence})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// attachRecords fills in Message/Summary bodies for the final truncated
// hit set (deferred until after truncation so only the needed records
// are fetched).
func (r *Retriever) attachRecords(ctx context.Context, conversationID string, hits []Hit) error {
	for i := range hits {
		switch hits[i].Level {
		case 0:
			records, err := r.gw.GetMessages(ctx, conversationID, 0, false)
			if err != nil {
				return fmt.Errorf("retrieval: get messages: %w", err)
			}
			for _, rec := range records {
				if rec.Message.UUID == hits[i].ID {
					m := rec.Message
					hits[i].Message = &m
					break
				}
			}
		default:
			level := graphstore.Level1
			if hits[i].Level == 2 {
				level = graphstore.Level2
			}
			summaries, err := r.gw.ListSummaries(ctx, conversationID, level)
			if err != nil {
				return fmt.Errorf("retrieval: list summaries: %w", err)
			}
			for _, s := range summaries {
				if s.UUID == hits[i].ID {
					sum := s
					hits[i].Summary = &sum
					break
				}
			}
		}
	}
	return nil
}
