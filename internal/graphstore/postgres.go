package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hcme/internal/herr"
)

// PostgresGateway is the production Gateway: a pgx pool backing a
// generic nodes/edges schema plus per-label detail tables, grounded on
// the teacher's internal/persistence/databases/postgres_graph.go
// (nodes/edges tables) and chat_store_postgres.go (typed message
// columns). Vector search is delegated to a set of named VectorIndex
// backends (Qdrant collections in production) rather than modeled as SQL,
// matching spec.md §6's "named vector indexes" contract.
type PostgresGateway struct {
	pool          *pgxpool.Pool
	vectorIndexes map[string]VectorIndex
}

// NewPostgresGateway opens the schema (idempotently) and returns a ready
// Gateway. indexes must be pre-built by the caller (one VectorIndex per
// spec.md §6 index name); a name absent from the map yields
// herr.ErrVectorIndexNotFound on query, so callers may omit an index
// deliberately to exercise the fallback path.
func NewPostgresGateway(ctx context.Context, pool *pgxpool.Pool, indexes map[string]VectorIndex) (*PostgresGateway, error) {
	g := &PostgresGateway{pool: pool, vectorIndexes: indexes}
	if err := g.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("graphstore: ensure schema: %w", err)
	}
	return g, nil
}

func (g *PostgresGateway) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			message_count INT NOT NULL DEFAULT 0,
			total_chars INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			char_count INT NOT NULL DEFAULT 0,
			has_embedding BOOLEAN NOT NULL DEFAULT false,
			embedding REAL[]
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conv_ts ON messages(conversation_id, ts)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT true,
			iteration INT
		)`,
		`CREATE INDEX IF NOT EXISTS tool_calls_message ON tool_calls(message_id)`,
		`CREATE TABLE IF NOT EXISTS tool_results (
			id TEXT PRIMARY KEY,
			tool_call_id TEXT NOT NULL UNIQUE REFERENCES tool_calls(id) ON DELETE CASCADE,
			success BOOLEAN NOT NULL DEFAULT true,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			result_size_bytes INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			level INT NOT NULL,
			conversation_summary TEXT NOT NULL DEFAULT '',
			actions_summary TEXT NOT NULL DEFAULT '',
			start_turn_index INT NOT NULL,
			end_turn_index INT NOT NULL,
			char_range_start INT NOT NULL,
			char_range_end INT NOT NULL,
			summary_char_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			parent_summaries TEXT[] NOT NULL DEFAULT '{}',
			has_embedding BOOLEAN NOT NULL DEFAULT false,
			embedding REAL[]
		)`,
		`CREATE INDEX IF NOT EXISTS summaries_conv_level ON summaries(conversation_id, level, char_range_start)`,
		`CREATE TABLE IF NOT EXISTS summary_edges (
			summary_id TEXT NOT NULL REFERENCES summaries(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL,
			PRIMARY KEY (summary_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS summary_mentions_file (
			summary_id TEXT NOT NULL REFERENCES summaries(id) ON DELETE CASCADE,
			file_id TEXT NOT NULL,
			PRIMARY KEY (summary_id, file_id)
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS scopes (
			id TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			start_line INT NOT NULL DEFAULT 0,
			end_line INT NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, s := range stmts {
		if _, err := g.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (g *PostgresGateway) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO conversations(id, title, tags, created_at, updated_at, message_count, total_chars, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, c.UUID, c.Title, c.Tags, c.CreatedAt, c.UpdatedAt, c.MessageCount, c.TotalChars, string(c.Status))
	return err
}

func (g *PostgresGateway) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := g.pool.QueryRow(ctx, `
SELECT id, title, tags, created_at, updated_at, message_count, total_chars, status
FROM conversations WHERE id=$1`, id)
	var c Conversation
	var status string
	if err := row.Scan(&c.UUID, &c.Title, &c.Tags, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount, &c.TotalChars, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, herr.ErrNotFound
		}
		return Conversation{}, err
	}
	c.Status = ConversationStatus(status)
	return c, nil
}

func (g *PostgresGateway) IncrementCounters(ctx context.Context, conversationID string, charDelta, messageDelta int) error {
	tag, err := g.pool.Exec(ctx, `
UPDATE conversations SET total_chars = total_chars + $2, message_count = message_count + $3, updated_at = now()
WHERE id = $1`, conversationID, charDelta, messageDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return herr.ErrNotFound
	}
	return nil
}

func (g *PostgresGateway) DeleteConversation(ctx context.Context, id string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	return err
}

func (g *PostgresGateway) StoreMessage(ctx context.Context, m Message) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO messages(id, conversation_id, role, content, reasoning, ts, char_count, has_embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, reasoning=EXCLUDED.reasoning, char_count=EXCLUDED.char_count
`, m.UUID, m.ConversationID, string(m.Role), m.Content, m.Reasoning, m.Timestamp, m.CharCount, len(m.Embedding) > 0)
	return err
}

func (g *PostgresGateway) StoreToolCall(ctx context.Context, tc ToolCall) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO tool_calls(id, message_id, tool_name, arguments, ts, duration_ms, success, iteration)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, tc.UUID, tc.MessageID, tc.ToolName, tc.Arguments, tc.Timestamp, tc.DurationMS, tc.Success, tc.Iteration)
	return err
}

func (g *PostgresGateway) StoreToolResult(ctx context.Context, tr ToolResult) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO tool_results(id, tool_call_id, success, result, error, ts, result_size_bytes)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (tool_call_id) DO NOTHING
`, tr.UUID, tr.ToolCallID, tr.Success, tr.Result, tr.Error, tr.Timestamp, tr.ResultSizeBytes)
	return err
}

func (g *PostgresGateway) GetMessages(ctx context.Context, conversationID string, limit int, includeToolCalls bool) ([]MessageRecord, error) {
	q := `SELECT id, conversation_id, role, content, reasoning, ts, char_count FROM messages WHERE conversation_id=$1 ORDER BY ts ASC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = g.pool.Query(ctx, `
SELECT id, conversation_id, role, content, reasoning, ts, char_count FROM (
  SELECT id, conversation_id, role, content, reasoning, ts, char_count FROM messages
  WHERE conversation_id=$1 ORDER BY ts DESC LIMIT $2
) sub ORDER BY ts ASC`, conversationID, limit)
	} else {
		rows, err = g.pool.Query(ctx, q, conversationID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MessageRecord
	var ids []string
	byID := map[string]*MessageRecord{}
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.UUID, &m.ConversationID, &role, &m.Content, &m.Reasoning, &m.Timestamp, &m.CharCount); err != nil {
			return nil, err
		}
		m.Role = MessageRole(role)
		rec := MessageRecord{Message: m}
		records = append(records, rec)
		ids = append(ids, m.UUID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		byID[records[i].Message.UUID] = &records[i]
	}

	if includeToolCalls && len(ids) > 0 {
		tcRows, err := g.pool.Query(ctx, `
SELECT id, message_id, tool_name, arguments, ts, duration_ms, success, iteration
FROM tool_calls WHERE message_id = ANY($1) ORDER BY ts ASC`, ids)
		if err != nil {
			return nil, err
		}
		var callIDs []string
		for tcRows.Next() {
			var tc ToolCall
			if err := tcRows.Scan(&tc.UUID, &tc.MessageID, &tc.ToolName, &tc.Arguments, &tc.Timestamp, &tc.DurationMS, &tc.Success, &tc.Iteration); err != nil {
				tcRows.Close()
				return nil, err
			}
			if rec, ok := byID[tc.MessageID]; ok {
				rec.ToolCalls = append(rec.ToolCalls, tc)
				callIDs = append(callIDs, tc.UUID)
			}
		}
		tcRows.Close()
		if err := tcRows.Err(); err != nil {
			return nil, err
		}

		if len(callIDs) > 0 {
			trRows, err := g.pool.Query(ctx, `
SELECT tool_call_id, success, result, error, ts, result_size_bytes
FROM tool_results WHERE tool_call_id = ANY($1)`, callIDs)
			if err != nil {
				return nil, err
			}
			resultsByCall := map[string]ToolResult{}
			for trRows.Next() {
				var tr ToolResult
				if err := trRows.Scan(&tr.ToolCallID, &tr.Success, &tr.Result, &tr.Error, &tr.Timestamp, &tr.ResultSizeBytes); err != nil {
					trRows.Close()
					return nil, err
				}
				resultsByCall[tr.ToolCallID] = tr
			}
			trRows.Close()
			if err := trRows.Err(); err != nil {
				return nil, err
			}
			for i := range records {
				if len(records[i].ToolCalls) == 0 {
					continue
				}
				records[i].ToolResults = map[string]ToolResult{}
				for _, tc := range records[i].ToolCalls {
					if tr, ok := resultsByCall[tc.UUID]; ok {
						records[i].ToolResults[tc.UUID] = tr
					}
				}
			}
		}
	}

	return records, nil
}

func (g *PostgresGateway) StoreSummary(ctx context.Context, s Summary) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO summaries(id, conversation_id, level, conversation_summary, actions_summary,
  start_turn_index, end_turn_index, char_range_start, char_range_end, summary_char_count,
  created_at, parent_summaries, has_embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO NOTHING
`, s.UUID, s.ConversationID, int(s.Level), s.Content.ConversationSummary, s.Content.ActionsSummary,
		s.StartTurnIndex, s.EndTurnIndex, s.CharRangeStart, s.CharRangeEnd, s.SummaryCharCount,
		s.CreatedAt, s.ParentSummaries, len(s.Embedding) > 0)
	return err
}

func (g *PostgresGateway) LatestSummary(ctx context.Context, conversationID string, level SummaryLevel) (Summary, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT id, conversation_id, level, conversation_summary, actions_summary, start_turn_index, end_turn_index,
  char_range_start, char_range_end, summary_char_count, created_at, parent_summaries
FROM summaries WHERE conversation_id=$1 AND level=$2 ORDER BY created_at DESC LIMIT 1`, conversationID, int(level))
	s, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}

func (g *PostgresGateway) ListSummaries(ctx context.Context, conversationID string, level SummaryLevel) ([]Summary, error) {
	rows, err := g.pool.Query(ctx, `
SELECT id, conversation_id, level, conversation_summary, actions_summary, start_turn_index, end_turn_index,
  char_range_start, char_range_end, summary_char_count, created_at, parent_summaries
FROM summaries WHERE conversation_id=$1 AND level=$2 ORDER BY char_range_start ASC`, conversationID, int(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		s, err := scanSummaryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (Summary, error) {
	return scanSummaryRows(row)
}

func scanSummaryRows(row rowScanner) (Summary, error) {
	var s Summary
	var level int
	if err := row.Scan(&s.UUID, &s.ConversationID, &level, &s.Content.ConversationSummary, &s.Content.ActionsSummary,
		&s.StartTurnIndex, &s.EndTurnIndex, &s.CharRangeStart, &s.CharRangeEnd, &s.SummaryCharCount,
		&s.CreatedAt, &s.ParentSummaries); err != nil {
		return Summary{}, err
	}
	s.Level = SummaryLevel(level)
	return s, nil
}

// MergeSummarizesEdges persists one Summary→target edge per target id in
// a single round trip, using an unnest-based bulk insert so the fan-out
// (one summary to many messages/summaries) costs one call regardless of
// how many targets were selected (spec.md §4.1: "raw parameterized
// traversal for fan-out queries... MERGE multiple SUMMARIZES edges in
// one call").
func (g *PostgresGateway) MergeSummarizesEdges(ctx context.Context, summaryID string, targetIDs []string) error {
	if len(targetIDs) == 0 {
		return nil
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO summary_edges(summary_id, target_id)
SELECT $1, t FROM unnest($2::text[]) AS t
ON CONFLICT DO NOTHING
`, summaryID, targetIDs)
	return err
}

func (g *PostgresGateway) MergeMentionsFileEdges(ctx context.Context, summaryID string, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO summary_mentions_file(summary_id, file_id)
SELECT $1, t FROM unnest($2::text[]) AS t
ON CONFLICT DO NOTHING
`, summaryID, fileIDs)
	return err
}

func (g *PostgresGateway) ResolveFile(ctx context.Context, candidates []string) (string, bool, error) {
	if len(candidates) == 0 {
		return "", false, nil
	}
	row := g.pool.QueryRow(ctx, `
SELECT id FROM files WHERE path = ANY($1)
ORDER BY array_position($1::text[], path) LIMIT 1`, candidates)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (g *PostgresGateway) GetScope(ctx context.Context, id string) (Scope, bool, error) {
	row := g.pool.QueryRow(ctx, `
SELECT id, file, start_line, end_line, name, type, source FROM scopes WHERE id=$1`, id)
	var s Scope
	if err := row.Scan(&s.UUID, &s.File, &s.StartLine, &s.EndLine, &s.Name, &s.Type, &s.Source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scope{}, false, nil
		}
		return Scope{}, false, err
	}
	return s, true, nil
}

func (g *PostgresGateway) UpdateEmbedding(ctx context.Context, label, id string, vector []float32) error {
	table := ""
	switch label {
	case LabelMessage:
		table = "messages"
	case LabelSummary:
		table = "summaries"
	default:
		return fmt.Errorf("graphstore: unsupported embedding label %q", label)
	}
	_, err := g.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET has_embedding = $2, embedding = $3 WHERE id = $1`, table), id, len(vector) > 0, vector)
	return err
}

// NodesWithEmbeddings enumerates ids flagged has_embedding=true along
// with their stored vectors, for the linear-cosine fallback (spec.md
// §4.8/I4). The vector itself is persisted in the same row by
// UpdateEmbedding rather than left to a side channel, so this path works
// against PostgresGateway exactly as it does against MemoryGateway.
func (g *PostgresGateway) NodesWithEmbeddings(ctx context.Context, conversationID string, label string, level SummaryLevel) ([]EmbeddedNode, error) {
	switch label {
	case LabelMessage:
		rows, err := g.pool.Query(ctx, `SELECT id, embedding FROM messages WHERE conversation_id=$1 AND has_embedding`, conversationID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []EmbeddedNode
		for rows.Next() {
			var id string
			var embedding []float32
			if err := rows.Scan(&id, &embedding); err != nil {
				return nil, err
			}
			out = append(out, EmbeddedNode{ID: id, Label: LabelMessage, Embedding: embedding})
		}
		return out, rows.Err()
	case LabelSummary:
		rows, err := g.pool.Query(ctx, `SELECT id, embedding FROM summaries WHERE conversation_id=$1 AND level=$2 AND has_embedding`, conversationID, int(level))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []EmbeddedNode
		for rows.Next() {
			var id string
			var embedding []float32
			if err := rows.Scan(&id, &embedding); err != nil {
				return nil, err
			}
			out = append(out, EmbeddedNode{ID: id, Label: LabelSummary, Level: level, Embedding: embedding})
		}
		return out, rows.Err()
	default:
		return nil, fmt.Errorf("graphstore: unsupported embedding label %q", label)
	}
}

func (g *PostgresGateway) VectorQuery(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	idx, ok := g.vectorIndexes[indexName]
	if !ok {
		return nil, herr.ErrVectorIndexNotFound
	}
	return idx.Query(ctx, vector, topK, filter)
}

// VectorIndex returns the named index for direct upserts (e.g. from the
// Summarizer, after persisting a new summary), or nil if unregistered.
func (g *PostgresGateway) VectorIndex(name string) VectorIndex {
	return g.vectorIndexes[name]
}
