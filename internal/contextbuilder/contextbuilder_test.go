package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"hcme/internal/codesearch"
	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/retrieval"
	"hcme/internal/turnstore"
)

func seedConversation(t *testing.T, gw *graphstore.MemoryGateway, store *turnstore.Store, convID string) {
	t.Helper()
	if err := gw.CreateConversation(context.Background(), graphstore.Conversation{UUID: convID, Status: graphstore.StatusActive}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	base := time.Now()
	if _, err := store.StoreMessage(context.Background(), convID, 0, graphstore.RoleUser, "how do I deploy?", "", base); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if _, err := store.StoreMessage(context.Background(), convID, 1, graphstore.RoleAssistant, "use the deploy script", "", base.Add(time.Second)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if _, err := store.StoreMessage(context.Background(), convID, 2, graphstore.RoleUser, "where is it located?", "", base.Add(2*time.Second)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
}

func TestBuild_SkipsExpensiveSourcesWhenRequested(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	store := turnstore.New(gw)
	seedConversation(t, gw, store, "conv-1")

	retriever := retrieval.New(gw, nil, config.Default())
	code := codesearch.New(gw, nil, nil, nil, config.Default())
	builder := New(gw, store, retriever, code, config.Default())

	rendered, report, err := builder.Build(context.Background(), "conv-1", "where is it located?", Options{
		SkipCodeSearch:    true,
		SkipHistorySearch: true,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !report.SkippedCodeSearch || !report.SkippedHistorySearch {
		t.Fatalf("report = %+v, want both sources reported skipped", report)
	}
	if !strings.Contains(rendered, "Last User Queries") {
		t.Fatalf("rendered output missing Last User Queries section:\n%s", rendered)
	}
	if !strings.Contains(rendered, "where is it located?") {
		t.Fatalf("rendered output missing most recent user query:\n%s", rendered)
	}
}

func TestLastUserQueries_ReverseChronological(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	store := turnstore.New(gw)
	seedConversation(t, gw, store, "conv-2")

	b := &Builder{gw: gw, store: store, cfg: config.Default()}
	queries, _, err := b.lastUserQueries(context.Background(), "conv-2", 0)
	if err != nil {
		t.Fatalf("lastUserQueries() error = %v", err)
	}
	want := []string{"where is it located?", "how do I deploy?"}
	if len(queries) != len(want) || queries[0] != want[0] || queries[1] != want[1] {
		t.Fatalf("queries = %v, want %v", queries, want)
	}
}

func TestFormatter_RendersSectionsInOrder(t *testing.T) {
	f := NewFormatter("/workspace/app")
	rendered := f.Render(Sections{
		LastUserQueries: []string{"q1"},
		RelevantCode: []codesearch.CodeUnit{
			{File: "/workspace/app/main.go", StartLine: 1, EndLine: 3, Name: "main", Source: "func main() {}", Score: 0.9},
		},
		RecentL1Summaries: []graphstore.Summary{
			{Content: graphstore.SummaryContent{ConversationSummary: "discussed deployment"}},
		},
	})

	lastIdx := strings.Index(rendered, "Last User Queries")
	codeIdx := strings.Index(rendered, "Relevant Code Context")
	l1Idx := strings.Index(rendered, "Recent Level 1 Summaries")
	if lastIdx == -1 || codeIdx == -1 || l1Idx == -1 {
		t.Fatalf("missing expected sections:\n%s", rendered)
	}
	if !(lastIdx < codeIdx && codeIdx < l1Idx) {
		t.Fatalf("sections out of order:\n%s", rendered)
	}
	if !strings.Contains(rendered, "[main.go:1-3] main (Relevance 90%, File: 1 lines)") {
		t.Fatalf("code context header not rendered as expected:\n%s", rendered)
	}
}
