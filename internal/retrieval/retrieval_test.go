package retrieval

import (
	"context"
	"testing"
	"time"

	"hcme/internal/config"
	"hcme/internal/graphstore"
)

type fakeEmbedder struct{ vector []float32 }

func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func seedConversation(t *testing.T, gw *graphstore.MemoryGateway, convID string) {
	t.Helper()
	ctx := context.Background()
	if err := gw.CreateConversation(ctx, graphstore.Conversation{UUID: convID, Status: graphstore.StatusActive}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	msg := graphstore.Message{UUID: "m1", ConversationID: convID, Role: graphstore.RoleUser, Content: "hello", Timestamp: time.Unix(0, 0)}
	if err := gw.StoreMessage(ctx, msg); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
}

func TestSearchConversationHistory_UsesVectorIndexWhenPresent(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	seedConversation(t, gw, "conv-1")
	ctx := context.Background()

	idx := gw.VectorIndex(graphstore.IndexMessageEmbedding)
	if err := idx.Upsert(ctx, "m1", []float32{1, 0}, map[string]string{"conversation_id": "conv-1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := New(gw, fakeEmbedder{vector: []float32{1, 0}}, config.Default())
	hits, err := r.SearchConversationHistory(ctx, "conv-1", "hello", SearchOptions{Semantic: true, Levels: []int{0}, MaxResults: 5})
	if err != nil {
		t.Fatalf("SearchConversationHistory() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("hits = %+v, want one hit for m1", hits)
	}
	if hits[0].Confidence != config.Default().L0Confidence {
		t.Fatalf("Confidence = %v, want %v", hits[0].Confidence, config.Default().L0Confidence)
	}
}

func TestSearchConversationHistory_FallsBackWhenIndexMissing(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	seedConversation(t, gw, "conv-1")
	ctx := context.Background()

	if err := gw.UpdateEmbedding(ctx, graphstore.LabelMessage, "m1", []float32{1, 0}); err != nil {
		t.Fatalf("UpdateEmbedding() error = %v", err)
	}
	gw.DeleteVectorIndex(graphstore.IndexMessageEmbedding)

	r := New(gw, fakeEmbedder{vector: []float32{1, 0}}, config.Default())
	hits, err := r.SearchConversationHistory(ctx, "conv-1", "hello", SearchOptions{Semantic: true, Levels: []int{0}, MaxResults: 5})
	if err != nil {
		t.Fatalf("SearchConversationHistory() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("hits = %+v, want one fallback hit for m1", hits)
	}
}

func TestSearchConversationHistory_NonSemanticReturnsEmpty(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	seedConversation(t, gw, "conv-1")
	r := New(gw, fakeEmbedder{vector: []float32{1, 0}}, config.Default())

	hits, err := r.SearchConversationHistory(context.Background(), "conv-1", "hello", SearchOptions{Semantic: false})
	if err != nil {
		t.Fatalf("SearchConversationHistory() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("hits = %+v, want nil", hits)
	}
}

func TestSearchConversationHistory_NoProviderReturnsEmpty(t *testing.T) {
	gw := graphstore.NewMemoryGateway()
	seedConversation(t, gw, "conv-1")
	r := New(gw, nil, config.Default())

	hits, err := r.SearchConversationHistory(context.Background(), "conv-1", "hello", SearchOptions{Semantic: true})
	if err != nil {
		t.Fatalf("SearchConversationHistory() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("hits = %+v, want nil", hits)
	}
}
