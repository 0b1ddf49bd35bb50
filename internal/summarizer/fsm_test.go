package summarizer

import (
	"context"
	"testing"
	"time"

	"hcme/internal/config"
	"hcme/internal/graphstore"
	"hcme/internal/turnstore"
)

type fakeGenerator struct {
	output GenerationOutput
}

func (f *fakeGenerator) Summarize(ctx context.Context, input GenerationInput) (GenerationOutput, error) {
	return f.output, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func newTestFSM(t *testing.T, cfg config.Config) (*FSM, *graphstore.MemoryGateway, *turnstore.Store, string) {
	t.Helper()
	gw := graphstore.NewMemoryGateway()
	ctx := context.Background()
	convID := "conv-1"
	if err := gw.CreateConversation(ctx, graphstore.Conversation{UUID: convID, Status: graphstore.StatusActive}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	store := turnstore.New(gw)
	gen := &fakeGenerator{output: GenerationOutput{
		Content: graphstore.SummaryContent{ConversationSummary: "summary", ActionsSummary: "actions"},
	}}
	fsm := New(gw, store, fakeEmbedder{}, gen, NewMentionExtractor(), cfg)
	return fsm, gw, store, convID
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxContextChars = 1000
	cfg.L1ThresholdPercent = 10 // T1 = 100
	cfg.L2ThresholdPercent = 10 // T2 = 100
	return cfg
}

func TestShouldCreateL1_UnderThreshold(t *testing.T) {
	cfg := testConfig()
	fsm, _, store, convID := newTestFSM(t, cfg)
	ctx := context.Background()
	base := time.Unix(0, 0)

	if _, err := store.StoreMessage(ctx, convID, 0, graphstore.RoleUser, "hi", "", base); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if _, err := store.StoreMessage(ctx, convID, 1, graphstore.RoleAssistant, "hello", "", base.Add(time.Second)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}

	trig, err := fsm.ShouldCreateL1(ctx, convID)
	if err != nil {
		t.Fatalf("ShouldCreateL1() error = %v", err)
	}
	if trig.ShouldCreate {
		t.Fatalf("ShouldCreate = true, want false (7 chars < T1=100)")
	}
	if trig.CharRangeEnd != 7 {
		t.Fatalf("CharRangeEnd = %d, want 7", trig.CharRangeEnd)
	}
}

func TestShouldCreateL1_CrossesThresholdAndCreateResetsCursor(t *testing.T) {
	cfg := testConfig()
	fsm, _, store, convID := newTestFSM(t, cfg)
	ctx := context.Background()
	base := time.Unix(0, 0)

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := store.StoreMessage(ctx, convID, 0, graphstore.RoleUser, string(long), "", base); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if _, err := store.StoreMessage(ctx, convID, 1, graphstore.RoleAssistant, string(long), "", base.Add(time.Second)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}

	trig, err := fsm.ShouldCreateL1(ctx, convID)
	if err != nil {
		t.Fatalf("ShouldCreateL1() error = %v", err)
	}
	if !trig.ShouldCreate {
		t.Fatalf("ShouldCreate = false, want true (120 chars >= T1=100)")
	}

	if _, err := fsm.CreateL1(ctx, convID, trig); err != nil {
		t.Fatalf("CreateL1() error = %v", err)
	}

	// R2: re-running immediately should report false until >=T1 more chars arrive.
	again, err := fsm.ShouldCreateL1(ctx, convID)
	if err != nil {
		t.Fatalf("ShouldCreateL1() second call error = %v", err)
	}
	if again.ShouldCreate {
		t.Fatalf("ShouldCreate = true on immediate re-run, want false")
	}
}

func TestShouldCreateL2_RequiresAtLeastTwoUnsummarizedL1s(t *testing.T) {
	cfg := testConfig()
	fsm, gw, _, convID := newTestFSM(t, cfg)
	ctx := context.Background()

	if err := gw.StoreSummary(ctx, graphstore.Summary{
		UUID: "l1-1", ConversationID: convID, Level: graphstore.Level1,
		Content: graphstore.SummaryContent{ConversationSummary: "a", ActionsSummary: "b"},
		CharRangeStart: 0, CharRangeEnd: 80, SummaryCharCount: 80,
		CreatedAt: time.Unix(0, 0),
	}); err != nil {
		t.Fatalf("StoreSummary() error = %v", err)
	}

	trig, err := fsm.ShouldCreateL2(ctx, convID)
	if err != nil {
		t.Fatalf("ShouldCreateL2() error = %v", err)
	}
	if trig.ShouldCreate {
		t.Fatalf("ShouldCreate = true with only one L1, want false")
	}

	if err := gw.StoreSummary(ctx, graphstore.Summary{
		UUID: "l1-2", ConversationID: convID, Level: graphstore.Level1,
		Content: graphstore.SummaryContent{ConversationSummary: "c", ActionsSummary: "d"},
		CharRangeStart: 80, CharRangeEnd: 140, SummaryCharCount: 60,
		CreatedAt: time.Unix(1, 0),
	}); err != nil {
		t.Fatalf("StoreSummary() error = %v", err)
	}

	trig, err = fsm.ShouldCreateL2(ctx, convID)
	if err != nil {
		t.Fatalf("ShouldCreateL2() error = %v", err)
	}
	if !trig.ShouldCreate {
		t.Fatalf("ShouldCreate = false with two L1s totalling 140 chars (>=T2=100), want true")
	}
	if len(trig.Selected) != 2 {
		t.Fatalf("len(Selected) = %d, want 2", len(trig.Selected))
	}
}
