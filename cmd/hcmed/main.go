// Command hcmed is HCME's HTTP daemon: it wires the GraphStore Gateway,
// embedding/LLM providers, brain registry, and every internal component
// into a small REST surface an agent host can call to store turns,
// trigger summarization, and assemble prompt context.
//
// Grounded on the teacher's cmd/agentd/main.go (godotenv load, config
// load, instrumented http.Client, graceful net/http shutdown).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hcme/internal/brainregistry"
	"hcme/internal/codesearch"
	"hcme/internal/config"
	"hcme/internal/contextbuilder"
	"hcme/internal/embedding"
	"hcme/internal/graphstore"
	"hcme/internal/llm/providers"
	"hcme/internal/llmexec"
	"hcme/internal/observability"
	"hcme/internal/retrieval"
	"hcme/internal/summarizer"
	"hcme/internal/turnstore"
)

func main() {
	_ = godotenv.Load()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfgPath := os.Getenv("HCME_CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := observability.NewHTTPClient(nil)

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	indexes, err := buildVectorIndexes(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to qdrant")
	}

	gw, err := graphstore.NewPostgresGateway(ctx, pool, indexes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize graphstore schema")
	}

	embedClient := embedding.NewClient(cfg, httpClient)
	llmProvider, err := providers.Build(ctx, cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}
	exec := llmexec.New(llmProvider, cfg)

	store := turnstore.New(gw)
	generator := summarizer.NewGenerator(exec)
	mentions := summarizer.NewMentionExtractor()
	fsm := summarizer.New(gw, store, embedClient, generator, mentions, cfg)

	retriever := retrieval.New(gw, embedClient, cfg)

	var registry brainregistry.Registry
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		registry = brainregistry.NewRedisRegistry(redisClient, 5*time.Minute)
	}
	searcher := codesearch.New(gw, embedClient, registry, exec, cfg)

	builder := contextbuilder.New(gw, store, retriever, searcher, cfg)

	srv := &server{store: store, fsm: fsm, builder: builder, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/conversations/", srv.handleConversationMessages)
	mux.HandleFunc("/context", srv.handleBuildContext)

	addr := os.Getenv("HCME_LISTEN_ADDR")
	if addr == "" {
		addr = ":8088"
	}
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("hcmed listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
}

// buildVectorIndexes constructs the three named Qdrant collections
// spec.md §6 requires, keyed by their graphstore index names.
func buildVectorIndexes(ctx context.Context, cfg config.Config) (map[string]graphstore.VectorIndex, error) {
	host, portStr, err := net.SplitHostPort(cfg.Qdrant.DSN)
	if err != nil {
		host, portStr = cfg.Qdrant.DSN, "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6334
	}

	named := []struct {
		index      string
		collection string
	}{
		{graphstore.IndexMessageEmbedding, cfg.Qdrant.MessageCollection},
		{graphstore.IndexSummaryEmbedding, cfg.Qdrant.SummaryCollection},
		{graphstore.IndexScopeEmbedding, cfg.Qdrant.ScopeCollection},
	}

	indexes := make(map[string]graphstore.VectorIndex, len(named))
	for _, n := range named {
		if n.collection == "" {
			continue // deliberately unregistered: the retriever falls back to linear cosine search
		}
		idx, err := graphstore.NewQdrantIndex(ctx, graphstore.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: n.collection,
			Dimension:  uint64(cfg.Qdrant.Dimension),
			Metric:     cfg.Qdrant.Metric,
		})
		if err != nil {
			return nil, fmt.Errorf("cmd/hcmed: qdrant index %q: %w", n.collection, err)
		}
		indexes[n.index] = idx
	}
	return indexes, nil
}

type server struct {
	store   *turnstore.Store
	fsm     *summarizer.FSM
	builder *contextbuilder.Builder
	cfg     config.Config
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// appendMessageRequest is the body of POST
// /conversations/{id}/messages: append one message and run both
// summarization triggers (spec.md §4.5).
type appendMessageRequest struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

func (s *server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerWithTrace(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conversationID := strings.TrimSuffix(r.URL.Path[len("/conversations/"):], "/messages")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	records, err := s.store.GetMessages(r.Context(), conversationID, 0, false)
	if err != nil {
		logger.Error().Err(err).Msg("get messages")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := s.store.StoreMessage(r.Context(), conversationID, len(records), graphstore.MessageRole(req.Role), req.Content, req.Reasoning, time.Now()); err != nil {
		logger.Error().Err(err).Msg("store message")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.runSummarizationTriggers(r.Context(), conversationID)

	w.WriteHeader(http.StatusAccepted)
}

// runSummarizationTriggers checks both FSMs and creates any summary
// whose trigger fires, logging but not failing the request on
// best-effort summarization errors (spec.md §4.5.5).
func (s *server) runSummarizationTriggers(ctx context.Context, conversationID string) {
	logger := observability.LoggerWithTrace(ctx)

	l1, err := s.fsm.ShouldCreateL1(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("should_create_l1")
	} else if l1.ShouldCreate {
		if _, err := s.fsm.CreateL1(ctx, conversationID, l1); err != nil {
			logger.Warn().Err(err).Msg("create_l1")
		}
	}

	l2, err := s.fsm.ShouldCreateL2(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("should_create_l2")
	} else if l2.ShouldCreate {
		if _, err := s.fsm.CreateL2(ctx, conversationID, l2); err != nil {
			logger.Warn().Err(err).Msg("create_l2")
		}
	}
}

// buildContextRequest is the body of POST /context (spec.md §4.10).
type buildContextRequest struct {
	ConversationID    string `json:"conversation_id"`
	UserMessage       string `json:"user_message"`
	WorkingDir        string `json:"working_dir"`
	SkipCodeSearch    bool   `json:"skip_code_search"`
	SkipHistorySearch bool   `json:"skip_history_search"`
}

type buildContextResponse struct {
	Context string                 `json:"context"`
	Report  contextbuilder.BuildReport `json:"report"`
}

func (s *server) handleBuildContext(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerWithTrace(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req buildContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rendered, report, err := s.builder.Build(r.Context(), req.ConversationID, req.UserMessage, contextbuilder.Options{
		WorkingDir:        req.WorkingDir,
		SkipCodeSearch:    req.SkipCodeSearch,
		SkipHistorySearch: req.SkipHistorySearch,
	})
	if err != nil {
		logger.Error().Err(err).Msg("build context")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buildContextResponse{Context: rendered, Report: report})
}
