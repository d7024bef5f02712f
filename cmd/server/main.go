package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/blob"
	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/credstore"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/mcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/noderegistry"
	"github.com/connexus-ai/ragbox-backend/internal/points"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/queue"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/router"
	"github.com/connexus-ai/ragbox-backend/internal/scheduler"
	"github.com/connexus-ai/ragbox-backend/internal/service"
	"github.com/connexus-ai/ragbox-backend/internal/workerpool"
)

const Version = "0.1.0"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/server: connect to database: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("cmd/server: parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	blobStore, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}
	defer closeBlobs()

	gateway, err := newGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}
	cachedGateway := cache.NewCachingGateway(gateway, cache.DefaultEmbeddingTTL())

	// Repositories
	docRepo := repository.NewDocumentRepo(pool)
	folderRepo := repository.NewFolderRepo(pool)
	chunkRepo := repository.NewChunkRepo(pool)
	bm25Repo := repository.NewBM25Repository(pool)
	contentGapRepo := repository.NewContentGapRepo(pool)
	kbHealthRepo := repository.NewKBHealthRepo(pool)
	relatedRepo := repository.NewRelatedDocRepo(pool)
	convRepo := repository.NewConversationRepo(pool)
	tempFileRepo := repository.NewTempFileRepo(pool)
	credRepo := repository.NewCredentialRepo(pool)
	userRepo := repository.NewUserRepo(pool)

	cipher, err := credstore.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("cmd/server: init credential cipher: %w", err)
	}
	credService := service.NewCredentialService(credRepo, cipher)

	// Queue, node registry, scheduler
	taskQueue := queue.New(rdb)
	nodeRegistry := noderegistry.New(rdb)
	sched := scheduler.New(taskQueue, nodeRegistry)

	// Ingest endpoints trigger the pipeline directly off the request path
	// (cmd/worker handles everything dispatched through the distributed
	// queue); this pool bounds how many of those run at once.
	ingestPool := workerpool.New(cfg.NodeMaxConcurrent)

	// Services
	chunker := service.NewChunkerService(cfg.ChunkSizeTokens, float64(cfg.ChunkOverlapPercent)/100)
	embedder := service.NewEmbedderService(cachedGateway, chunkRepo)
	pipelineSvc := service.NewPipelineService(docRepo, blobStore, chunker, embedder, credService)
	docService := service.NewDocumentService(blobStore, docRepo, taskQueue)
	retriever := service.NewRetrieverService(cachedGateway, chunkRepo)
	retriever.SetBM25(bm25Repo)
	cachedRetriever := cache.NewCachingRetriever(retriever, cache.New(cache.DefaultQueryCacheTTL()))
	contentGapSvc := service.NewContentGapService(contentGapRepo)
	kbHealthSvc := service.NewKBHealthService(kbHealthRepo, docRepo)
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	pointsHook := points.NewHook(userRepo)
	mcpClient := mcpclient.NewClient(http.DefaultClient, Version)
	agentSvc := service.NewAgentService(convRepo, tempFileRepo, credService, cachedGateway, cachedRetriever, mcpClient, taskQueue, pointsHook, contentGapSvc)

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	r := router.New(&router.Dependencies{
		DB:                 pool,
		AuthService:        authSvc,
		CORSAllowOrigins:   cfg.CORSAllowOrigins,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         metricsReg,
		InternalAuthSecret: cfg.InternalAuthSecret,

		DocService:   docService,
		DocRepo:      docRepo,
		ChunkDeleter: chunkRepo,
		Blobs:        blobStore,

		FolderRepo: folderRepo,

		PipelineSvc: pipelineSvc,
		TextIngest:  pipelineSvc,
		IngestPool:  ingestPool,

		ContentGapDeps: handler.ContentGapDeps{Svc: contentGapSvc},
		KBHealthDeps:   handler.KBHealthDeps{Svc: kbHealthSvc},
		RelatedDocsDeps: handler.RelatedDocsDeps{
			DocRepo:  docRepo,
			Searcher: relatedRepo,
		},
		AgentDeps:  handler.AgentDeps{Agent: agentSvc},
		SearchDeps: handler.SearchDeps{Retriever: cachedRetriever, Creds: credService},
		TasksDeps:  handler.TasksDeps{Queue: taskQueue},
		PointsDeps: handler.PointsDeps{Store: userRepo},
	})

	if cfg.NodeID != "" {
		go nodeRegistry.RunHeartbeatLoop(ctx, cfg.NodeID, func() (float64, float64, int) {
			return 0, 0, 0
		})
	}
	if cfg.NodeRole == string(model.NodeRoleCoordinator) || cfg.NodeRole == string(model.NodeRoleHybrid) {
		go scheduler.NewLease(rdb, cfg.NodeID).RunWithLease(ctx, sched)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragbox-backend starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newBlobStore picks the blob backend: GCS when a bucket is configured,
// an in-memory store otherwise (local development / tests without GCP
// credentials).
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, func(), error) {
	if cfg.GCSBucketName == "" {
		return blob.NewMemoryStore(), func() {}, nil
	}
	store, err := blob.NewGCSStore(ctx, cfg.GCSBucketName)
	if err != nil {
		return nil, nil, fmt.Errorf("init GCS blob store: %w", err)
	}
	return store, func() { store.Close() }, nil
}

// newGateway wires a provider.Router with every backend this deployment
// can dispatch to: the teacher's Vertex AI adapter registered under
// ProviderVertexAI, plus one shared OpenAI-compatible client registered
// under every OpenAI-wire-protocol provider a user's stored credential
// can name (OpenAI, SiliconFlow, Zhipu, ModelScope, and self-hosted
// "custom" base URLs all speak the same /chat/completions shape).
func newGateway(ctx context.Context, cfg *config.Config) (provider.Gateway, error) {
	r := provider.NewRouter()

	genAI, err := gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
	if err != nil {
		slog.Warn("vertex AI chat client unavailable, continuing without it", "error", err)
	}
	embedAdapter, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel)
	if err != nil {
		slog.Warn("vertex AI embedding client unavailable, continuing without it", "error", err)
	}
	if genAI != nil && embedAdapter != nil {
		r.Register(model.ProviderVertexAI, provider.NewVertexAdapter(genAI, embedAdapter))
	}

	openAICompatible := provider.NewOpenAICompatibleClient(http.DefaultClient)
	for _, pt := range []model.ProviderType{
		model.ProviderOpenAI, model.ProviderSiliconFlow, model.ProviderZhipu,
		model.ProviderModelScope, model.ProviderCustom,
	} {
		r.Register(pt, openAICompatible)
	}

	return r, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
