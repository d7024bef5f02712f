// cmd/worker runs a node that executes distributed tasks: it registers
// with the node registry, serves the scheduler's worker-notify contract
// at POST /api/worker/execute (internal/scheduler.notifyWorker), and
// dispatches each task by its TaskType onto the bounded workerpool.
// cmd/server only enqueues work; this binary is what actually runs it,
// so a deployment needs at least one of these alongside the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/blob"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/credstore"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/noderegistry"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/queue"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
	"github.com/connexus-ai/ragbox-backend/internal/workerpool"
)

const Version = "0.1.0"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/worker: %w", err)
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("cmd/worker: NODE_ID is required")
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/worker: connect to database: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("cmd/worker: parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	blobStore, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd/worker: %w", err)
	}
	defer closeBlobs()

	gateway, err := newGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd/worker: %w", err)
	}

	docRepo := repository.NewDocumentRepo(pool)
	chunkRepo := repository.NewChunkRepo(pool)
	tempFileRepo := repository.NewTempFileRepo(pool)
	credRepo := repository.NewCredentialRepo(pool)

	cipher, err := credstore.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("cmd/worker: init credential cipher: %w", err)
	}
	credService := service.NewCredentialService(credRepo, cipher)

	chunker := service.NewChunkerService(cfg.ChunkSizeTokens, float64(cfg.ChunkOverlapPercent)/100)
	embedder := service.NewEmbedderService(gateway, chunkRepo)
	pipelineSvc := service.NewPipelineService(docRepo, blobStore, chunker, embedder, credService)
	tempFileIngestor := service.NewTempFileIngestor(tempFileRepo, blobStore, gateway, credService)

	taskQueue := queue.New(rdb)
	nodeRegistry := noderegistry.New(rdb)
	execPool := workerpool.New(cfg.NodeMaxConcurrent)

	node := &model.Node{
		NodeID:        cfg.NodeID,
		Role:          model.NodeRole(cfg.NodeRole),
		Host:          cfg.NodeHost,
		Port:          cfg.NodePort,
		Capabilities:  cfg.NodeCapabilities,
		MaxConcurrent: cfg.NodeMaxConcurrent,
	}
	if err := nodeRegistry.Register(ctx, node); err != nil {
		return fmt.Errorf("cmd/worker: register node: %w", err)
	}
	defer func() {
		unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := nodeRegistry.Unregister(unregCtx, cfg.NodeID); err != nil {
			slog.Warn("cmd/worker: unregister on shutdown failed", "error", err)
		}
	}()

	go nodeRegistry.RunHeartbeatLoop(ctx, cfg.NodeID, func() (float64, float64, int) {
		return 0, 0, execPool.InFlight()
	})

	d := &dispatcher{
		queue:        taskQueue,
		pool:         execPool,
		pipeline:     pipelineSvc,
		tempFiles:    tempFileIngestor,
		tempFileRepo: tempFileRepo,
	}

	r := chi.NewRouter()
	r.Get("/healthz", handler.Health(pool, Version))
	r.Post("/api/worker/execute", d.execute)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.NodePort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragbox-worker starting", "version", Version, "node_id", cfg.NodeID, "port", cfg.NodePort)
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

	slog.Info("worker stopped")
	return nil
}

// dispatcher serves the scheduler's worker-notify contract and runs
// each accepted task on the bounded pool, reporting status transitions
// back through the same Redis-backed queue the scheduler reads.
type dispatcher struct {
	queue        *queue.Queue
	pool         *workerpool.Pool
	pipeline     *service.PipelineService
	tempFiles    *service.TempFileIngestor
	tempFileRepo *repository.TempFileRepo
}

// execute handles POST /api/worker/execute: it acknowledges the task
// immediately (the scheduler only checks for a 200 response before
// moving on) and runs it asynchronously on the pool.
func (d *dispatcher) execute(w http.ResponseWriter, r *http.Request) {
	var task model.DistributedTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	d.pool.Submit(context.Background(), task.TaskID, func(ctx context.Context) error {
		return d.run(ctx, &task)
	})
}

func (d *dispatcher) run(ctx context.Context, task *model.DistributedTask) error {
	now := time.Now().UTC()
	task.Status = model.TaskProcessing
	task.StartedAt = &now
	if err := d.queue.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("dispatcher.run: save processing: %w", err)
	}

	execErr := d.dispatch(ctx, task)

	completed := time.Now().UTC()
	task.CompletedAt = &completed
	if execErr != nil {
		task.Status = model.TaskFailed
		msg := execErr.Error()
		task.Error = &msg
	} else {
		task.Status = model.TaskCompleted
	}
	if err := d.queue.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("dispatcher.run: save result: %w", err)
	}
	return execErr
}

func (d *dispatcher) dispatch(ctx context.Context, task *model.DistributedTask) error {
	switch task.TaskType {
	case "ingest_document":
		var payload struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal(task.Data, &payload); err != nil {
			return fmt.Errorf("dispatcher.dispatch: decode ingest_document: %w", err)
		}
		return d.pipeline.ProcessDocument(ctx, payload.DocumentID)

	case "ingest_temp_file":
		var payload struct {
			TempFileID string `json:"temp_file_id"`
		}
		if err := json.Unmarshal(task.Data, &payload); err != nil {
			return fmt.Errorf("dispatcher.dispatch: decode ingest_temp_file: %w", err)
		}
		f, err := d.tempFileRepo.GetByID(ctx, payload.TempFileID)
		if err != nil {
			return fmt.Errorf("dispatcher.dispatch: look up temp file: %w", err)
		}
		return d.tempFiles.Ingest(ctx, f.ID, f.OwnerID, f.BlobKey, f.Mime)

	default:
		return fmt.Errorf("dispatcher.dispatch: unknown task type %q", task.TaskType)
	}
}

// newBlobStore picks the blob backend: GCS when a bucket is configured,
// an in-memory store otherwise (local development / tests without GCP
// credentials). Mirrors cmd/server's helper of the same name.
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

// newGateway wires the same provider.Router shape as cmd/server, since
// the worker needs its own embedding/chat credentials to run the
// pipeline and attachment ingestion.
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
