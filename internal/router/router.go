package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB                 handler.DBPinger
	AuthService        *service.AuthService
	CORSAllowOrigins   []string
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string

	// Documents
	DocService   *service.DocumentService
	DocRepo      service.DocumentRepository
	ChunkDeleter handler.ChunkDeleter
	Blobs        handler.BlobDownloader

	// Folders
	FolderRepo service.FolderRepository

	// Pipeline (document processing, triggered via ingest endpoints)
	PipelineSvc handler.Ingester
	TextIngest  handler.TextIngester
	IngestPool  handler.PoolSubmitter

	// Content gaps
	ContentGapDeps handler.ContentGapDeps

	// KB health
	KBHealthDeps handler.KBHealthDeps

	// Related documents
	RelatedDocsDeps handler.RelatedDocsDeps

	// Agent Loop
	AgentDeps handler.AgentDeps

	// Semantic search
	SearchDeps handler.SearchDeps

	// Distributed task queue
	TasksDeps handler.TasksDeps

	// Points / achievements
	PointsDeps handler.PointsDeps

	// Rate limiters (nil = no rate limiting)
	GeneralRateLimiter *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.CORSAllowOrigins...))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no auth)
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Build shared dependency structs
	docCRUD := handler.DocCRUDDeps{
		DocRepo:      deps.DocRepo,
		ChunkDeleter: deps.ChunkDeleter,
		Blobs:        deps.Blobs,
		DocService:   deps.DocService,
	}
	folderDeps := handler.FolderDeps{FolderRepo: deps.FolderRepo}
	ingestDeps := handler.IngestDeps{DocRepo: deps.DocRepo, Pipeline: deps.PipelineSvc, Pool: deps.IngestPool}
	ingestTextDeps := handler.IngestTextDeps{DocRepo: deps.DocRepo, Pipeline: deps.TextIngest, Pool: deps.IngestPool}

	// Protected routes (require internal service auth or bearer JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOrJWTAuth(deps.AuthService, deps.InternalAuthSecret))

		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		timeout30s := middleware.Timeout(30 * time.Second)

		// Knowledge base scoped documents and folders
		r.With(timeout30s).Get("/api/kbs/{kbId}/documents", handler.ListDocuments(docCRUD))
		r.With(middleware.Timeout(60 * time.Second)).Post("/api/kbs/{kbId}/documents", handler.UploadDocument(docCRUD))
		r.With(timeout30s).Get("/api/kbs/{kbId}/folders", handler.ListFolders(folderDeps))
		r.With(timeout30s).Post("/api/kbs/{kbId}/folders", handler.CreateFolder(folderDeps))
		r.With(timeout30s).Delete("/api/kbs/{kbId}/folders/{id}", handler.DeleteFolder(folderDeps))

		// Documents
		r.With(timeout30s).Get("/api/documents/{id}", handler.GetDocument(docCRUD))
		r.With(timeout30s).Patch("/api/documents/{id}", handler.UpdateDocument(docCRUD))
		r.With(timeout30s).Delete("/api/documents/{id}", handler.DeleteDocument(docCRUD))
		r.With(timeout30s).Delete("/api/documents/{id}/chunks", handler.DeleteChunks(docCRUD))
		r.With(timeout30s).Get("/api/documents/{id}/download", handler.DownloadDocument(docCRUD))
		r.With(timeout30s).Get("/api/documents/{id}/related", handler.RelatedDocuments(deps.RelatedDocsDeps))

		// Ingest may take longer (pipeline processing)
		r.With(middleware.Timeout(120 * time.Second)).Post("/api/documents/{id}/ingest", handler.IngestDocument(ingestDeps))
		r.With(middleware.Timeout(120 * time.Second)).Post("/api/documents/{id}/ingest-text", handler.IngestText(ingestTextDeps))

		// Content gaps
		r.With(timeout30s).Get("/api/content-gaps", handler.ListContentGaps(deps.ContentGapDeps))
		r.With(timeout30s).Get("/api/content-gaps/summary", handler.ContentGapSummary(deps.ContentGapDeps))
		r.With(timeout30s).Patch("/api/content-gaps/{id}", handler.UpdateContentGapStatus(deps.ContentGapDeps))

		// KB health
		r.With(timeout30s).Post("/api/kbs/{id}/health-check", handler.RunHealthCheck(deps.KBHealthDeps))
		r.With(timeout30s).Get("/api/kbs/{id}/health-checks", handler.GetHealthHistory(deps.KBHealthDeps))

		// Agent Loop: a single turn may run retrieval, web search, and an
		// MCP tool call before its synthesis call, so it gets a longer budget
		// than the plain CRUD routes.
		r.With(middleware.Timeout(60 * time.Second)).Post("/api/ai/qa", handler.Ask(deps.AgentDeps))

		// Semantic search: the retrieval half of the Agent Loop (C7),
		// callable directly without a synthesis pass.
		r.With(timeout30s).Get("/api/search/semantic", handler.SemanticSearch(deps.SearchDeps))

		// Distributed task queue (C10)
		r.With(timeout30s).Get("/api/distributed/tasks/{id}", handler.GetTaskStatus(deps.TasksDeps))
		r.With(timeout30s).Delete("/api/distributed/tasks/{id}", handler.CancelTask(deps.TasksDeps))

		// Points / achievements (C13)
		r.With(timeout30s).Get("/api/users/me/points/history", handler.PointsHistory(deps.PointsDeps))
		r.With(timeout30s).Get("/api/users/me/achievements", handler.Achievements(deps.PointsDeps))
	})

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
