// Package server assembles the application and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"rag-server/internal/chunker"
	"rag-server/internal/config"
	"rag-server/internal/db"
	"rag-server/internal/embeddings"
	"rag-server/internal/handlers"
	"rag-server/internal/routes"
	"rag-server/internal/services"
	"rag-server/internal/vectorstore"
)

// DefaultTopK is the per-query result count used when a request does not
// supply its own n_results.
const DefaultTopK = 5

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server owns the HTTP server plus the stores it must close on shutdown.
type Server struct {
	httpServer *http.Server
	textStore  vectorstore.Store
	imageStore vectorstore.Store
	logger     *log.Logger
}

// New builds the full application from config: embedding provider, vector
// stores, retrieval, engine, and HTTP surface. Backends are contacted here
// so a misconfigured server fails at startup, not on the first request.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	kind, err := vectorstore.ParseKind(cfg.VectorDBType)
	if err != nil {
		return nil, err
	}
	if !vectorstore.IsAvailable(kind, cfg) {
		return nil, fmt.Errorf("vector store %q is not configured", kind)
	}

	// Embedding provider, optionally wrapped in a redis cache.
	var provider embeddings.Provider = embeddings.NewOllamaProvider(
		cfg.OllamaBaseURL, cfg.OllamaEmbeddingModel, cfg.EmbeddingDimension)
	if cfg.RedisHost != "" {
		redisClient, err := db.NewRedisClient(ctx, db.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Printf("⚠️  Redis unavailable, embedding cache disabled: %v", err)
		} else {
			provider = embeddings.NewCachedProvider(provider, redisClient, cfg.OllamaEmbeddingModel, nil)
			logger.Println("✅ Embedding cache enabled")
		}
	}

	// Text collection.
	textStore, err := vectorstore.Create(kind, cfg.TextCollection, cfg, nil)
	if err != nil {
		return nil, err
	}
	if err := textStore.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing text store: %w", err)
	}
	logger.Printf("✅ Text store ready (%s, collection %s)", kind, cfg.TextCollection)

	// Image collection, only when image retrieval carries weight.
	var imageStore vectorstore.Store
	if cfg.ImageWeight > 0 {
		imageStore, err = vectorstore.Create(kind, cfg.ImageCollection, cfg, nil)
		if err != nil {
			textStore.Close()
			return nil, err
		}
		if err := imageStore.Initialize(ctx); err != nil {
			textStore.Close()
			return nil, fmt.Errorf("initializing image store: %w", err)
		}
		logger.Printf("✅ Image store ready (%s, collection %s)", kind, cfg.ImageCollection)
	}

	splitter, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		textStore.Close()
		return nil, err
	}

	// The keyword index lives in process memory only: documents ingested
	// by a previous run stay vector-searchable but need re-ingestion to
	// show up in keyword search. The store interface has no way to stream
	// chunk contents back out for a rebuild.
	keywords := services.NewKeywordIndex(nil)
	docService := services.NewDocumentService(splitter, provider, textStore, keywords, nil)
	retriever := services.NewRetriever(provider, textStore, imageStore,
		cfg.TextWeight, cfg.ImageWeight, nil)
	generator := services.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.OllamaLLMModel, nil)
	sessions := services.NewSessionManager(cfg.SessionHistoryLimit, cfg.SessionIdleTimeout, nil)
	engine := services.NewEngine(retriever, generator, sessions, DefaultTopK, nil)

	h := &routes.Handlers{
		Health:   handlers.NewHealthHandler(docService, cfg, logger),
		Document: handlers.NewDocumentHandler(docService, logger),
		Query:    handlers.NewQueryHandler(engine, keywords, logger),
	}
	if imageStore != nil {
		captioner := services.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.OllamaVisionModel, nil)
		imageService := services.NewImageService(captioner, provider, imageStore, nil)
		h.Image = handlers.NewImageHandler(imageService, logger)
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      corsMiddleware(router),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // generation can be slow
			IdleTimeout:  2 * time.Minute,
		},
		textStore:  textStore,
		imageStore: imageStore,
		logger:     logger,
	}, nil
}

// ListenAndServe runs the HTTP server until it is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.textStore.Close(); err == nil {
		err = closeErr
	}
	if s.imageStore != nil {
		if closeErr := s.imageStore.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
