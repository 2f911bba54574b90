package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"m3u8conv/cache"
	"m3u8conv/core/batch"
	"m3u8conv/logger"
	"m3u8conv/repository"

	"github.com/gorilla/mux"
)

// BatchQueue is the part of *batch.Pool the API needs.
type BatchQueue interface {
	Submit(b batch.Batch, obs batch.Observer) (*batch.Ticket, error)
	Get(id string) (*batch.Ticket, bool)
}

// ProgressReader looks up progress of batches this process no longer holds
// (or never held), e.g. from Redis.
type ProgressReader interface {
	Get(ctx context.Context, batchID string) (*cache.ProgressSnapshot, error)
}

// Deps wires the API to the rest of the application. Only Queue is required.
type Deps struct {
	Queue     BatchQueue
	History   repository.ConversionRepository
	Progress  ProgressReader
	JWTSecret string
	// AllowedOrigins lists browser origins allowed to call the API
	// cross-origin; "*" allows any. Empty means same-origin only.
	AllowedOrigins []string
	// DefaultPolicy applies when a request does not name one. PolicyAsk is
	// downgraded to PolicySkip since nobody can answer a prompt over HTTP.
	DefaultPolicy batch.OverwritePolicy
}

// APIHandler serves the batch API.
type APIHandler struct {
	deps Deps
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(deps Deps) *APIHandler {
	if deps.DefaultPolicy == "" || deps.DefaultPolicy == batch.PolicyAsk {
		deps.DefaultPolicy = batch.PolicySkip
	}
	return &APIHandler{deps: deps}
}

// NewRouter builds the gorilla/mux router for the API, wrapped in the CORS
// handler.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.authMiddleware)
	api.HandleFunc("/batches", requireJSON(h.SubmitBatchHandler)).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id}", h.BatchStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}/ws", h.BatchProgressWSHandler).Methods(http.MethodGet)
	api.HandleFunc("/history", h.HistoryHandler).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return corsMiddleware(h.deps.AllowedOrigins, router)
}

// Start serves the API on addr until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h *APIHandler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
