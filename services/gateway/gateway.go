// Package gateway serves the evalbench services as an HTTP/JSON API for
// browser clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/eval"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

// SessionHeader carries the session ID on every /v1 request and response.
const SessionHeader = "X-Session-ID"

// maxJSONBody caps decoded JSON request bodies.
const maxJSONBody = 1 << 20

// Services are the backends the gateway calls in process.
type Services struct {
	Datasets  *datasets.DatasetsService
	Prompts   *prompt.PromptService
	Providers *providers.ProvidersService
	Evals     *eval.EvalService
}

// Config holds gateway settings.
type Config struct {
	Port            int
	Version         string
	Environment     string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// Gateway routes HTTP requests to the services.
type Gateway struct {
	svcs     Services
	cfg      Config
	logger   *slog.Logger
	errCodes grpcutil.ErrorCodes
	router   *mux.Router
}

// New creates a gateway and registers its routes.
func New(svcs Services, cfg Config, logger *slog.Logger) *Gateway {
	errCodes := grpcutil.Merge(
		datasets.ErrorCodes,
		prompt.ErrorCodes,
		providers.ErrorCodes,
		eval.ErrorCodes,
	)
	g := &Gateway{
		svcs:     svcs,
		cfg:      cfg,
		logger:   logger.With("component", "gateway"),
		errCodes: errCodes,
	}
	g.router = g.routes()
	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) routes() *mux.Router {
	r := mux.NewRouter()

	r.Use(LoggingMiddleware(g.logger))
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware(g.logger))

	r.HandleFunc("/health", g.health).Methods(http.MethodGet)
	r.HandleFunc("/version", g.version).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(SessionMiddleware)

	v1.HandleFunc("/dataset", g.uploadDataset).Methods(http.MethodPost)
	v1.HandleFunc("/dataset", g.getDataset).Methods(http.MethodGet)
	v1.HandleFunc("/dataset", g.clearDataset).Methods(http.MethodDelete)
	v1.HandleFunc("/dataset/preview", g.previewDataset).Methods(http.MethodGet)
	v1.HandleFunc("/dataset/export", g.exportDataset).Methods(http.MethodGet)

	// Fixed paths before {id}.
	v1.HandleFunc("/prompts", g.listPrompts).Methods(http.MethodGet)
	v1.HandleFunc("/prompts", g.createPrompt).Methods(http.MethodPost)
	v1.HandleFunc("/prompts/validate", g.validatePrompt).Methods(http.MethodPost)
	v1.HandleFunc("/prompts/preview", g.previewPrompt).Methods(http.MethodPost)
	v1.HandleFunc("/prompts/import", g.importPrompts).Methods(http.MethodPost)
	v1.HandleFunc("/prompts/export", g.exportPrompts).Methods(http.MethodGet)
	v1.HandleFunc("/prompts/{id}", g.getPrompt).Methods(http.MethodGet)
	v1.HandleFunc("/prompts/{id}", g.updatePrompt).Methods(http.MethodPut)
	v1.HandleFunc("/prompts/{id}", g.deletePrompt).Methods(http.MethodDelete)

	v1.HandleFunc("/providers", g.listProviders).Methods(http.MethodGet)
	v1.HandleFunc("/providers/judge", g.setJudge).Methods(http.MethodPut)
	v1.HandleFunc("/providers/{name}", g.configureProvider).Methods(http.MethodPut)
	v1.HandleFunc("/providers/{name}/test", g.testProvider).Methods(http.MethodPost)

	v1.HandleFunc("/evals", g.startRun).Methods(http.MethodPost)
	v1.HandleFunc("/evals", g.listRuns).Methods(http.MethodGet)
	v1.HandleFunc("/evals/{id}", g.getRun).Methods(http.MethodGet)
	v1.HandleFunc("/evals/{id}/cancel", g.cancelRun).Methods(http.MethodPost)
	v1.HandleFunc("/evals/{id}/results", g.getResults).Methods(http.MethodGet)
	v1.HandleFunc("/evals/{id}/results/{resultID}/scores", g.recordScores).Methods(http.MethodPost)
	v1.HandleFunc("/evals/{id}/summary", g.summarize).Methods(http.MethodGet)

	// Preflight requests for any path; CORSMiddleware answers them.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	return r
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", g.cfg.Port),
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP gateway starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context cancelled, shutting down HTTP gateway")
	case err := <-errCh:
		return err
	}

	timeout := g.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP gateway: %w", err)
	}
	return <-errCh
}

type ctxKey string

const ctxSessionID ctxKey = "session_id"

// SessionMiddleware reads the session ID from SessionHeader, issuing a new
// one when the header is absent, and echoes it on the response.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get(SessionHeader)
		if sid == "" {
			sid = session.NewID()
		}
		w.Header().Set(SessionHeader, sid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxSessionID, sid)))
	})
}

func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(ctxSessionID).(string)
	return sid
}
