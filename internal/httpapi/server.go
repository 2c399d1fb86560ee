package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() types.ModelsResponse
	LoadModel(ctx context.Context, name, version string) (types.ModelOpResponse, error)
	UnloadModel(name, version string) (types.ModelOpResponse, error)
	Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error)
	InferBatch(ctx context.Context, batch types.BatchInferRequest) []types.InferResponse
	Metrics() types.MetricsResponse
	Health() types.HealthResponse
	Ready() bool
}

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when the
// handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}

// decodeJSON enforces the JSON content type and body size limit before
// decoding into dst. It writes the error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing sensible left to do.
		return
	}
}

// NewMux builds the HTTP router over the serving core.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health()
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "inferd model serving runtime",
			"version": h.Version,
			"status":  "running",
		})
	})

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req types.InferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		// Join server base context with request context so shutdown
		// cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Infer(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			logRequestEnd(r, "/infer", statusForError(err), start)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logRequestEnd(r, "/infer", http.StatusOK, start)
	})

	r.Post("/infer/batch", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var batch types.BatchInferRequest
		if !decodeJSON(w, r, &batch) {
			return
		}
		if len(batch.Requests) == 0 {
			writeJSONError(w, http.StatusBadRequest, "at least one request is required")
			return
		}
		if len(batch.Requests) > maxBatchItems {
			writeJSONError(w, http.StatusBadRequest, "too many requests in batch")
			return
		}
		for _, req := range batch.Requests {
			if strings.TrimSpace(req.Text) == "" {
				writeJSONError(w, http.StatusBadRequest, "text is required for every request")
				return
			}
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		results := svc.InferBatch(ctx, batch)
		writeJSON(w, http.StatusOK, results)
		logRequestEnd(r, "/infer/batch", http.StatusOK, start)
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ListModels())
	})

	r.Post("/models/{name}/load", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := chi.URLParam(r, "name")
		version := r.URL.Query().Get("version")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.LoadModel(ctx, name, version)
		if err != nil {
			writeServiceError(w, err)
			logRequestEnd(r, "/models/load", statusForError(err), start)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logRequestEnd(r, "/models/load", http.StatusOK, start)
	})

	r.Post("/models/{name}/unload", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := chi.URLParam(r, "name")
		version := r.URL.Query().Get("version")
		resp, err := svc.UnloadModel(name, version)
		if err != nil {
			writeServiceError(w, err)
			logRequestEnd(r, "/models/unload", statusForError(err), start)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logRequestEnd(r, "/models/unload", http.StatusOK, start)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Metrics())
	})

	// Prometheus exposition lives next to the JSON snapshot.
	r.Get("/metrics/prometheus", promhttp.Handler().ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health())
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	})

	MountSwagger(r)

	return r
}
