// Package httpapi exposes sirr's secret store over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/SirrVault/sirr/pkg/metrics"
	"github.com/SirrVault/sirr/pkg/record"
	"github.com/SirrVault/sirr/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Store is the subset of *store.Store the HTTP layer depends on.
type Store interface {
	Put(in store.PutInput) (*record.Record, error)
	Get(key string) ([]byte, *record.Record, error)
	Patch(key string, plaintext []byte) (*record.Record, error)
	Head(key string) (*record.Record, error)
	List() ([]*record.Record, error)
	Delete(key string) error
	Prune() (int, error)
}

// LicenseGate is the subset of *license.Gate the HTTP layer depends on.
type LicenseGate interface {
	AllowCreate(ctx context.Context, currentCount int) error
}

// Config configures a Server.
type Config struct {
	Store         Store
	License       LicenseGate
	APIKey        string // empty disables bearer auth on gated endpoints
	MaxValueBytes int
	CORSOrigins   []string
}

// Server wires the secret store to an HTTP mux. Gated endpoints (writes,
// listing, prune) require a bearer token when APIKey is set; read
// endpoints (get, head) and /health and /metrics are always public.
type Server struct {
	router        *chi.Mux
	store         Store
	license       LicenseGate
	maxValueBytes int
}

// NewServer builds the router and mounts every route.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		store:         cfg.Store,
		license:       cfg.License,
		maxValueBytes: cfg.MaxValueBytes,
	}

	s.router.Use(RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(Metrics)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Get("/secrets/{key}", s.handleGetSecret)
	s.router.Head("/secrets/{key}", s.handleHeadSecret)

	s.router.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(BearerAuth(cfg.APIKey))
		}
		r.Post("/secrets", s.handleCreateSecret)
		r.Patch("/secrets/{key}", s.handlePatchSecret)
		r.Get("/secrets", s.handleListSecrets)
		r.Delete("/secrets/{key}", s.handleDeleteSecret)
		r.Post("/prune", s.handlePrune)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr, honoring ctx for
// graceful shutdown: when ctx is canceled the server is given
// shutdownTimeout to drain in-flight requests before returning.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
