// Package gateway serves remote media objects over HTTP with byte-range
// support.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mediagate/pkg/fetcher"
	"mediagate/pkg/metrics"
	"mediagate/pkg/storage"
	"mediagate/pkg/types"
	"mediagate/pkg/utils"

	"go.uber.org/zap"
)

// Descriptors resolves object ids to descriptors and metadata
type Descriptors interface {
	Resolve(ctx context.Context, id types.ObjectID) (types.ObjectDescriptor, types.ObjectMetadata, error)
	Len() int
}

// Sessions reports on the datacenter sessions behind the gateway
type Sessions interface {
	HomeDatacenter() types.DatacenterID
	Statistics() map[string]interface{}
}

// Config configures the HTTP surface
type Config struct {
	Address string
	// PublicURL prefixes links on the player page; derived from the
	// request when empty
	PublicURL          string
	ChunkSize          int64
	CacheControlMaxAge int
	Version            string
}

// Server is the HTTP gateway
type Server struct {
	cfg         Config
	descriptors Descriptors
	sessions    Sessions
	fetcher     *fetcher.Fetcher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	started     time.Time

	handler http.Handler
	server  *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records request metrics and exposes /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new gateway server
func New(cfg Config, descriptors Descriptors, sessions Sessions, f *fetcher.Fetcher, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = storage.DefaultChunkSize
	}
	if err := storage.ValidateChunkSize(cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:         cfg,
		descriptors: descriptors,
		sessions:    sessions,
		fetcher:     f,
		logger:      logger,
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = withRequestID(s.withAccessLog(s.routes()))
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /player/{id}", s.handlePlayer)
	mux.HandleFunc("GET /{id}", s.handleStream)
	mux.HandleFunc("GET /{id}/{name}", s.handleStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until Shutdown
func (s *Server) ListenAndServe() error {
	s.logger.Info("Gateway listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "running",
		"uptime":          utils.FormatUptime(time.Since(s.started)),
		"version":         s.cfg.Version,
		"home_datacenter": int(s.sessions.HomeDatacenter()),
		"sessions":        s.sessions.Statistics(),
		"cached_objects":  s.descriptors.Len(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP statuses. A chunk failure is
// a bad gateway whatever the remote said about it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrDecode):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, types.ErrSession):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends a generic body for err; details stay in the log
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("Request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	http.Error(w, http.StatusText(code), code)
}
