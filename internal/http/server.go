package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"financas/internal/backend"
	"financas/internal/core"
	"financas/internal/log"
	"financas/internal/middleware/ratelimit"
	"financas/internal/middleware/security"
	"financas/internal/middleware/trace"
	"financas/internal/rates"
	"financas/internal/session"
	"financas/internal/storage"
)

// RateReader is the part of the rate service the API reads from.
type RateReader interface {
	RateAt(ctx context.Context, d core.Date) (core.RateRecord, rates.Source, error)
	Schedule(ctx context.Context) (rates.Schedule, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotStore is the rate snapshot storage the readiness check inspects.
type SnapshotStore interface {
	Pinger
	ListSnapshots(ctx context.Context) ([]storage.SnapshotInfo, error)
}

// Deps are the collaborators of the API. Source, Rates, Snapshots and
// SchemaVersion may be nil; the matching endpoints then report 503 or skip
// the check.
type Deps struct {
	Sessions       *session.Store
	Rates          RateReader
	Source         backend.Source
	Snapshots      SnapshotStore
	SchemaVersion  func() (uint, bool, error)
	Logger         *log.Logger
	MaxUploadBytes int64
	ImportTimeout  time.Duration
	RateLimit      ratelimit.Config
}

// Server is the dashboard API.
type Server struct {
	http.Server

	deps       Deps
	log        *log.Logger
	structured *log.StructuredLogger
	tracer     *trace.Middleware
	detector   *security.Detector
	limiter    *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.ImportTimeout <= 0 {
		deps.ImportTimeout = 30 * time.Second
	}

	detector := security.NewDetector(logger.Slog())
	s := &Server{
		deps:       deps,
		log:        logger,
		structured: log.NewStructuredLogger(logger),
		tracer:     trace.NewMiddleware(logger, detector.ExtractClientIP),
		detector:   detector,
		limiter:    ratelimit.NewLimiter(deps.RateLimit),
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(CodeNotFound, "route not found").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError("").Write(w)
	})

	r.Use(
		s.tracer.Middleware,
		log.Middleware(logger),
		log.RequestIDMiddleware(trace.RequestID),
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
		detector.Middleware,
		s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			TooManyRequestsError().Write(w)
		}, http.MethodPost, http.MethodPut),
	)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/sessions/import", s.handleImport).Methods(http.MethodPost)

	sr := r.PathPrefix("/sessions/{id}").Subrouter()
	sr.HandleFunc("", s.handleGetSession).Methods(http.MethodGet)
	sr.HandleFunc("", s.handleDeleteSession).Methods(http.MethodDelete)
	sr.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	sr.HandleFunc("/evolution", s.handleEvolution).Methods(http.MethodGet)
	sr.HandleFunc("/institutions", s.handleInstitutions).Methods(http.MethodGet)
	sr.HandleFunc("/institutions/distribution", s.handleDistribution).Methods(http.MethodGet)
	sr.HandleFunc("/goal", s.handleUpdateGoal).Methods(http.MethodPut, http.MethodPost)
	sr.HandleFunc("/goal", s.handleGetGoal).Methods(http.MethodGet)

	r.HandleFunc("/rates", s.handleRates).Methods(http.MethodGet)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the limiter's cleanup goroutine and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// TraceMetrics returns request counters for periodic logging.
func (s *Server) TraceMetrics() trace.Metrics { return s.tracer.GetMetrics() }

// RateLimitMetrics returns limiter counters for periodic logging.
func (s *Server) RateLimitMetrics() ratelimit.Metrics { return s.limiter.GetMetrics() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

type readiness struct {
	Status        string           `json:"status"`
	Storage       string           `json:"storage"`
	SchemaVersion *uint            `json:"schema_version,omitempty"`
	Sessions      int              `json:"sessions"`
	Snapshots     []snapshotStatus `json:"snapshots,omitempty"`
	Error         string           `json:"error,omitempty"`
}

type snapshotStatus struct {
	Series      string    `json:"series"`
	FetchedAt   time.Time `json:"fetched_at"`
	AgeSeconds  int64     `json:"age_seconds"`
	RecordCount int       `json:"record_count"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	body := readiness{Status: "ready", Storage: "disabled", Sessions: s.deps.Sessions.Len()}
	if s.deps.Snapshots == nil {
		NewJSONResponse().Body(body).Write(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	body.Storage = "ok"
	if err := s.deps.Snapshots.Ping(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
		body.Status, body.Storage, body.Error = "unavailable", "unreachable", err.Error()
		NewJSONResponse().Status(http.StatusServiceUnavailable).Body(body).Write(w)
		return
	}
	if s.deps.SchemaVersion != nil {
		version, dirty, err := s.deps.SchemaVersion()
		if err != nil || dirty {
			body.Status, body.Storage = "unavailable", "migration_dirty"
			if err != nil {
				body.Storage, body.Error = "migration_unknown", err.Error()
			}
			NewJSONResponse().Status(http.StatusServiceUnavailable).Body(body).Write(w)
			return
		}
		body.SchemaVersion = &version
	}

	infos, err := s.deps.Snapshots.ListSnapshots(ctx)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Snapshot listing failed", "error", err)
		body.Status, body.Storage, body.Error = "unavailable", "query_failed", err.Error()
		NewJSONResponse().Status(http.StatusServiceUnavailable).Body(body).Write(w)
		return
	}
	now := time.Now()
	body.Snapshots = make([]snapshotStatus, len(infos))
	for i, info := range infos {
		body.Snapshots[i] = snapshotStatus{
			Series:      info.Series,
			FetchedAt:   info.FetchedAt,
			AgeSeconds:  int64(now.Sub(info.FetchedAt) / time.Second),
			RecordCount: info.RecordCount,
		}
	}
	NewJSONResponse().Body(body).Write(w)
}
