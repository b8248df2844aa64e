// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/metrics"
	"github.com/colebrumley/cortex/internal/orchestrator"
	"github.com/colebrumley/cortex/internal/perception"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/state"
)

const maxBodyBytes = 1 << 20

type RuleStore interface {
	Add(rule rules.Rule) error
	Remove(id string) error
	Toggle(id string) (bool, error)
	Get(id string) (rules.Rule, error)
	List() []rules.Rule
	Active() []rules.Rule
}

type RuleCompiler interface {
	Compile(ctx context.Context, text string) (rules.Rule, error)
}

type EventReader interface {
	RecentEvents(ctx context.Context, limit int) ([]activity.Event, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]activity.Event, error)
}

type HistoryReader interface {
	GetHistory(ctx context.Context, ruleID string, limit int) ([]state.ActionRecord, error)
}

type BlockLister interface {
	Active() []action.BlockStatus
}

type CycleStatus interface {
	State() orchestrator.State
	Last() (orchestrator.Report, bool)
	Refused() uint64
}

// Deps are the collaborators behind the API. Nil optional fields disable
// their routes with 503.
type Deps struct {
	Rules     RuleStore
	Compiler  RuleCompiler
	Events    EventReader
	History   HistoryReader
	Blocks    BlockLister
	Bridge    *perception.Bridge
	Cycles    CycleStatus
	MCP       http.Handler
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Freshness time.Duration
}

type Options struct {
	RateLimit float64 // requests per second per client
	RateBurst int
}

// Server is the local HTTP API: health, metrics, rules, events, history,
// blocks, the browser extension bridge and MCP.
type Server struct {
	deps      Deps
	router    chi.Router
	startTime time.Time
}

func New(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Freshness <= 0 {
		deps.Freshness = 60 * time.Second
	}
	s := &Server{deps: deps, startTime: time.Now()}
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		r.Use(newRateLimiter(opts.RateLimit, opts.RateBurst).middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/compile", s.handleCompileRule)
			r.Get("/{id}", s.handleGetRule)
			r.Post("/{id}/toggle", s.handleToggleRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})
		r.Get("/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
		r.Get("/blocks", s.handleBlocks)
	})

	r.Post("/extension-data", s.handleExtensionData)
	r.Get("/extension-status", s.handleExtensionStatus)

	if s.deps.MCP != nil {
		r.Handle("/mcp", s.deps.MCP)
		r.Handle("/mcp/*", s.deps.MCP)
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.HTTPRequest(r.Method, route, status)
		s.deps.Logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	respondJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
