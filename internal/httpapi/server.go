package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/coherence-hub/internal/auth"
	"github.com/rickgao/coherence-hub/internal/clock"
	"github.com/rickgao/coherence-hub/internal/metrics"
	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/version"
	"github.com/rickgao/coherence-hub/internal/writer"
)

const maxBodyBytes = 1 << 20

// Engine makes routing decisions and owns the degraded flag.
type Engine interface {
	Decide(req policy.Request) (policy.Decision, error)
	SetDegraded(degraded bool)
	Degraded() bool
}

// Hub is the WebSocket side of the service.
type Hub interface {
	http.Handler
	FieldState() model.FieldState
	ClientCount() int
}

// LaneStats reports lane writer counters.
type LaneStats interface {
	Stats() map[model.Lane]writer.LaneStats
}

// Pinger checks a backing store. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server. Engine and Hub are required.
type Options struct {
	Engine      Engine
	Hub         Hub
	Lanes       LaneStats      // optional
	DB          Pinger         // optional
	Verifier    *auth.Verifier // nil leaves admin endpoints unauthenticated
	Limiter     *RateLimiter   // nil disables rate limiting
	MetricsPath string
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger
	started time.Time
	router  chi.Router
}

// NewServer builds the route table.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "httpapi"),
	}
	s.started = s.clock.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.instrument)
	r.Use(s.recoverer)

	r.With(s.rateLimit).Post("/route", s.handleRoute)
	r.Get("/field", s.handleField)
	r.Get("/health", s.handleHealth)
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireSignature)
		r.Get("/degraded", s.handleGetDegraded)
		r.Put("/degraded", s.handlePutDegraded)
	})
	r.Method(http.MethodGet, opts.MetricsPath, metrics.Handler())
	r.Method(http.MethodGet, "/ws", opts.Hub)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run prunes idle rate limiter entries until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.Limiter == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.opts.Limiter.Cleanup(s.clock.Now()); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []policy.FieldError `json:"fields,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req policy.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request body",
			Fields: []policy.FieldError{{Field: "body", Reason: err.Error()}},
		})
		return
	}

	d, err := s.opts.Engine.Decide(req)
	if err != nil {
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
			return
		}
		s.logger.Error("routing decision failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Hub.FieldState())
}

type healthResponse struct {
	Status   string                          `json:"status"`
	Database string                          `json:"database,omitempty"`
	Version  version.Info                    `json:"version"`
	Uptime   string                          `json:"uptime"`
	Clients  int                             `json:"clients"`
	Degraded bool                            `json:"degraded"`
	Lanes    map[model.Lane]writer.LaneStats `json:"lanes,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  version.Get(),
		Uptime:   s.clock.Now().Sub(s.started).Round(time.Second).String(),
		Clients:  s.opts.Hub.ClientCount(),
		Degraded: s.opts.Engine.Degraded(),
	}
	if s.opts.Lanes != nil {
		resp.Lanes = s.opts.Lanes.Stats()
	}

	status := http.StatusOK
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp.Database = "connected"
		if err := s.opts.DB.Ping(ctx); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			resp.Status = "unhealthy"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

type degradedBody struct {
	Degraded *bool `json:"degraded"`
}

func (s *Server) handleGetDegraded(w http.ResponseWriter, r *http.Request) {
	d := s.opts.Engine.Degraded()
	writeJSON(w, http.StatusOK, degradedBody{Degraded: &d})
}

func (s *Server) handlePutDegraded(w http.ResponseWriter, r *http.Request) {
	var body degradedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Degraded == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request body",
			Fields: []policy.FieldError{{Field: "degraded", Reason: "required boolean"}},
		})
		return
	}

	s.opts.Engine.SetDegraded(*body.Degraded)
	s.logger.Warn("degraded mode set via admin endpoint",
		"degraded", *body.Degraded,
		"key_id", keyIDFrom(r.Context()),
	)
	s.handleGetDegraded(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
