// Package sandbox serves an in-memory imitation of the scanning platform
// API. Scans advance one step per status request, which makes polling
// behaviour reproducible offline and in tests.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// Config controls credentials, response shape and scan progression.
type Config struct {
	Email    string
	Password string

	// Envelope wraps every response body in {"data": ...}.
	Envelope bool

	// PendingPolls is how many status requests return "pending" before
	// the scan starts running.
	PendingPolls int

	// Progression lists the progress values reported while running. The
	// request after the last one observes the terminal state.
	Progression []int
}

// DefaultConfig returns the credentials and progression used by the
// sandbox command.
func DefaultConfig() Config {
	return Config{
		Email:        "admin@example.com",
		Password:     "changeme",
		PendingPolls: 1,
		Progression:  []int{25, 50, 75},
	}
}

type scanState struct {
	scan     schema.Scan
	polls    int
	findings []map[string]any
	fail     bool
}

// Server is the sandbox platform.
type Server struct {
	cfg Config
	log logr.Logger
	now func() time.Time

	mu      sync.Mutex
	tokens  map[string]bool
	scans   map[schema.ScanID]*scanState
	reports []schema.Report

	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a sandbox server.
func New(cfg Config, opts ...Option) *Server {
	if cfg.PendingPolls < 0 {
		cfg.PendingPolls = 0
	}
	s := &Server{
		cfg:      cfg,
		log:      logr.Discard(),
		now:      time.Now,
		tokens:   map[string]bool{},
		scans:    map[schema.ScanID]*scanState{},
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yoroprobe_sandbox_requests_total",
				Help: "Requests served by the sandbox platform",
			},
			[]string{"method", "route", "code"},
		),
	}
	s.registry.MustRegister(s.requests)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	mux.Use(s.observe)

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.Post("/auth/login", s.handleLogin)
	mux.Group(func(rt chi.Router) {
		rt.Use(s.requireToken)
		rt.Post("/scans", s.handleCreateScan)
		rt.Get("/scans/{id}", s.handleGetScan)
		rt.Post("/reports/generate", s.handleGenerateReport)
		rt.Get("/reports", s.handleListReports)
	})
	return mux
}

// ListenAndServe serves the sandbox on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("sandbox listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down sandbox")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.log.V(1).Info("request", "method", r.Method, "path", r.URL.Path, "status", status,
			"requestID", r.Header.Get("X-Request-ID"), "duration", time.Since(start).String())
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		valid := ok && s.tokens[token]
		s.mu.Unlock()
		if !valid {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Email != s.cfg.Email || body.Password != s.cfg.Password {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req schema.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		s.writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if req.Type == "" {
		req.Type = "generic"
	}

	now := s.now().UTC()
	st := &scanState{
		scan: schema.Scan{
			ID:        schema.ScanID(uuid.NewString()),
			Target:    req.Target,
			Type:      req.Type,
			Status:    schema.StatusPending,
			CreatedAt: &now,
			UpdatedAt: &now,
		},
		findings: findingsFor(req.Type, req.Target),
		fail:     strings.Contains(strings.ToLower(req.Target), "fail"),
	}

	s.mu.Lock()
	s.scans[st.scan.ID] = st
	resp := scanView(st)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := schema.ScanID(chi.URLParam(r, "id"))

	s.mu.Lock()
	st, ok := s.scans[id]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	s.advance(st)
	resp := scanView(st)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, resp)
}

// advance moves st one step along its script. Terminal scans never change.
func (s *Server) advance(st *scanState) {
	if st.scan.Status.Terminal() {
		return
	}
	st.polls++
	now := s.now().UTC()
	st.scan.UpdatedAt = &now

	step := st.polls - s.cfg.PendingPolls
	switch {
	case step <= 0:
		st.scan.Status = schema.StatusPending
	case step <= len(s.cfg.Progression):
		st.scan.Status = schema.StatusRunning
		st.scan.Progress = schema.ClampProgress(s.cfg.Progression[step-1])
	case st.fail:
		st.scan.Status = schema.StatusFailed
		st.scan.ErrorMessage = "scanner exited with status 1: target unreachable"
		st.scan.CompletedAt = &now
	default:
		st.scan.Status = schema.StatusCompleted
		st.scan.Progress = 100
		st.scan.CompletedAt = &now
	}
}

// scanView renders the wire form of a scan. Results are only attached
// once the scan is completed.
func scanView(st *scanState) map[string]any {
	v := map[string]any{
		"id":         st.scan.ID,
		"target":     st.scan.Target,
		"type":       st.scan.Type,
		"status":     st.scan.Status,
		"progress":   st.scan.Progress,
		"created_at": st.scan.CreatedAt,
		"updated_at": st.scan.UpdatedAt,
	}
	if st.scan.CompletedAt != nil {
		v["completed_at"] = st.scan.CompletedAt
	}
	if st.scan.ErrorMessage != "" {
		v["error_message"] = st.scan.ErrorMessage
	}
	if st.scan.Status == schema.StatusCompleted {
		v["results"] = st.findings
	}
	return v
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req schema.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Format == "" {
		req.Format = "pdf"
	}

	s.mu.Lock()
	st, ok := s.scans[req.ScanID]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if st.scan.Status != schema.StatusCompleted {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "scan is not completed")
		return
	}
	now := s.now().UTC()
	rep := schema.Report{
		ID:        uuid.NewString(),
		ScanID:    req.ScanID,
		Format:    req.Format,
		Status:    "completed",
		CreatedAt: &now,
	}
	rep.URL = "/reports/" + rep.ID + "/download"
	s.reports = append(s.reports, rep)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusAccepted, schema.ReportJob{
		ID:      rep.ID,
		ScanID:  rep.ScanID,
		Format:  rep.Format,
		Status:  "queued",
		Message: "report generation started",
	})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	scanID := schema.ScanID(r.URL.Query().Get("scanId"))

	s.mu.Lock()
	list := make([]schema.Report, 0, len(s.reports))
	for _, rep := range s.reports {
		if scanID == "" || rep.ScanID == scanID {
			list = append(list, rep)
		}
	}
	s.mu.Unlock()

	if s.cfg.Envelope {
		s.writeJSON(w, http.StatusOK, list)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	if s.cfg.Envelope {
		v = map[string]any{"data": v}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(err, "encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
