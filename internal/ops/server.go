// Package ops serves the operator endpoints: /healthz, /metrics, /status
// and, when enabled, /debug/pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calnotify/internal/reminder"
	"calnotify/internal/runtime/supervisor"
	"calnotify/internal/storage"
	logx "calnotify/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

// Sources are the read-only views /status and /healthz report on. Nil
// fields are omitted.
type Sources struct {
	LastTick    func() (reminder.TickReport, bool)
	NextTick    func() time.Time
	Recent      func(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
	Supervisors func() map[string][]supervisor.Stats
	// Health reports an error when the process should be considered down.
	Health func(ctx context.Context) error
}

type Status struct {
	Now         time.Time                     `json:"now"`
	LastTick    *reminder.TickReport          `json:"last_tick,omitempty"`
	NextTick    *time.Time                    `json:"next_tick,omitempty"`
	Recent      []storage.DeliveryRecord      `json:"recent,omitempty"`
	RecentErr   string                        `json:"recent_err,omitempty"`
	Supervisors map[string][]supervisor.Stats `json:"supervisors,omitempty"`
}

type Server struct {
	log     logx.Logger
	src     Sources
	metrics *Metrics
	pprof   bool

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

// EnablePprof mounts the profiler under /debug. Call before Start.
func (s *Server) EnablePprof() { s.pprof = true }

func NewServer(src Sources, metrics *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log, src: src, metrics: metrics}
}

// Handler builds the chi router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if s.pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.src.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.src.Health(ctx); err != nil {
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 500 {
			http.Error(w, "limit must be 0..500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	st := Status{Now: time.Now().UTC()}
	if s.src.LastTick != nil {
		if rep, ok := s.src.LastTick(); ok {
			st.LastTick = &rep
		}
	}
	if s.src.NextTick != nil {
		if next := s.src.NextTick(); !next.IsZero() {
			st.NextTick = &next
		}
	}
	if s.src.Recent != nil && limit > 0 {
		recs, err := s.src.Recent(r.Context(), limit)
		if err != nil {
			st.RecentErr = err.Error()
		}
		st.Recent = recs
	}
	if s.src.Supervisors != nil {
		st.Supervisors = s.src.Supervisors()
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		s.log.Debug("status encode failed", logx.Err(err))
	}
}

// Start listens on addr (DefaultAddr when empty) and serves in the
// background. Listen errors are returned; serve errors are logged.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("ops server already running")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", ln.Addr().String()), logx.Err(err))
		}
	}()
	s.log.Info("ops server listening", logx.String("addr", s.addr))
	return nil
}

// Addr is the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.addr = nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
