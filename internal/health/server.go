package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/redeliver/internal/core/domain"
)

const (
	defaultDueLimit = 50
	maxDueLimit     = 1000
)

// DueLister lists timeouts whose expiry has passed.
type DueLister interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error)
}

// Summary is the body of /health.
type Summary struct {
	Status          SystemStatus `json:"status"`
	PendingTimeouts int          `json:"pending_timeouts"`
	LastCritical    string       `json:"last_critical_error,omitempty"`
	// Failing names the components whose ping failed, sorted.
	Failing []string `json:"failing,omitempty"`
}

// DueTimeout is one entry of /timeouts/due.
type DueTimeout struct {
	ID          string        `json:"id"`
	Destination string        `json:"destination"`
	Expire      string        `json:"expire"`
	Overdue     time.Duration `json:"overdue_ns"`
	Retries     int           `json:"retries"`
}

// Server serves health, timeout backlog and metrics endpoints.
type Server struct {
	monitor *Monitor
	due     DueLister
	now     func() time.Time
	server  *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDueTimeouts exposes the relay backlog at /timeouts/due.
func WithDueTimeouts(l DueLister) ServerOption {
	return func(s *Server) { s.due = l }
}

// WithServerClock overrides the time used to compute overdue timeouts.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates the health server listening on port.
func NewServer(monitor *Monitor, port int, opts ...ServerOption) *Server {
	s := &Server{monitor: monitor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes served by the health server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	if s.due != nil {
		mux.HandleFunc("GET /timeouts/due", s.handleDue)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	summary := Summary{
		Status:          report.SystemStatus,
		PendingTimeouts: report.PendingTimeouts,
		LastCritical:    report.LastCritical,
	}
	for name, c := range report.Components {
		if c.Error != "" {
			summary.Failing = append(summary.Failing, name)
		}
	}
	sort.Strings(summary.Failing)

	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, summary)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	limit := defaultDueLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxDueLimit)
	}

	now := s.now()
	entries, err := s.due.GetDue(r.Context(), now, limit)
	if err != nil {
		http.Error(w, "failed to list due timeouts", http.StatusServiceUnavailable)
		return
	}

	out := make([]DueTimeout, 0, len(entries))
	for _, e := range entries {
		retries, _ := strconv.Atoi(e.Headers[domain.HeaderRetries])
		out = append(out, DueTimeout{
			ID:          e.ID,
			Destination: e.Destination,
			Expire:      domain.ToWireFormattedString(e.Time),
			Overdue:     now.Sub(e.Time),
			Retries:     retries,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
