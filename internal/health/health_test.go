package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// =============================================================================
// Stubs
// =============================================================================

type stubCounter struct{ n int }

func (s stubCounter) Count(ctx context.Context) (int, error) { return s.n, nil }

type stubCritical struct{ err error }

func (s stubCritical) Last() error { return s.err }

type stubDue struct {
	entries []*domain.TimeoutEntry
	limit   int
	err     error
}

func (s *stubDue) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

func ok(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.New("connection refused") }

// =============================================================================
// Monitor Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	m := NewMonitor([]Check{{Name: "transport", Ping: ok, Required: true}}, WithCacheFor(0))

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
}

func TestMonitor_RequiredComponentDownIsCritical(t *testing.T) {
	m := NewMonitor([]Check{
		{Name: "transport", Ping: down, Required: true},
		{Name: "kafka", Ping: ok},
	}, WithCacheFor(0))

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
	if report.Components["transport"].Error == "" {
		t.Error("expected component error to be reported")
	}
}

func TestMonitor_OptionalComponentDownIsDegraded(t *testing.T) {
	m := NewMonitor([]Check{{Name: "kafka", Ping: down}}, WithCacheFor(0))

	if s := m.CheckHealth(context.Background()).SystemStatus; s != StatusDegraded {
		t.Errorf("expected degraded, got %s", s)
	}
}

func TestMonitor_BacklogAndCriticalErrorsDegrade(t *testing.T) {
	m := NewMonitor(nil, WithCacheFor(0), WithTimeouts(stubCounter{n: 20}, 10))
	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded || report.PendingTimeouts != 20 {
		t.Errorf("expected degraded with 20 pending, got %s/%d", report.SystemStatus, report.PendingTimeouts)
	}

	m = NewMonitor(nil, WithCacheFor(0), WithCritical(stubCritical{err: errors.New("error queue down")}))
	report = m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded || report.LastCritical == "" {
		t.Errorf("expected degraded with last critical error, got %+v", report)
	}
}

// =============================================================================
// Server Tests
// =============================================================================

func TestServer_HealthEndpoint(t *testing.T) {
	s := NewServer(NewMonitor([]Check{{Name: "transport", Ping: down, Required: true}}, WithCacheFor(0)), 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	var body Summary
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusCritical {
		t.Errorf("expected critical status, got %q", body.Status)
	}
	if len(body.Failing) != 1 || body.Failing[0] != "transport" {
		t.Errorf("expected transport to be failing, got %v", body.Failing)
	}
}

func TestServer_HealthReportsRelayBacklog(t *testing.T) {
	m := NewMonitor(nil, WithCacheFor(0),
		WithTimeouts(stubCounter{n: 3}, 0),
		WithCritical(stubCritical{err: errors.New("error queue down")}))
	s := NewServer(m, 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body Summary
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PendingTimeouts != 3 || body.LastCritical != "error queue down" || body.Status != StatusDegraded {
		t.Errorf("unexpected summary %+v", body)
	}
}

func TestServer_DueTimeouts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := &stubDue{entries: []*domain.TimeoutEntry{{
		ID:          "t-1",
		Destination: "orders",
		Headers:     domain.Headers{domain.HeaderRetries: "2"},
		Time:        now.Add(-90 * time.Second),
	}}}
	s := NewServer(NewMonitor(nil), 0, WithDueTimeouts(due), WithServerClock(func() time.Time { return now }))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timeouts/due?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if due.limit != 5 {
		t.Errorf("expected limit 5, got %d", due.limit)
	}
	var body []DueTimeout
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("expected one entry, got %d", len(body))
	}
	got := body[0]
	if got.ID != "t-1" || got.Destination != "orders" || got.Retries != 2 || got.Overdue != 90*time.Second {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Expire != "2026-03-01 11:58:30:000000 Z" {
		t.Errorf("unexpected expire %q", got.Expire)
	}
}

func TestServer_DueTimeoutsErrors(t *testing.T) {
	due := &stubDue{}
	s := NewServer(NewMonitor(nil), 0, WithDueTimeouts(due))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timeouts/due?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	due.err = errors.New("store down")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timeouts/due", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if due.limit != defaultDueLimit {
		t.Errorf("expected default limit, got %d", due.limit)
	}
}

func TestServer_DueTimeoutsNotServedWithoutStore(t *testing.T) {
	s := NewServer(NewMonitor(nil), 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timeouts/due", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServer_DetailedEndpoint(t *testing.T) {
	s := NewServer(NewMonitor([]Check{{Name: "transport", Ping: ok}}, WithCacheFor(0)), 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := report.Components["transport"]; !ok {
		t.Error("expected transport component in detailed report")
	}
}
