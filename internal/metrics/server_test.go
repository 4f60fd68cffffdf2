package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_OverallStatus(t *testing.T) {
	tests := []struct {
		name      string
		checks    map[string]string
		want      string
		wantCode  int
		wantReady int
	}{
		{
			name:      "no checks",
			want:      StatusHealthy,
			wantCode:  http.StatusOK,
			wantReady: http.StatusOK,
		},
		{
			name:      "all healthy",
			checks:    map[string]string{"limits": StatusHealthy, "feed": StatusHealthy},
			want:      StatusHealthy,
			wantCode:  http.StatusOK,
			wantReady: http.StatusOK,
		},
		{
			name:      "stream reconnecting",
			checks:    map[string]string{"limits": StatusHealthy, "feed": StatusDegraded},
			want:      StatusDegraded,
			wantCode:  http.StatusOK,
			wantReady: http.StatusOK,
		},
		{
			name:      "kill switch beats degraded",
			checks:    map[string]string{"limits": StatusUnhealthy, "order_stream": StatusDegraded},
			want:      StatusUnhealthy,
			wantCode:  http.StatusServiceUnavailable,
			wantReady: http.StatusServiceUnavailable,
		},
		{
			name:      "unknown status counts as unhealthy",
			checks:    map[string]string{"feed": "stale"},
			want:      StatusUnhealthy,
			wantCode:  http.StatusServiceUnavailable,
			wantReady: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(DefaultServerConfig(), nil)
			for name, status := range tt.checks {
				name, status := name, status
				s.RegisterHealthCheck(name, func() Check {
					return Check{Status: status, Message: name}
				})
			}

			w := get(t, s, "/health")
			if w.Code != tt.wantCode {
				t.Errorf("/health code = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var hs HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&hs); err != nil {
				t.Fatalf("decode /health: %v", err)
			}
			if hs.Status != tt.want {
				t.Errorf("status = %s, want %s", hs.Status, tt.want)
			}
			if len(hs.Checks) != len(tt.checks) {
				t.Errorf("len(checks) = %d, want %d", len(hs.Checks), len(tt.checks))
			}
			for name, status := range tt.checks {
				if got := hs.Checks[name]; got.Status != status || got.Message != name {
					t.Errorf("checks[%s] = %+v, want status %s", name, got, status)
				}
			}

			if r := get(t, s, "/ready"); r.Code != tt.wantReady {
				t.Errorf("/ready code = %d, want %d", r.Code, tt.wantReady)
			}
		})
	}
}

func TestServer_ReplacingCheck(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	s.RegisterHealthCheck("limits", func() Check { return Check{Status: StatusUnhealthy} })
	s.RegisterHealthCheck("limits", func() Check { return Check{Status: StatusHealthy} })

	if got := s.Health(); got.Status != StatusHealthy || len(got.Checks) != 1 {
		t.Errorf("Health() = %s with %d checks, want healthy with 1", got.Status, len(got.Checks))
	}
}

func TestServer_Probes(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)

	if w := get(t, s, "/live"); w.Code != http.StatusOK || w.Body.String() != "alive" {
		t.Errorf("/live = %d %q, want 200 alive", w.Code, w.Body.String())
	}
	if w := get(t, s, "/ready"); w.Body.String() != "ready" {
		t.Errorf("/ready body = %q, want ready", w.Body.String())
	}

	s.RegisterHealthCheck("limits", func() Check { return Check{Status: StatusUnhealthy} })
	if w := get(t, s, "/ready"); w.Body.String() != "not ready" {
		t.Errorf("/ready body = %q, want not ready", w.Body.String())
	}
	if w := get(t, s, "/live"); w.Code != http.StatusOK {
		t.Errorf("/live code = %d while unhealthy, want 200", w.Code)
	}
}

func TestServer_CustomPaths(t *testing.T) {
	s := NewServer(ServerConfig{Port: 0, MetricsPath: "/prom", HealthPath: "/healthz"}, nil)

	if w := get(t, s, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("/healthz code = %d, want 200", w.Code)
	}
	if w := get(t, s, "/prom"); w.Code != http.StatusOK {
		t.Errorf("/prom code = %d, want 200", w.Code)
	}
}

func TestServer_HandlerServesMetrics(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)
	NewRecorder().RecordHeartbeat()

	w := get(t, s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "short_averager_heartbeat_timestamp_seconds") {
		t.Error("expected heartbeat metric in /metrics output")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer(ServerConfig{Port: 19091, MetricsPath: "/metrics", HealthPath: "/health"}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if s.Uptime() <= 0 {
		t.Errorf("Uptime() = %v, want > 0", s.Uptime())
	}
}
