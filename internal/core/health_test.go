package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubProbe struct {
	name string
	err  error
}

func (p stubProbe) Name() string                  { return p.name }
func (p stubProbe) Check(_ context.Context) error { return p.err }

type stubPinger struct{ err error }

func (p stubPinger) Ping(_ context.Context) error { return p.err }

func checkHealth(t *testing.T, srv *Server) (int, healthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.HandleHealth(w, r)

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return w.Code, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := newTestServer(t)
	code, body := checkHealth(t, srv)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestHandleHealth_AllProbesPass(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		stubProbe{name: "database"},
		stubProbe{name: "queue"},
	}
	code, body := checkHealth(t, srv)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(body.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(body.Components))
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("database = %+v", body.Components["database"])
	}
}

func TestHandleHealth_FailingProbeReports503(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		stubProbe{name: "database"},
		stubProbe{name: "queue", err: errors.New("connection refused")},
	}
	code, body := checkHealth(t, srv)

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("overall = %q", body.Status)
	}
	if body.Components["queue"].Status != "unhealthy" {
		t.Errorf("queue = %+v", body.Components["queue"])
	}
	if body.Components["queue"].Message != "connection refused" {
		t.Errorf("message = %q", body.Components["queue"].Message)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("database = %+v", body.Components["database"])
	}
}

func TestPoolProbe(t *testing.T) {
	probe := PoolProbe{ProbeName: "database", Pinger: stubPinger{}}
	if probe.Name() != "database" {
		t.Errorf("name = %q", probe.Name())
	}
	if err := probe.Check(context.Background()); err != nil {
		t.Errorf("check: %v", err)
	}

	broken := PoolProbe{ProbeName: "database", Pinger: stubPinger{err: errors.New("pool closed")}}
	if err := broken.Check(context.Background()); err == nil {
		t.Error("expected ping error to surface")
	}
}
