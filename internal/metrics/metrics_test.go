package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewServer(t *testing.T) {
	srv := newServer(":9100")

	if srv.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("Expected 10s read header timeout, got %v", srv.ReadHeaderTimeout)
	}

	JobsTotal.WithLabelValues("complete").Inc()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "crawlytics_jobs_total") {
		t.Errorf("Expected crawlytics_jobs_total in output")
	}
}

func TestStartServer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, "127.0.0.1:0") }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StartServer did not return after cancel")
	}
}
