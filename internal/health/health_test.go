package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func okPing(context.Context) error { return nil }

func TestHealthzReportsNode(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1")
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Node != "whisper-node-1" {
		t.Errorf("node = %q, want whisper-node-1", body.Node)
	}
}

func TestReadyzBothDependenciesUp(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1", Registry(okPing), TaskStore(okPing))
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Checks["registry"] != "ok" {
		t.Errorf("registry check = %q, want ok", body.Checks["registry"])
	}
	if body.Checks["task_store"] != "ok" {
		t.Errorf("task_store check = %q, want ok", body.Checks["task_store"])
	}
}

func TestReadyzRegistryDown(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1",
		Registry(func(context.Context) error {
			return errors.New("connection refused")
		}),
		TaskStore(okPing),
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["registry"] != "fail: connection refused" {
		t.Errorf("registry check = %q", body.Checks["registry"])
	}
	// One dead dependency must not mask the other's result.
	if body.Checks["task_store"] != "ok" {
		t.Errorf("task_store check = %q, want ok", body.Checks["task_store"])
	}
}

func TestReadyzTaskStoreDown(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1",
		Registry(okPing),
		TaskStore(func(context.Context) error {
			return errors.New("pool closed")
		}),
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := decode(t, rec).Checks["task_store"]; got != "fail: pool closed" {
		t.Errorf("task_store check = %q", got)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1")
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1", Registry(okPing), TaskStore(okPing))
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyzRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New("whisper-node-1", Registry(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
