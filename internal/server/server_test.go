package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"voltex/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer("127.0.0.1:0", store, nil, slog.Default()), store
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	s, store := testServer(t)
	if err := store.RecordRunQueued(storage.RunRecord{ID: "r1", Acquisition: "20230322-14-02-31", Status: "queued"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RecordRunResult("r1", "completed", "/out/x", "", "", 3, 2, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Timepoints != 3 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRunByIDEndpoint(t *testing.T) {
	s, store := testServer(t)
	if err := store.RecordRunQueued(storage.RunRecord{ID: "r1", Acquisition: "a", Status: "queued"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d for missing run", rec.Code)
	}
}
