package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/triage/internal/duckdb"
	"github.com/tinytelemetry/triage/internal/index"
	"github.com/tinytelemetry/triage/internal/ingest"
	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/workqueue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store    *duckdb.Store
	registry *ingest.Registry
	queue    *workqueue.Queue
	router   *gin.Engine
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	ix, err := index.Open(index.Options{
		ParsedPath: filepath.Join(dir, "parsed.jsonl"),
		IndexPath:  filepath.Join(dir, "index.jsonl"),
	})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })

	registry := ingest.NewRegistry(model.DefaultTemplateIDPrefix)
	for seq := int64(1); seq <= 5; seq++ {
		id, _ := registry.Resolve("op <NUM>", "op 1", "INFO", "C")
		entry := &model.LogEntry{SourceID: "a.log", SequenceID: seq, Level: "INFO", TemplateID: id, TemplateText: "op <NUM>"}
		if _, err := ix.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	retriever, err := index.NewRetriever(ix.Index(), ix.ParsedPath(), ix.ParsedSize, -1)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	t.Cleanup(func() { retriever.Close() })

	q := workqueue.New(8)
	srv := NewServer("", Deps{
		Store:     store,
		Reader:    retriever,
		Templates: registry,
		Queue:     q,
		Index:     ix.Index(),
	})
	return &fixture{store: store, registry: registry, queue: q, router: srv.routes()}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %s: %v (body %q)", path, err, w.Body.String())
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer(t)

	w, body := f.get(t, "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	f := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	// Gin returns 405 for method not allowed when a route exists but not for this method
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newTestServer(t)
	if err := f.queue.Put(context.Background(), model.ProblemTask{SourceID: "a.log", SequenceID: 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w, body := f.get(t, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["indexed_entries"] != float64(5) {
		t.Errorf("indexed_entries = %v, want 5", body["indexed_entries"])
	}
	if body["templates"] != float64(1) {
		t.Errorf("templates = %v, want 1", body["templates"])
	}
	queue, ok := body["queue"].(map[string]any)
	if !ok {
		t.Fatalf("queue stats missing: %v", body)
	}
	if queue["depth"] != float64(1) || queue["capacity"] != float64(8) {
		t.Errorf("queue stats = %v", queue)
	}
	if _, ok := body["store"].(map[string]any); !ok {
		t.Errorf("store counts missing: %v", body)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	f := newTestServer(t)

	w, body := f.get(t, "/api/templates")
	if w.Code != http.StatusOK {
		t.Fatalf("templates status = %d", w.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	list := body["templates"].([]any)
	first := list[0].(map[string]any)
	if first["template_text"] != "op <NUM>" {
		t.Errorf("template_text = %v", first["template_text"])
	}
}

func TestContextEndpoint(t *testing.T) {
	f := newTestServer(t)

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantCount float64
		wantFirst float64
	}{
		{name: "default window", path: "/api/context?source=a.log&seq=5", wantCode: http.StatusOK, wantCount: 4, wantFirst: 1},
		{name: "small window", path: "/api/context?source=a.log&seq=5&window=2", wantCode: http.StatusOK, wantCount: 2, wantFirst: 3},
		{name: "unknown source", path: "/api/context?source=b.log&seq=5", wantCode: http.StatusOK, wantCount: 0},
		{name: "missing source", path: "/api/context?seq=5", wantCode: http.StatusBadRequest},
		{name: "bad seq", path: "/api/context?source=a.log&seq=zero", wantCode: http.StatusBadRequest},
		{name: "bad window", path: "/api/context?source=a.log&seq=5&window=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.get(t, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", w.Code, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if body["count"] != tt.wantCount {
				t.Fatalf("count = %v, want %v", body["count"], tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			first := body["entries"].([]any)[0].(map[string]any)
			if first["line_id_in_file_header"] != tt.wantFirst {
				t.Errorf("first seq = %v, want %v", first["line_id_in_file_header"], tt.wantFirst)
			}
		})
	}
}

func TestSolutionsEndpoint(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	for i, src := range []string{"a.log", "b.log", "a.log"} {
		sol := &model.Solution{
			ID:         string(rune('a' + i)),
			SourceID:   src,
			SequenceID: int64(i + 1),
			Summary:    "s",
			Severity:   "Low",
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := f.store.SaveSolution(ctx, sol); err != nil {
			t.Fatalf("SaveSolution: %v", err)
		}
	}

	_, body := f.get(t, "/api/solutions")
	if body["count"] != float64(3) {
		t.Errorf("count = %v, want 3", body["count"])
	}

	_, body = f.get(t, "/api/solutions?source=a.log&limit=1")
	if body["count"] != float64(1) {
		t.Fatalf("filtered count = %v, want 1", body["count"])
	}
	sol := body["solutions"].([]any)[0].(map[string]any)
	if sol["line_id_in_file_header"] != float64(3) {
		t.Errorf("newest a.log solution = %v", sol)
	}

	w, _ := f.get(t, "/api/solutions?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEndpointsWithoutDeps(t *testing.T) {
	srv := NewServer("", Deps{})
	r := srv.routes()

	for _, path := range []string{"/api/templates", "/api/context?source=a&seq=1", "/api/solutions"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
		}
	}
}
