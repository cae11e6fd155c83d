package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"

	_ "modernc.org/sqlite"
)

func newTestRouter(t *testing.T) (*mux.Router, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		t.Fatalf("ensure meta tables: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT, amount REAL)`); err != nil {
		t.Fatalf("create orders: %v", err)
	}
	stmt, err := db.Prepare(`INSERT INTO orders(region, amount) VALUES (?, ?)`)
	if err != nil {
		t.Fatalf("prepare insert: %v", err)
	}
	for i := 0; i < 200; i++ {
		region := "east"
		if i%2 == 0 {
			region = "west"
		}
		if _, err := stmt.Exec(region, float64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	stmt.Close()

	r := mux.NewRouter()
	RegisterRoutes(r, db, 64)
	return r, db
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth_ReturnsOK(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListTables_ReturnsCreatedTable(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/tables", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp JSON
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	tables, _ := resp["tables"].([]any)
	found := false
	for _, tbl := range tables {
		if tbl == "orders" {
			found = true
		}
	}
	if !found {
		t.Errorf("tables = %v, want to include orders", tables)
	}
}

func TestPostQuery_InvalidJSONReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostQuery_EmptySQLReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/query", map[string]any{"sql": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostQuery_ExecutesExactQuery(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/query", map[string]any{
		"sql":          "SELECT COUNT(*) as n FROM orders",
		"prefer_exact": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if len(resp.Result) != 1 {
		t.Fatalf("Result has %d rows, want 1", len(resp.Result))
	}
}

func TestPostQuery_ExplainSkipsExecution(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/query", map[string]any{
		"sql":     "SELECT COUNT(*) FROM orders",
		"explain": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != nil {
		t.Errorf("Result = %v, want nil when explain is set", resp.Result)
	}
	if resp.Plan == nil {
		t.Error("Plan is nil, want a populated plan under explain")
	}
}

func TestPostCreateSample_RejectsOutOfRangeFraction(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/samples/create", map[string]any{
		"table":           "orders",
		"sample_fraction": 1.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostCreateSample_MaterializesSampleTable(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/samples/create", map[string]any{
		"table":           "orders",
		"sample_fraction": 0.2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp JSON
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["sample_table"] == "" || resp["sample_table"] == nil {
		t.Error("sample_table missing from response")
	}
}

func TestPostCreateSketch_UnsupportedTypeReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/sketches/create", map[string]any{
		"table":       "orders",
		"sketch_type": "bloom",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostCreateSketch_HyperLogLogRequiresColumn(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/sketches/create", map[string]any{
		"table":       "orders",
		"sketch_type": "hyperloglog",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (createHyperLogLogSketch's aqerr.Invalid maps through statusForError)", rec.Code)
	}
}

func TestPostCreateSketch_CountMinOnWholeTable(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/sketches/create", map[string]any{
		"table":       "orders",
		"sketch_type": "countmin",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetSketches_RequiresTableParam(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/sketches", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetLearningStats_ReturnsZeroQueriesInitially(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/ml/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp JSON
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	stats, ok := resp["learning_stats"].(map[string]any)
	if !ok {
		t.Fatalf("learning_stats has unexpected type %T", resp["learning_stats"])
	}
	total, _ := stats["total_historical_queries"].(float64)
	if total != 0 {
		t.Errorf("total_historical_queries = %v, want 0", total)
	}
}
