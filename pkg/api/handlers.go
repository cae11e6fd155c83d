package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
	"github.com/sahithikokkula/approximate-query-engine/pkg/executor"
	"github.com/sahithikokkula/approximate-query-engine/pkg/features"
	"github.com/sahithikokkula/approximate-query-engine/pkg/ml"
	"github.com/sahithikokkula/approximate-query-engine/pkg/planner"
	"github.com/sahithikokkula/approximate-query-engine/pkg/sampler"
	"github.com/sahithikokkula/approximate-query-engine/pkg/sketches"
	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// statusForError maps an aqerr.Kind to the HTTP status a caller should see;
// errors that were never tagged with a kind default to 500.
func statusForError(err error) int {
	var aqErr *aqerr.Error
	if errors.As(err, &aqErr) {
		switch aqErr.Kind {
		case aqerr.InvalidArgument:
			return http.StatusBadRequest
		case aqerr.InvariantViolation:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok"})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY 1`)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		tables = append(tables, name)
	}
	writeJSON(w, http.StatusOK, JSON{"tables": tables})
}

type QueryRequest struct {
	SQL               string  `json:"sql"`
	MaxRelError       float64 `json:"max_rel_error"`
	PreferExact       bool    `json:"prefer_exact"`
	UseMLOptimization bool    `json:"use_ml_optimization"`
	Explain           bool    `json:"explain"`
}

type QueryResponse struct {
	Status         string                `json:"status"`
	RequestID      string                `json:"request_id,omitempty"`
	Plan           *planner.Plan         `json:"plan,omitempty"`
	Result         []map[string]any      `json:"result,omitempty"`
	Meta           map[string]any        `json:"meta,omitempty"`
	Error          string                `json:"error,omitempty"`
	MLOptimization *ml.QueryOptimization `json:"ml_optimization,omitempty"`
}

// PostQuery plans, optionally ML-optimizes, and executes req.SQL. When
// UseMLOptimization is set the learning optimizer's choice of strategy
// replaces the planner's own {exact, sample} candidate search entirely -
// the planner then only interprets the (possibly rewritten) SQL it receives.
func (h *Handler) PostQuery(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	req.SQL = strings.TrimSpace(req.SQL)
	if req.SQL == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "sql required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	var mlOptimization *ml.QueryOptimization
	var mlFeatures *features.Vector
	finalSQL := req.SQL

	if req.UseMLOptimization && !req.PreferExact {
		var err error
		mlOptimization, mlFeatures, err = h.learning.OptimizeQueryWithLearning(ctx, req.SQL, req.MaxRelError)
		if err != nil || mlOptimization == nil {
			mlOptimization = &ml.QueryOptimization{
				Strategy:        ml.StrategyExact,
				ModifiedSQL:     req.SQL,
				OriginalSQL:     req.SQL,
				Reasoning:       fmt.Sprintf("ML optimization failed: %v", err),
				Transformations: []string{},
			}
		} else {
			finalSQL = mlOptimization.ModifiedSQL
		}
	}

	p := planner.New()
	plan, err := p.Plan(ctx, h.db, finalSQL, req.MaxRelError, req.PreferExact)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": err.Error(), "request_id": requestID})
		return
	}

	if req.Explain {
		writeJSON(w, http.StatusOK, QueryResponse{
			Status:         "ok",
			RequestID:      requestID,
			Plan:           plan,
			MLOptimization: mlOptimization,
		})
		return
	}

	executionStart := time.Now()
	rows, meta, err := executor.Execute(ctx, h.db, plan)
	executionTime := time.Since(executionStart)

	if err != nil {
		writeJSON(w, statusForError(err), QueryResponse{
			Status:         "error",
			RequestID:      requestID,
			Error:          err.Error(),
			Plan:           plan,
			MLOptimization: mlOptimization,
		})
		return
	}

	if meta != nil {
		meta["request_id"] = requestID
	}

	if req.UseMLOptimization && mlOptimization != nil && mlFeatures != nil {
		go h.recordPerformanceAsync(mlOptimization, mlFeatures, executionTime)
	}

	log.Printf("[%s] query ok: %s rows in %s", requestID, humanize.Comma(int64(len(rows))), executionTime)

	writeJSON(w, http.StatusOK, QueryResponse{
		Status:         "ok",
		RequestID:      requestID,
		Plan:           plan,
		Result:         rows,
		Meta:           meta,
		MLOptimization: mlOptimization,
	})
}

// recordPerformanceAsync times an exact-SQL baseline in the background and
// records the comparison, so the request itself never waits on it. If the
// baseline comparison query fails, the optimizer's own predicted speedup is
// recorded instead rather than dropping the record.
func (h *Handler) recordPerformanceAsync(opt *ml.QueryOptimization, f *features.Vector, executionTime time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in performance-recording goroutine: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	baselineTime := time.Duration(float64(executionTime) * opt.EstimatedSpeedup)
	if start := time.Now(); opt.Strategy != ml.StrategyExact {
		if rows, err := h.db.QueryContext(ctx, opt.OriginalSQL); err == nil {
			for rows.Next() {
			}
			if rows.Err() == nil {
				baselineTime = time.Since(start)
			}
			rows.Close()
		}
	}

	actualError := opt.EstimatedError
	if err := h.learning.RecordQueryPerformance(ctx, opt, f, executionTime, actualError, baselineTime); err != nil {
		log.Printf("error recording query performance: %v", err)
	}
}

type CreateSampleRequest struct {
	Table          string  `json:"table"`
	SampleFraction float64 `json:"sample_fraction"`
}

func (h *Handler) PostCreateSample(w http.ResponseWriter, r *http.Request) {
	var req CreateSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	if req.Table == "" || req.SampleFraction <= 0 || req.SampleFraction >= 1 {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table and 0<sample_fraction<1 required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	name, count, err := sampler.CreateUniformSample(ctx, h.db, req.Table, req.SampleFraction)
	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}
	log.Printf("created sample %s: %s rows", name, humanize.Comma(count))
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "sample_table": name, "rows": count})
}

func (h *Handler) GetLearningStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	stats, err := h.learning.GetLearningStats(ctx)
	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, JSON{"status": "ok", "learning_stats": stats})
}

func (h *Handler) PostCreateStratifiedSample(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table          string  `json:"table"`
		StrataColumn   string  `json:"strata_column"`
		TotalFraction  float64 `json:"total_fraction"`
		VarianceColumn string  `json:"variance_column,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}

	if req.Table == "" || req.StrataColumn == "" || req.TotalFraction <= 0 || req.TotalFraction >= 1 {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table, strata_column and 0<total_fraction<1 required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	sampleName, strata, err := sampler.CreateStratifiedSample(ctx, h.db, req.Table, req.StrataColumn, req.TotalFraction, req.VarianceColumn)
	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, JSON{
		"status":       "ok",
		"sample_table": sampleName,
		"strata":       strata,
		"allocation_type": func() string {
			if req.VarianceColumn != "" {
				return "neyman"
			}
			return "proportional"
		}(),
	})
}

func (h *Handler) PostCreateSketch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table      string                 `json:"table"`
		Column     string                 `json:"column,omitempty"`
		SketchType string                 `json:"sketch_type"`
		Parameters map[string]interface{} `json:"parameters,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}

	if req.Table == "" || req.SketchType == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table and sketch_type required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var sketchData []byte
	var err error

	switch req.SketchType {
	case "hyperloglog":
		sketchData, err = h.createHyperLogLogSketch(ctx, req.Table, req.Column)
	case "countmin":
		sketchData, err = h.createCountMinSketch(ctx, req.Table, req.Column, req.Parameters)
	default:
		writeJSON(w, http.StatusBadRequest, JSON{"error": "unsupported sketch type"})
		return
	}

	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}

	parametersJSON, _ := json.Marshal(req.Parameters)
	err = storage.UpsertSketch(ctx, h.db, req.Table, req.Column, req.SketchType, sketchData, string(parametersJSON))
	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}

	log.Printf("created %s sketch on %s.%s: %s", req.SketchType, req.Table, req.Column, humanize.Bytes(uint64(len(sketchData))))
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "sketch_type": req.SketchType, "size_bytes": len(sketchData)})
}

func (h *Handler) GetSketches(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table parameter required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	sketchInfos, err := storage.ListSketches(ctx, h.db, table)
	if err != nil {
		writeJSON(w, statusForError(err), JSON{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, JSON{"sketches": sketchInfos})
}

func (h *Handler) createHyperLogLogSketch(ctx context.Context, table, column string) ([]byte, error) {
	if column == "" {
		return nil, aqerr.Invalid("createHyperLogLogSketch", "column required for HyperLogLog")
	}

	hll := sketches.NewHyperLogLog(12)

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", column, table, column)
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, aqerr.StoreFailure("createHyperLogLogSketch", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, aqerr.StoreFailure("createHyperLogLogSketch", err)
		}
		hll.AddString(value)
		count++
		if count > 1000000 {
			break
		}
	}

	return hll.Serialize(), nil
}

func (h *Handler) createCountMinSketch(ctx context.Context, table, column string, parameters map[string]interface{}) ([]byte, error) {
	epsilon := 0.01
	delta := 0.01

	if eps, ok := parameters["epsilon"].(float64); ok {
		epsilon = eps
	}
	if d, ok := parameters["delta"].(float64); ok {
		delta = d
	}

	cms := sketches.NewCountMinSketch(epsilon, delta)

	var query string
	if column != "" {
		query = fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s IS NOT NULL GROUP BY %s", column, table, column, column)
	} else {
		query = fmt.Sprintf("SELECT 'total', COUNT(*) FROM %s", table)
	}

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, aqerr.StoreFailure("createCountMinSketch", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count uint64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, aqerr.StoreFailure("createCountMinSketch", err)
		}
		cms.AddString(key, count)
	}

	return cms.Serialize(), nil
}
