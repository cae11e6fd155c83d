package ml

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
	"github.com/sahithikokkula/approximate-query-engine/pkg/features"
	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"
)

// LearningOptimizer wraps MLOptimizer's base decision tree with a learning
// override: it looks at how strategies have actually performed on similar
// queries in the past and can replace the base strategy when history says a
// different one does better.
type LearningOptimizer struct {
	*MLOptimizer
	historyCache *lru.Cache[string, []storage.PerformanceRecord]
}

// NewLearningOptimizer builds a LearningOptimizer backed by db. cacheSize
// bounds the in-memory history-window cache (see pkg/config's AQE_CACHE_SIZE).
func NewLearningOptimizer(db *sql.DB, cacheSize int) *LearningOptimizer {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := lru.New[string, []storage.PerformanceRecord](cacheSize)
	return &LearningOptimizer{
		MLOptimizer:  NewMLOptimizer(db),
		historyCache: cache,
	}
}

// OptimizeQueryWithLearning runs feature extraction, the base decision tree,
// and the learning override, returning both the optimization and the
// features it was computed from (the caller needs the latter to record
// performance afterward).
func (lo *LearningOptimizer) OptimizeQueryWithLearning(ctx context.Context, originalSQL string, errorTolerance float64) (*QueryOptimization, *features.Vector, error) {
	f, err := features.Extract(ctx, lo.db, originalSQL, errorTolerance)
	if err != nil {
		return &QueryOptimization{
			Strategy:        StrategyExact,
			ModifiedSQL:     originalSQL,
			OriginalSQL:     originalSQL,
			Reasoning:       "feature extraction failed - using exact computation",
			Transformations: []string{},
		}, nil, nil
	}

	history, err := lo.historyWindow(ctx, f)
	if err != nil {
		history = nil
	}

	baseStrategy, baseConfidence := lo.chooseStrategy(f)
	strategy, confidence := lo.chooseStrategyWithLearning(f, history, baseStrategy, baseConfidence)

	modifiedSQL, transformations, speedup, estimatedError := lo.applyTransformations(ctx, originalSQL, strategy, f)

	return &QueryOptimization{
		Strategy:         strategy,
		ModifiedSQL:      modifiedSQL,
		OriginalSQL:      originalSQL,
		Confidence:       confidence,
		EstimatedSpeedup: speedup,
		EstimatedError:   estimatedError,
		Reasoning:        lo.generateLearningReasoning(strategy, baseStrategy, f, len(history)),
		Transformations:  transformations,
	}, f, nil
}

// historyWindow looks up the [0.5x,1.5x] table_size x error_tolerance window,
// newest 20 rows, caching the result per (table-size band, tolerance) so
// repeated queries against the same table don't re-scan
// aqe_performance_history on every call.
func (lo *LearningOptimizer) historyWindow(ctx context.Context, f *features.Vector) ([]storage.PerformanceRecord, error) {
	key := historyCacheKey(f.TableSize, f.ErrorTolerance)
	if lo.historyCache != nil {
		if cached, ok := lo.historyCache.Get(key); ok {
			return cached, nil
		}
	}

	rows, err := storage.HistoryWindow(ctx, lo.db, f.TableSize, f.ErrorTolerance, 20)
	if err != nil {
		return nil, err
	}

	if lo.historyCache != nil {
		lo.historyCache.Add(key, rows)
	}
	return rows, nil
}

// historyCacheKey buckets table size down to the largest power of two not
// above it, so nearby row counts share one cache entry instead of missing on
// every slightly-different row count.
func historyCacheKey(tableSize int64, errorTolerance float64) string {
	band := int64(1)
	for band*2 <= tableSize {
		band *= 2
	}
	return strconv.FormatInt(band, 10) + "/" + strconv.FormatFloat(errorTolerance, 'f', 4, 64)
}

// chooseStrategyWithLearning applies the learning override: among history
// rows compatible with f's feature shape, group by strategy, score each by
// 0.6*avg_speedup - 0.4*avg_error, and replace the base strategy with the
// highest-scoring one provided its avg_error stays within 1.2x the caller's
// error tolerance.
func (lo *LearningOptimizer) chooseStrategyWithLearning(f *features.Vector, history []storage.PerformanceRecord, baseStrategy OptimizationStrategy, baseConfidence float64) (OptimizationStrategy, float64) {
	compatible := filterFeatureCompatible(history, f)
	if len(compatible) == 0 {
		return baseStrategy, baseConfidence
	}

	type agg struct {
		speedupSum float64
		errorSum   float64
		n          int
	}
	byStrategy := make(map[OptimizationStrategy]*agg)
	for _, r := range compatible {
		strategy := OptimizationStrategy(r.Strategy)
		a := byStrategy[strategy]
		if a == nil {
			a = &agg{}
			byStrategy[strategy] = a
		}
		a.speedupSum += r.ActualSpeedup
		a.errorSum += r.ActualError
		a.n++
	}

	bestStrategy := baseStrategy
	bestScore := math.Inf(-1)
	bestN := 0
	found := false

	for strategy, a := range byStrategy {
		avgSpeedup := a.speedupSum / float64(a.n)
		avgError := a.errorSum / float64(a.n)
		if avgError > f.ErrorTolerance*1.2 {
			continue
		}
		score := 0.6*avgSpeedup - 0.4*avgError
		if score > bestScore {
			bestScore = score
			bestStrategy = strategy
			bestN = a.n
			found = true
		}
	}

	if !found {
		return baseStrategy, baseConfidence
	}

	confidence := math.Min(0.95, 0.6+0.03*float64(bestN))
	return bestStrategy, confidence
}

// filterFeatureCompatible drops history rows whose stored feature vector
// disagrees with f on has_group_by, so e.g. a stratified-sample performance
// record from a GROUP BY query never justifies picking stratified for a
// query with no GROUP BY at all.
func filterFeatureCompatible(history []storage.PerformanceRecord, f *features.Vector) []storage.PerformanceRecord {
	var out []storage.PerformanceRecord
	for _, r := range history {
		if r.Features == "" {
			out = append(out, r)
			continue
		}
		var stored features.Vector
		if err := json.Unmarshal([]byte(r.Features), &stored); err != nil {
			out = append(out, r)
			continue
		}
		if stored.HasGroupBy == f.HasGroupBy {
			out = append(out, r)
		}
	}
	return out
}

// RecordQueryPerformance appends one performance record for this query and
// purges the whole history cache, since the new row can fall inside the
// window of more than one cached band; the next lookup in any window sees it.
func (lo *LearningOptimizer) RecordQueryPerformance(ctx context.Context, optimization *QueryOptimization, f *features.Vector, actualExecutionTime time.Duration, actualError float64, baselineExecutionTime time.Duration) error {
	if f == nil || optimization == nil {
		return nil
	}

	actualSpeedup := float64(baselineExecutionTime) / float64(actualExecutionTime)
	if actualSpeedup < 0.1 || math.IsInf(actualSpeedup, 0) || math.IsNaN(actualSpeedup) {
		actualSpeedup = 0.1
	}

	predictedSpeedup := optimization.EstimatedSpeedup
	if predictedSpeedup <= 0 || math.IsNaN(predictedSpeedup) || math.IsInf(predictedSpeedup, 0) {
		predictedSpeedup = 1.0
	}
	predictedError := optimization.EstimatedError
	if predictedError < 0 || math.IsNaN(predictedError) || math.IsInf(predictedError, 0) {
		predictedError = 0.0
	}

	featuresJSON, _ := json.Marshal(f)

	record := storage.PerformanceRecord{
		QueryPattern:     normalizeQueryPattern(optimization.OriginalSQL),
		TableSize:        f.TableSize,
		Strategy:         string(optimization.Strategy),
		PredictedSpeedup: predictedSpeedup,
		PredictedError:   predictedError,
		ActualSpeedup:    actualSpeedup,
		ActualError:      actualError,
		ExecutionTimeMs:  float64(actualExecutionTime.Milliseconds()),
		ErrorTolerance:   f.ErrorTolerance,
		Features:         string(featuresJSON),
	}

	if err := storage.InsertPerformanceRecord(ctx, lo.db, record); err != nil {
		return err
	}

	if lo.historyCache != nil {
		lo.historyCache.Purge()
	}

	return nil
}

var (
	numberRe = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	stringRe = regexp.MustCompile(`'[^']*'`)
)

// normalizeQueryPattern strips literal values so structurally identical
// queries with different literals share one history bucket: numbers collapse
// to "?" and quoted strings collapse to "?".
func normalizeQueryPattern(sqlText string) string {
	pattern := stringRe.ReplaceAllString(sqlText, "?")
	pattern = numberRe.ReplaceAllString(pattern, "?")
	return strings.TrimSpace(pattern)
}

func (lo *LearningOptimizer) generateLearningReasoning(strategy, baseStrategy OptimizationStrategy, f *features.Vector, historyCount int) string {
	base := lo.generateReasoning(strategy, f)
	if strategy == baseStrategy || historyCount == 0 {
		return base
	}
	return base + " (overridden from base rule by historical performance)"
}

// GetLearningStats aggregates aqe_performance_history into per-strategy
// speedup/error averages and prediction accuracy, over the last 30 days.
func (lo *LearningOptimizer) GetLearningStats(ctx context.Context) (map[string]interface{}, error) {
	rows, err := lo.db.QueryContext(ctx, `
        SELECT
            strategy,
            COUNT(*) AS query_count,
            AVG(actual_speedup) AS avg_speedup,
            AVG(actual_error) AS avg_error,
            AVG(ABS(actual_speedup - predicted_speedup) / CASE WHEN predicted_speedup > 0 THEN predicted_speedup ELSE 1.0 END) AS speedup_prediction_error,
            AVG(ABS(actual_error - predicted_error) / CASE WHEN predicted_error > 0 THEN predicted_error ELSE 0.01 END) AS error_prediction_error
        FROM aqe_performance_history
        WHERE created_at > datetime('now', '-30 days')
        GROUP BY strategy`)
	if err != nil {
		return nil, aqerr.StoreFailure("GetLearningStats", err)
	}
	defer rows.Close()

	strategies := make(map[string]map[string]float64)
	for rows.Next() {
		var strategy string
		var queryCount int
		var avgSpeedup, avgError, speedupPredError, errorPredError float64
		if err := rows.Scan(&strategy, &queryCount, &avgSpeedup, &avgError, &speedupPredError, &errorPredError); err != nil {
			continue
		}
		strategies[strategy] = map[string]float64{
			"query_count":                 float64(queryCount),
			"avg_speedup":                 avgSpeedup,
			"avg_error":                   avgError,
			"speedup_prediction_accuracy": 1.0 - speedupPredError,
			"error_prediction_accuracy":   1.0 - errorPredError,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, aqerr.StoreFailure("GetLearningStats", err)
	}

	stats := map[string]interface{}{"strategies": strategies}

	var totalQueries int
	_ = lo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM aqe_performance_history").Scan(&totalQueries)
	stats["total_historical_queries"] = totalQueries

	return stats, nil
}
