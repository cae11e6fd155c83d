package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
)

// PerformanceRecord is one row of aqe_performance_history: a query execution's
// predicted-vs-actual outcome, kept so the learning optimizer can look back at
// how a strategy actually performed on similar queries.
type PerformanceRecord struct {
	ID               int64
	QueryPattern     string
	TableSize        int64
	Strategy         string
	PredictedSpeedup float64
	PredictedError   float64
	ActualSpeedup    float64
	ActualError      float64
	ExecutionTimeMs  float64
	ErrorTolerance   float64
	Features         string // JSON-encoded features.Vector
	CreatedAt        time.Time
}

// InsertPerformanceRecord appends one row to aqe_performance_history. The table is
// append-only; there is no update path, matching the data model's "append-only"
// note.
func InsertPerformanceRecord(ctx context.Context, db *sql.DB, r PerformanceRecord) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO aqe_performance_history
            (query_pattern, table_size, strategy, predicted_speedup, predicted_error,
             actual_speedup, actual_error, execution_time_ms, error_tolerance, features, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		r.QueryPattern, r.TableSize, r.Strategy, r.PredictedSpeedup, r.PredictedError,
		r.ActualSpeedup, r.ActualError, r.ExecutionTimeMs, r.ErrorTolerance, r.Features)
	if err != nil {
		return aqerr.StoreFailure("InsertPerformanceRecord", err)
	}
	return nil
}

// HistoryWindow returns the newest `limit` performance records whose table_size
// falls within [0.5, 1.5] * tableSize and whose error_tolerance falls within
// [0.5, 1.5] * errorTolerance, per the learning-override lookup window.
func HistoryWindow(ctx context.Context, db *sql.DB, tableSize int64, errorTolerance float64, limit int) ([]PerformanceRecord, error) {
	loSize := int64(float64(tableSize) * 0.5)
	hiSize := int64(float64(tableSize) * 1.5)
	loErr := errorTolerance * 0.5
	hiErr := errorTolerance * 1.5

	rows, err := db.QueryContext(ctx, `
        SELECT id, query_pattern, table_size, strategy, predicted_speedup, predicted_error,
               actual_speedup, actual_error, execution_time_ms, error_tolerance, features, created_at
        FROM aqe_performance_history
        WHERE table_size BETWEEN ? AND ?
          AND error_tolerance BETWEEN ? AND ?
        ORDER BY created_at DESC
        LIMIT ?`, loSize, hiSize, loErr, hiErr, limit)
	if err != nil {
		return nil, aqerr.StoreFailure("HistoryWindow", err)
	}
	defer rows.Close()

	var out []PerformanceRecord
	for rows.Next() {
		var r PerformanceRecord
		var predictedSpeedup, predictedError, actualSpeedup, actualError, execMs sql.NullFloat64
		var features sql.NullString
		if err := rows.Scan(&r.ID, &r.QueryPattern, &r.TableSize, &r.Strategy,
			&predictedSpeedup, &predictedError, &actualSpeedup, &actualError,
			&execMs, &r.ErrorTolerance, &features, &r.CreatedAt); err != nil {
			return nil, aqerr.StoreFailure("HistoryWindow", err)
		}
		r.PredictedSpeedup = predictedSpeedup.Float64
		r.PredictedError = predictedError.Float64
		r.ActualSpeedup = actualSpeedup.Float64
		r.ActualError = actualError.Float64
		r.ExecutionTimeMs = execMs.Float64
		r.Features = features.String
		out = append(out, r)
	}

	return out, rows.Err()
}
