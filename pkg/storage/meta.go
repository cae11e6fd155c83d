// Package storage owns every aqe_* metadata table: table-size stats, materialized
// samples, strata info, sketches and the query-performance history the ML optimizer
// learns from. It is the single MetadataStore the rest of the engine depends on
// explicitly, rather than each package reaching for its own ambient table creation.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
	"github.com/sahithikokkula/approximate-query-engine/pkg/sketches"
)

// EnsureMetaTables creates every aqe_* table if it does not already exist.
func EnsureMetaTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS aqe_table_stats (
            table_name TEXT PRIMARY KEY,
            row_count INTEGER DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS aqe_samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            table_name TEXT NOT NULL,
            sample_table TEXT NOT NULL,
            sample_fraction REAL NOT NULL,
            strata_column TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS aqe_sketches (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            table_name TEXT NOT NULL,
            column_name TEXT,
            sketch_type TEXT NOT NULL,
            sketch_data BLOB NOT NULL,
            parameters TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(table_name, column_name, sketch_type)
        );`,
		`CREATE TABLE IF NOT EXISTS aqe_strata_info (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            sample_table TEXT NOT NULL,
            strata_key TEXT NOT NULL,
            strata_value TEXT NOT NULL,
            pop_size INTEGER NOT NULL,
            sample_size INTEGER NOT NULL,
            fraction REAL NOT NULL,
            weight REAL NOT NULL,
            variance REAL NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS aqe_performance_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            query_pattern TEXT NOT NULL,
            table_size INTEGER NOT NULL,
            strategy TEXT NOT NULL,
            predicted_speedup REAL,
            predicted_error REAL,
            actual_speedup REAL,
            actual_error REAL,
            execution_time_ms REAL,
            error_tolerance REAL NOT NULL,
            features TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_aqe_perf_pattern ON aqe_performance_history(query_pattern);`,
		`CREATE INDEX IF NOT EXISTS idx_aqe_perf_table_size ON aqe_performance_history(table_size);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return aqerr.StoreFailure("EnsureMetaTables", err)
		}
	}
	return nil
}

// UpsertTableRowCount sets the row_count for a table.
func UpsertTableRowCount(ctx context.Context, db *sql.DB, table string, count int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO aqe_table_stats(table_name,row_count,updated_at)
        VALUES(?,?,CURRENT_TIMESTAMP)
        ON CONFLICT(table_name) DO UPDATE SET row_count=excluded.row_count, updated_at=CURRENT_TIMESTAMP`, table, count)
	if err != nil {
		return aqerr.StoreFailure("UpsertTableRowCount", err)
	}
	return nil
}

// GetTableRowCount returns the last recorded row count for a table, or
// (0, false) if none has been recorded.
func GetTableRowCount(ctx context.Context, db *sql.DB, table string) (int64, bool, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT row_count FROM aqe_table_stats WHERE table_name = ?`, table).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, aqerr.StoreFailure("GetTableRowCount", err)
	}
	return count, true, nil
}

// InsertSampleMeta records a materialized uniform or stratified sample.
func InsertSampleMeta(ctx context.Context, db *sql.DB, table, sampleTable string, fraction float64, strataColumn string) error {
	var col sql.NullString
	if strataColumn != "" {
		col = sql.NullString{String: strataColumn, Valid: true}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO aqe_samples(table_name,sample_table,sample_fraction,strata_column,created_at)
        VALUES(?,?,?,?,CURRENT_TIMESTAMP)`, table, sampleTable, fraction, col)
	if err != nil {
		return aqerr.StoreFailure("InsertSampleMeta", err)
	}
	return nil
}

// UpsertSketch stores or updates a sketch.
func UpsertSketch(ctx context.Context, db *sql.DB, table, column, sketchType string, data []byte, parameters string) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO aqe_sketches(table_name, column_name, sketch_type, sketch_data, parameters, created_at)
        VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(table_name, column_name, sketch_type)
        DO UPDATE SET sketch_data=excluded.sketch_data, parameters=excluded.parameters, created_at=CURRENT_TIMESTAMP`,
		table, column, sketchType, data, parameters)
	if err != nil {
		return aqerr.StoreFailure("UpsertSketch", err)
	}
	return nil
}

// ListSketches returns all sketches recorded for a table.
func ListSketches(ctx context.Context, db *sql.DB, table string) ([]sketches.SketchInfo, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT column_name, sketch_type, parameters,
               strftime('%s', created_at) as created_at
        FROM aqe_sketches
        WHERE table_name = ?
        ORDER BY created_at DESC`, table)
	if err != nil {
		return nil, aqerr.StoreFailure("ListSketches", err)
	}
	defer rows.Close()

	var out []sketches.SketchInfo
	for rows.Next() {
		var info sketches.SketchInfo
		var column, sketchType, parameters sql.NullString
		var createdAt int64

		if err := rows.Scan(&column, &sketchType, &parameters, &createdAt); err != nil {
			return nil, aqerr.StoreFailure("ListSketches", err)
		}

		info.Table = table
		info.Column = column.String
		info.Type = sketches.SketchType(sketchType.String)
		info.CreatedAt = createdAt
		info.Parameters = map[string]interface{}{}
		if parameters.Valid && parameters.String != "" {
			_ = json.Unmarshal([]byte(parameters.String), &info.Parameters)
		}

		out = append(out, info)
	}

	return out, rows.Err()
}
