// Package planner chooses between exact execution and a prebuilt sample for a
// single query, purely on cost vs. the caller's error tolerance. It does not
// decide sketches or stratified sampling itself — those live in pkg/ml, which
// may hand the planner a pre-rewritten SQL string; the planner's own candidate
// set stays to {exact, sample} per the cost model below.
package planner

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/sahithikokkula/approximate-query-engine/pkg/features"
	"github.com/sahithikokkula/approximate-query-engine/pkg/sampler"
)

// PlanType indicates which path to use.
type PlanType string

const (
	PlanExact      PlanType = "exact"
	PlanSample     PlanType = "sample"
	PlanStratified PlanType = "stratified"
	PlanSketch     PlanType = "sketch"
)

type Plan struct {
	Type           PlanType `json:"type"`
	SQL            string   `json:"sql"`
	OriginalSQL    string   `json:"original_sql"`
	Table          string   `json:"table,omitempty"`
	SampleTable    string   `json:"sample_table,omitempty"`
	SampleFraction float64  `json:"sample_fraction,omitempty"`
	StrataColumn   string   `json:"strata_column,omitempty"`
	SketchType     string   `json:"sketch_type,omitempty"`
	SketchColumn   string   `json:"sketch_column,omitempty"`
	EstimatedCost  float64  `json:"estimated_cost"`
	EstimatedError float64  `json:"estimated_error"`
	Reason         string   `json:"reason"`
}

type CostModel struct {
	ScanCostPerRow   float64
	HashCostPerGroup float64
	SketchQueryCost  float64
	SampleSetupCost  float64
}

type Planner struct {
	costModel CostModel
}

func New() *Planner {
	return &Planner{
		costModel: CostModel{
			ScanCostPerRow:   1.0,
			HashCostPerGroup: 2.0,
			SketchQueryCost:  10.0,
			SampleSetupCost:  5.0,
		},
	}
}

// Plan chooses an execution strategy for sqlText. preferExact and a missing
// table name or table stats all short-circuit straight to exact, per the
// planning-ambiguity design: the planner never blocks a query, it degrades.
func (p *Planner) Plan(ctx context.Context, db *sql.DB, sqlText string, maxRelError float64, preferExact bool) (*Plan, error) {
	table := features.TableName(sqlText)
	if table == "" {
		return &Plan{Type: PlanExact, SQL: sqlText, OriginalSQL: sqlText, Reason: "no table found"}, nil
	}

	if originalTable, fraction, strataColumn, isSample := p.parseSampleTableName(table); isSample {
		planType := PlanSample
		reason := fmt.Sprintf("direct query on sample table (fraction: %.4f)", fraction)
		if strataColumn != "" {
			planType = PlanStratified
			reason = fmt.Sprintf("direct query on stratified sample table (strata: %s, fraction: %.4f)", strataColumn, fraction)
		}
		return &Plan{
			Type:           planType,
			SQL:            sqlText,
			OriginalSQL:    sqlText,
			Table:          originalTable,
			SampleTable:    table,
			SampleFraction: fraction,
			StrataColumn:   strataColumn,
			Reason:         reason,
		}, nil
	}

	if preferExact {
		return &Plan{Type: PlanExact, SQL: sqlText, OriginalSQL: sqlText, Table: table, Reason: "user prefers exact"}, nil
	}

	tableStats, err := p.getTableStats(ctx, db, table)
	if err != nil {
		return &Plan{Type: PlanExact, SQL: sqlText, OriginalSQL: sqlText, Table: table, Reason: "no table stats available"}, nil
	}

	f, err := features.Extract(ctx, db, sqlText, maxRelError)
	if err != nil {
		f = &features.Vector{TableName: table}
	}

	strategies := p.evaluateStrategies(ctx, db, sqlText, table, f, tableStats)

	return p.chooseBestStrategy(strategies, maxRelError), nil
}

// parseSampleTableName recognizes both sample naming patterns the sampler
// produces and reports which one matched: uniform samples return a blank
// strata column, stratified samples return the strata column name.
func (p *Planner) parseSampleTableName(tableName string) (originalTable string, fraction float64, strataColumn string, isSample bool) {
	if idx := strings.Index(tableName, "__strat_sample_"); idx >= 0 {
		original := tableName[:idx]
		remaining := tableName[idx+len("__strat_sample_"):]

		sep := strings.LastIndex(remaining, "_0_")
		if sep >= 0 {
			col := remaining[:sep]
			fractionToken := remaining[sep+1:]
			if f, ok := sampler.ParseFractionName(fractionToken); ok {
				return original, f, col, true
			}
		}
	}

	if idx := strings.Index(tableName, "__sample_"); idx >= 0 {
		original := tableName[:idx]
		fractionToken := tableName[idx+len("__sample_"):]
		if f, ok := sampler.ParseFractionName(fractionToken); ok {
			return original, f, "", true
		}
	}

	return tableName, 0, "", false
}

// TableStats contains table metadata for cost estimation
type TableStats struct {
	RowCount            int64
	DistinctValueCounts map[string]int64
	HasSketches         map[string]bool
	BestSampleFraction  float64
}

// getTableStats retrieves table statistics for planning
func (p *Planner) getTableStats(ctx context.Context, db *sql.DB, table string) (*TableStats, error) {
	stats := &TableStats{
		DistinctValueCounts: make(map[string]int64),
		HasSketches:         make(map[string]bool),
	}

	err := db.QueryRowContext(ctx, "SELECT row_count FROM aqe_table_stats WHERE table_name = ?", table).Scan(&stats.RowCount)
	if err != nil {
		err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&stats.RowCount)
		if err != nil {
			return nil, err
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT column_name, sketch_type FROM aqe_sketches WHERE table_name = ?", table)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var column, sketchType string
			if err := rows.Scan(&column, &sketchType); err == nil {
				stats.HasSketches[column] = true
			}
		}
	}

	var bestFraction float64
	err = db.QueryRowContext(ctx,
		"SELECT sample_fraction FROM aqe_samples WHERE table_name = ? ORDER BY sample_fraction ASC LIMIT 1",
		table).Scan(&bestFraction)
	if err == nil {
		stats.BestSampleFraction = bestFraction
	}

	return stats, nil
}

// evaluateStrategies generates candidate plans: exact always, sample only when
// a prebuilt sample exists. Sketches and stratified samples are the ML
// optimizer's candidates, not the planner's — see the package doc.
func (p *Planner) evaluateStrategies(ctx context.Context, db *sql.DB, sqlText, table string, f *features.Vector, stats *TableStats) []*Plan {
	strategies := []*Plan{
		{
			Type:           PlanExact,
			SQL:            sqlText,
			OriginalSQL:    sqlText,
			Table:          table,
			EstimatedCost:  p.estimateExactCost(f, stats),
			EstimatedError: 0.0,
			Reason:         "exact execution",
		},
	}

	if stats.BestSampleFraction > 0 {
		if samplePlan := p.evaluateSampleStrategy(ctx, db, sqlText, table, stats); samplePlan != nil {
			strategies = append(strategies, samplePlan)
		}
	}

	return strategies
}

func (p *Planner) estimateExactCost(f *features.Vector, stats *TableStats) float64 {
	cost := float64(stats.RowCount) * p.costModel.ScanCostPerRow

	if f.HasGroupBy {
		estimatedGroups := math.Min(float64(stats.RowCount), 10000)
		cost += estimatedGroups * p.costModel.HashCostPerGroup
	}

	return cost
}

// evaluateSampleStrategy creates a sample-based plan if the prebuilt sample
// table for stats.BestSampleFraction physically exists.
func (p *Planner) evaluateSampleStrategy(ctx context.Context, db *sql.DB, sqlText, table string, stats *TableStats) *Plan {
	sampleTable := sampler.UniformSampleName(table, stats.BestSampleFraction)

	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		sampleTable).Scan(&exists)
	if err != nil || exists == 0 {
		return nil
	}

	estimatedError := math.Sqrt(1.0 / (stats.BestSampleFraction * float64(stats.RowCount)))
	rewrittenSQL := p.rewriteSQLForSample(sqlText, table, sampleTable)
	sampleCost := float64(stats.RowCount)*stats.BestSampleFraction*p.costModel.ScanCostPerRow + p.costModel.SampleSetupCost

	return &Plan{
		Type:           PlanSample,
		SQL:            rewrittenSQL,
		OriginalSQL:    sqlText,
		Table:          table,
		SampleTable:    sampleTable,
		SampleFraction: stats.BestSampleFraction,
		EstimatedCost:  sampleCost,
		EstimatedError: estimatedError,
		Reason:         fmt.Sprintf("using %.1f%% sample", stats.BestSampleFraction*100),
	}
}

// chooseBestStrategy drops candidates whose estimated error exceeds maxRelError
// and picks the cheapest survivor; if none survive, falls back to exact.
func (p *Planner) chooseBestStrategy(strategies []*Plan, maxRelError float64) *Plan {
	if len(strategies) == 0 {
		return &Plan{Type: PlanExact, Reason: "no strategies available"}
	}

	var valid []*Plan
	for _, strategy := range strategies {
		if strategy.EstimatedError <= maxRelError {
			valid = append(valid, strategy)
		}
	}

	if len(valid) == 0 {
		return strategies[0] // the exact plan is always strategies[0]
	}

	best := valid[0]
	for _, strategy := range valid[1:] {
		if strategy.EstimatedCost < best.EstimatedCost {
			best = strategy
		}
	}

	return best
}

// rewriteSQLForSample substitutes originalTable with sampleTable using a
// single-pass whole-identifier tokenizer, rather than a literal strings.Replace
// that would also corrupt any other identifier containing originalTable as a
// substring.
func (p *Planner) rewriteSQLForSample(sqlText, originalTable, sampleTable string) string {
	return replaceWholeIdentifier(sqlText, originalTable, sampleTable)
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// replaceWholeIdentifier walks sqlText token by token and replaces only
// identifiers that exactly equal from, leaving substrings and superstrings of
// from (e.g. "purchases_archive" when from is "purchases") untouched.
func replaceWholeIdentifier(sqlText, from, to string) string {
	return identRe.ReplaceAllStringFunc(sqlText, func(tok string) string {
		if tok == from {
			return to
		}
		return tok
	})
}
