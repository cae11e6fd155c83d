// Package executor runs a planner.Plan's SQL, scales its aggregate columns
// back up from the sampled fraction, and attaches closed-form confidence
// intervals, rather than bootstrap-resampling the result set.
package executor

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
	"github.com/sahithikokkula/approximate-query-engine/pkg/estimator"
	"github.com/sahithikokkula/approximate-query-engine/pkg/planner"
)

// scalableColumns names the aggregate-result columns whose value is scaled by
// 1/fraction after a sample/stratified plan executes.
var scalableColumns = []string{"COUNT", "SUM", "TOTAL", "REVENUE", "ORDERS"}

// minMaxRe flags MIN/MAX aggregates so the caller is warned rather than handed
// a silently biased value: MIN/MAX over a sample estimates the sample's
// extremum, not the population's, and there is no scaling factor that fixes
// that.
var minMaxRe = []string{"MIN(", "MAX(", "min(", "max("}

// Execute runs plan.SQL and, for sample/stratified plans, scales aggregate
// columns and attaches per-column confidence intervals computed from the
// returned rows' own mean/variance.
func Execute(ctx context.Context, db *sql.DB, plan *planner.Plan) ([]map[string]any, map[string]any, error) {
	rows, err := db.QueryContext(ctx, plan.SQL)
	if err != nil {
		return nil, nil, aqerr.StoreFailure("executor.Execute", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, aqerr.StoreFailure("executor.Execute", err)
	}

	res := make([]map[string]any, 0, 64)
	isSampled := plan.Type == planner.PlanSample || plan.Type == planner.PlanStratified

	var sampleData map[string][]float64
	if isSampled {
		sampleData = make(map[string][]float64, len(cols))
		for _, col := range cols {
			sampleData[col] = make([]float64, 0)
		}
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, aqerr.StoreFailure("executor.Execute", err)
		}

		m := map[string]any{}
		for i, c := range cols {
			m[c] = vals[i]
			if isSampled {
				if val, ok := convertToFloat64(vals[i]); ok {
					sampleData[c] = append(sampleData[c], val)
				}
			}
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, aqerr.StoreFailure("executor.Execute", err)
	}

	meta := map[string]any{
		"plan_type":    string(plan.Type),
		"reason":       plan.Reason,
		"rows":         len(res),
		"sql_executed": plan.SQL,
	}

	if isSampled {
		meta["sample_fraction"] = plan.SampleFraction
		meta["sample_table"] = plan.SampleTable
		if plan.StrataColumn != "" {
			meta["strata_column"] = plan.StrataColumn
		}

		if len(res) > 0 && plan.SampleFraction > 0 {
			scaleSampleResults(res, plan.SampleFraction, cols)
			enrichWithConfidenceIntervals(res, sampleData, plan.SampleFraction, cols)
		}

		if warnings := minMaxWarnings(plan.SQL); len(warnings) > 0 {
			meta["warnings"] = warnings
		}
	}

	return res, meta, nil
}

func convertToFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// isScalableColumn reports whether col's name matches one of the known
// aggregate-result column names, case-insensitively.
func isScalableColumn(col string) bool {
	upper := strings.ToUpper(col)
	for _, name := range scalableColumns {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// scaleSampleResults multiplies every scalable aggregate column by
// 1/sampleFraction in place.
func scaleSampleResults(results []map[string]any, sampleFraction float64, cols []string) {
	if sampleFraction <= 0 || len(results) == 0 || len(cols) == 0 {
		return
	}

	scale := 1.0 / sampleFraction

	for i := range results {
		for _, col := range cols {
			val, exists := results[i][col]
			if !exists || !isScalableColumn(col) {
				continue
			}
			if numVal, ok := convertToFloat64(val); ok {
				results[i][col] = numVal * scale
			}
		}
	}
}

// enrichWithConfidenceIntervals attaches {col}_ci_low/_ci_high/_rel_error to
// the first result row for every numeric column in sampleData, using the
// closed-form normal approximation over the sample's own returned values:
// mean x̄ and stddev σ across rows, CI (x̄ ± 1.96·σ/√n) · (1/fraction). No
// resampling is performed.
func enrichWithConfidenceIntervals(results []map[string]any, sampleData map[string][]float64, sampleFraction float64, cols []string) {
	if len(results) == 0 {
		return
	}

	for _, col := range cols {
		values := sampleData[col]
		if len(values) == 0 {
			continue
		}

		n := len(values)
		mean, variance := meanAndVariance(values)

		scale := 1.0 / sampleFraction
		margin := estimator.ZScore(0.95) * math.Sqrt(variance) / math.Sqrt(float64(n))
		ci := estimator.CIResult{Lower: (mean - margin) * scale, Upper: (mean + margin) * scale}
		if mean != 0 {
			ci.RelativeError = (ci.Upper - ci.Lower) / (2 * math.Abs(mean) * scale)
		}

		if _, exists := results[0][col]; exists {
			results[0][col+"_ci_low"] = ci.Lower
			results[0][col+"_ci_high"] = ci.Upper
			results[0][col+"_rel_error"] = ci.RelativeError
		}
	}
}

// meanAndVariance computes the sample mean and (population) variance of vals.
func meanAndVariance(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	sqDiff := 0.0
	for _, v := range vals {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(vals))
	if math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}

// minMaxWarnings returns a warning for each MIN/MAX aggregate found in sqlText,
// since those are biased (not merely imprecise) under uniform/stratified
// sampling and have no scaling factor that corrects them.
func minMaxWarnings(sqlText string) []string {
	var warnings []string
	seen := map[string]bool{}
	for _, marker := range minMaxRe {
		if strings.Contains(sqlText, marker) {
			fn := strings.ToUpper(strings.TrimSuffix(marker, "("))
			if seen[fn] {
				continue
			}
			seen[fn] = true
			warnings = append(warnings, fn+" aggregates are biased under sampling and are not scaled or bounded by this result")
		}
	}
	return warnings
}
