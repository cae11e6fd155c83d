// Package sampler materializes uniform and stratified samples of a backing table
// and names them predictably enough that the planner can find and reuse them
// instead of re-sampling on every query.
package sampler

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"
)

// FractionName renders f into the short, reversible token used inside sample
// table names (e.g. 0.01 -> "0_01"). It is the single canonical implementation;
// the planner imports this instead of keeping its own copy, so a sample built by
// CreateUniformSample is always found by the planner's prebuilt-table lookup.
func FractionName(f float64) string {
	if f <= 0 {
		return "0_000"
	}
	prec := 3
	if f < 0.001 {
		prec = 6
	}
	s := fmt.Sprintf("%.*f", prec, f)
	s = strings.Replace(s, ".", "_", 1)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, "_") {
		s += "0"
	}
	if len(s) > 12 {
		e := int(math.Log10(f))
		mant := f / math.Pow(10, float64(e))
		s = fmt.Sprintf("%0.2fE%d", mant, e)
		s = strings.ReplaceAll(s, ".", "_")
		s = strings.ReplaceAll(s, "+", "p")
		s = strings.ReplaceAll(s, "-", "m")
	}
	if !strings.HasPrefix(s, "0_") {
		s = "0_" + s
	}
	return s
}

// ParseFractionName is the inverse of FractionName for the plain-decimal case
// (no scientific-notation fallback): "0_01" -> 0.01. It returns false when the
// token can't be parsed back into a fraction, which the caller treats as "not a
// recognizable sample table name" rather than an error.
func ParseFractionName(token string) (float64, bool) {
	if !strings.HasPrefix(token, "0_") {
		return 0, false
	}
	decimal := "0." + strings.TrimPrefix(token, "0_")
	f, err := strconv.ParseFloat(decimal, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// UniformSampleName returns the table name CreateUniformSample would use for
// (table, fraction), without touching the database.
func UniformSampleName(table string, fraction float64) string {
	return fmt.Sprintf("%s__sample_%s", table, FractionName(fraction))
}

// StratifiedSampleName returns the table name CreateStratifiedSample would use
// for (table, strataCol, fraction), without touching the database.
func StratifiedSampleName(table, strataCol string, fraction float64) string {
	return fmt.Sprintf("%s__strat_sample_%s_%s", table, strataCol, FractionName(fraction))
}

// CreateUniformSample materializes a uniform random sample of table at the given
// fraction, using SQLite's signed 64-bit random() the same way the rest of the
// engine does: abs(random())/maxint64 < fraction.
func CreateUniformSample(ctx context.Context, db *sql.DB, table string, fraction float64) (string, int64, error) {
	if fraction <= 0 || fraction >= 1 {
		return "", 0, aqerr.Invalid("CreateUniformSample", "fraction must be in (0, 1), got %f", fraction)
	}
	name := UniformSampleName(table, fraction)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return "", 0, aqerr.StoreFailure("CreateUniformSample", err)
	}
	q := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE (abs(random())/9223372036854775807.0) < %f", name, table, fraction)
	if _, err := db.ExecContext(ctx, q); err != nil {
		return "", 0, aqerr.StoreFailure("CreateUniformSample", err)
	}
	var cnt int64
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", name))
	if err := row.Scan(&cnt); err != nil {
		return name, 0, aqerr.StoreFailure("CreateUniformSample", err)
	}
	_ = recordSampleMeta(ctx, db, table, name, fraction)
	return name, cnt, nil
}

func recordSampleMeta(ctx context.Context, db *sql.DB, table, sample string, fraction float64) error {
	var baseCnt int64
	_ = db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&baseCnt)
	_ = storage.UpsertTableRowCount(ctx, db, table, baseCnt)
	return storage.InsertSampleMeta(ctx, db, table, sample, fraction, "")
}

// StrataInfo describes one stratum of a stratified sample: its population size,
// achieved sample size, fraction, allocation weight and (for Neyman allocation)
// variance of the variance column within the stratum.
type StrataInfo struct {
	StrataKey   string  `json:"strata_key"`
	StrataValue string  `json:"strata_value"`
	PopSize     int64   `json:"pop_size"`
	SampleSize  int64   `json:"sample_size"`
	Fraction    float64 `json:"fraction"`
	Weight      float64 `json:"weight"`
	Variance    float64 `json:"variance"`
}

// CreateStratifiedSample partitions table by strataCol and samples each stratum
// independently, either proportionally or (when varianceCol is given) via Neyman
// allocation weighted by N_h * sigma_h, so high-variance strata are oversampled
// relative to their population share.
func CreateStratifiedSample(ctx context.Context, db *sql.DB, table string, strataCol string, totalFraction float64, varianceCol string) (string, []StrataInfo, error) {
	if totalFraction <= 0 || totalFraction >= 1 {
		return "", nil, aqerr.Invalid("CreateStratifiedSample", "total fraction must be in (0, 1), got %f", totalFraction)
	}

	strata, err := analyzeStrata(ctx, db, table, strataCol, varianceCol)
	if err != nil {
		return "", nil, aqerr.StoreFailure("CreateStratifiedSample: analyze strata", err)
	}

	if varianceCol != "" {
		allocateNeymanOptimal(strata, totalFraction)
	} else {
		allocateProportional(strata, totalFraction)
	}
	sampleName := StratifiedSampleName(table, strataCol, totalFraction)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", sampleName)); err != nil {
		return "", nil, aqerr.StoreFailure("CreateStratifiedSample: drop existing table", err)
	}

	query := buildStratifiedSampleQuery(table, sampleName, strataCol, strata)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return "", nil, aqerr.StoreFailure("CreateStratifiedSample: create sample table", err)
	}

	if err := updateActualSampleSizes(ctx, db, sampleName, strataCol, strata); err != nil {
		return "", nil, aqerr.StoreFailure("CreateStratifiedSample: update sample sizes", err)
	}

	if err := recordStratifiedSampleMeta(ctx, db, table, sampleName, strataCol, totalFraction, strata); err != nil {
		return "", nil, aqerr.StoreFailure("CreateStratifiedSample: record metadata", err)
	}

	return sampleName, strata, nil
}

// analyzeStrata discovers strata and their characteristics.
func analyzeStrata(ctx context.Context, db *sql.DB, table, strataCol, varianceCol string) ([]StrataInfo, error) {
	var query string
	if varianceCol != "" {
		query = fmt.Sprintf(`
            SELECT %s as strata_value,
                   COUNT(*) as pop_size,
                   AVG(%s) as mean_val,
                   CASE WHEN COUNT(*) > 1 THEN
                       (SUM((%s - (SELECT AVG(%s) FROM %s WHERE %s = t.%s)) * (%s - (SELECT AVG(%s) FROM %s WHERE %s = t.%s))) / (COUNT(*) - 1))
                   ELSE 0 END as variance
            FROM %s t
            WHERE %s IS NOT NULL AND %s IS NOT NULL
            GROUP BY %s
            ORDER BY pop_size DESC`,
			strataCol, varianceCol, varianceCol, varianceCol, table, strataCol, strataCol,
			varianceCol, varianceCol, table, strataCol, strataCol,
			table, strataCol, varianceCol, strataCol)
	} else {
		query = fmt.Sprintf(`
            SELECT %s as strata_value,
                   COUNT(*) as pop_size,
                   0.0 as mean_val,
                   0.0 as variance
            FROM %s
            WHERE %s IS NOT NULL
            GROUP BY %s
            ORDER BY pop_size DESC`,
			strataCol, table, strataCol, strataCol)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strata []StrataInfo
	for rows.Next() {
		var info StrataInfo
		var meanVal float64
		if err := rows.Scan(&info.StrataValue, &info.PopSize, &meanVal, &info.Variance); err != nil {
			return nil, err
		}
		info.StrataKey = strataCol
		strata = append(strata, info)
	}

	return strata, rows.Err()
}

// allocateNeymanOptimal allocates sample sizes proportional to N_h * sigma_h,
// the variance-minimizing allocation when strata variances differ.
func allocateNeymanOptimal(strata []StrataInfo, totalFraction float64) {
	var totalPop int64
	var totalWeight float64

	for i := range strata {
		totalPop += strata[i].PopSize
		stdDev := math.Sqrt(strata[i].Variance)
		strata[i].Weight = float64(strata[i].PopSize) * stdDev
		totalWeight += strata[i].Weight
	}

	totalSampleSize := float64(totalPop) * totalFraction

	for i := range strata {
		if totalWeight > 0 {
			strata[i].SampleSize = int64(totalSampleSize * strata[i].Weight / totalWeight)
			strata[i].Fraction = float64(strata[i].SampleSize) / float64(strata[i].PopSize)
		} else {
			strata[i].Fraction = totalFraction
			strata[i].SampleSize = int64(float64(strata[i].PopSize) * totalFraction)
		}

		if strata[i].Fraction > 1.0 {
			strata[i].Fraction = 1.0
			strata[i].SampleSize = strata[i].PopSize
		}
	}
}

// allocateProportional gives every stratum the same sampling fraction.
func allocateProportional(strata []StrataInfo, totalFraction float64) {
	for i := range strata {
		strata[i].Fraction = totalFraction
		strata[i].SampleSize = int64(float64(strata[i].PopSize) * totalFraction)
		strata[i].Weight = float64(strata[i].PopSize)
	}
}

// buildStratifiedSampleQuery constructs the CREATE TABLE ... AS SELECT UNION ALL
// query that samples each stratum at its allocated fraction in one statement.
func buildStratifiedSampleQuery(table, sampleName, strataCol string, strata []StrataInfo) string {
	var unionParts []string

	for _, stratum := range strata {
		if stratum.SampleSize > 0 {
			part := fmt.Sprintf(`
                SELECT * FROM %s
                WHERE %s = '%s' AND (abs(random())/9223372036854775807.0) < %f`,
				table, strataCol, stratum.StrataValue, stratum.Fraction)
			unionParts = append(unionParts, part)
		}
	}

	if len(unionParts) == 0 {
		return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", sampleName, table)
	}

	return fmt.Sprintf("CREATE TABLE %s AS %s", sampleName, strings.Join(unionParts, " UNION ALL "))
}

// updateActualSampleSizes reconciles each stratum's allocated sample size against
// what sampling actually produced, since the per-row random() draw means the
// achieved count rarely matches the allocation exactly.
func updateActualSampleSizes(ctx context.Context, db *sql.DB, sampleName, strataCol string, strata []StrataInfo) error {
	query := fmt.Sprintf(`
        SELECT %s as strata_value, COUNT(*) as actual_count
        FROM %s
        GROUP BY %s`,
		strataCol, sampleName, strataCol)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	actualCounts := make(map[string]int64)
	for rows.Next() {
		var strataValue string
		var count int64
		if err := rows.Scan(&strataValue, &count); err != nil {
			return err
		}
		actualCounts[strataValue] = count
	}

	for i := range strata {
		actualCount := actualCounts[strata[i].StrataValue]
		strata[i].SampleSize = actualCount
		strata[i].Fraction = float64(actualCount) / float64(strata[i].PopSize)
	}

	return rows.Err()
}

// recordStratifiedSampleMeta records the sample and its per-stratum breakdown in
// the metadata store.
func recordStratifiedSampleMeta(ctx context.Context, db *sql.DB, table, sampleName, strataCol string, totalFraction float64, strata []StrataInfo) error {
	if err := storage.InsertSampleMeta(ctx, db, table, sampleName, totalFraction, strataCol); err != nil {
		return err
	}

	for _, stratum := range strata {
		_, err := db.ExecContext(ctx, `
            INSERT INTO aqe_strata_info(sample_table, strata_key, strata_value, pop_size, sample_size, fraction, weight, variance)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			sampleName, stratum.StrataKey, stratum.StrataValue, stratum.PopSize,
			stratum.SampleSize, stratum.Fraction, stratum.Weight, stratum.Variance)
		if err != nil {
			return err
		}
	}

	return nil
}
