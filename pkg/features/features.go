// Package features extracts a query feature vector from a raw SQL string without a
// full parser, the way the rest of the engine reasons about a query: a handful of
// case-insensitive regexes over FROM, the aggregate keywords, GROUP BY and WHERE. It
// is deliberately the single place this extraction happens — the planner and the ML
// optimizer both consume a features.Vector instead of keeping their own copies of the
// same regexes.
package features

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
)

// Vector is the transient feature vector derived from a SQL string and an error
// tolerance, per the data model's feature-vector entity.
type Vector struct {
	TableName          string  `json:"table_name"`
	TableSize          int64   `json:"table_size"`
	HasCount           bool    `json:"has_count"`
	HasSum             bool    `json:"has_sum"`
	HasAvg             bool    `json:"has_avg"`
	HasDistinct        bool    `json:"has_distinct"`
	HasGroupBy         bool    `json:"has_group_by"`
	GroupByCardinality int     `json:"group_by_cardinality"`
	WhereComplexity    int     `json:"where_complexity"`
	QueryLength        int     `json:"query_length"`
	ErrorTolerance     float64 `json:"error_tolerance"`
}

var (
	fromRe     = regexp.MustCompile(`(?i)from\s+([a-zA-Z0-9_]+)`)
	groupByRe  = regexp.MustCompile(`(?i)group\s+by\s+(.+?)(?:\s+having|\s+order|\s+limit|$)`)
	whereRe    = regexp.MustCompile(`(?i)where\s+(.+?)(?:\s+group\s+by|\s+order\s+by|\s+limit|$)`)
	andOrRe    = regexp.MustCompile(`(?i)\b(and|or)\b`)
	countRe    = regexp.MustCompile(`(?i)count`)
	sumRe      = regexp.MustCompile(`(?i)sum`)
	avgRe      = regexp.MustCompile(`(?i)avg`)
	distinctRe = regexp.MustCompile(`(?i)distinct`)
	groupByHit = regexp.MustCompile(`(?i)group\s+by`)
)

// TableName returns the first identifier after FROM, or "" if none is found.
func TableName(sqlText string) string {
	m := fromRe.FindStringSubmatch(sqlText)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Extract derives the feature vector for sqlText. Extraction only fails when no table
// name can be found after FROM; a failure to probe the row count does not fail
// extraction, per the spec — table_size is left at 0 and a PlanningAmbiguity-flavored
// degrade happens further up the stack.
func Extract(ctx context.Context, db *sql.DB, sqlText string, errorTolerance float64) (*Vector, error) {
	table := TableName(sqlText)
	if table == "" {
		return nil, aqerr.New(aqerr.PlanningAmbiguity, "features.Extract", fmt.Errorf("no table name found after FROM"))
	}

	v := &Vector{
		TableName:      table,
		QueryLength:    len(sqlText),
		ErrorTolerance: errorTolerance,
	}

	if db != nil {
		var count int64
		err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err == nil {
			v.TableSize = count
		}
	}

	upper := strings.ToUpper(sqlText)
	v.HasCount = countRe.MatchString(upper)
	v.HasSum = sumRe.MatchString(upper)
	v.HasAvg = avgRe.MatchString(upper)
	v.HasDistinct = distinctRe.MatchString(upper)
	v.HasGroupBy = groupByHit.MatchString(upper)

	if v.HasGroupBy {
		if m := groupByRe.FindStringSubmatch(sqlText); len(m) > 1 {
			cols := strings.Split(m[1], ",")
			n := 0
			for _, c := range cols {
				if strings.TrimSpace(c) != "" {
					n++
				}
			}
			v.GroupByCardinality = n
		}
	}

	if m := whereRe.FindStringSubmatch(sqlText); len(m) > 1 {
		v.WhereComplexity = len(andOrRe.FindAllString(m[1], -1))
	}

	return v, nil
}
