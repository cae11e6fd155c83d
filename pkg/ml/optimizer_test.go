package ml

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sahithikokkula/approximate-query-engine/pkg/features"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChooseStrategy_BaseDecisionTree(t *testing.T) {
	opt := NewMLOptimizer(nil)

	tests := []struct {
		name string
		f    *features.Vector
		want OptimizationStrategy
	}{
		{
			name: "small table always exact",
			f:    &features.Vector{TableSize: 500, ErrorTolerance: 0.1},
			want: StrategyExact,
		},
		{
			name: "distinct count with slack tolerance picks sketch",
			f:    &features.Vector{TableSize: 20000, HasDistinct: true, HasCount: true, ErrorTolerance: 0.05},
			want: StrategySketch,
		},
		{
			name: "group by on a large high-cardinality table picks stratified",
			f:    &features.Vector{TableSize: 20000, HasGroupBy: true, GroupByCardinality: 3, ErrorTolerance: 0.05},
			want: StrategyStratified,
		},
		{
			name: "group by on a small table falls back to sketch proxy",
			f:    &features.Vector{TableSize: 5000, HasGroupBy: true, GroupByCardinality: 1, ErrorTolerance: 0.05},
			want: StrategySketch,
		},
		{
			name: "large aggregate table with loose tolerance picks sample",
			f:    &features.Vector{TableSize: 6000, HasSum: true, ErrorTolerance: 0.05},
			want: StrategySample,
		},
		{
			name: "zero error tolerance never leaves exact",
			f:    &features.Vector{TableSize: 50000, HasCount: true, ErrorTolerance: 0},
			want: StrategyExact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, confidence := opt.chooseStrategy(tt.f)
			if got != tt.want {
				t.Errorf("chooseStrategy() = %v, want %v", got, tt.want)
			}
			if confidence <= 0 || confidence > 1 {
				t.Errorf("confidence = %v, want in (0, 1]", confidence)
			}
		})
	}
}

func TestApplySampleTransformation_FractionScalesWithTableSize(t *testing.T) {
	opt := NewMLOptimizer(openTestDB(t))
	f := &features.Vector{TableName: "orders", TableSize: 200000, ErrorTolerance: 0.05}

	modifiedSQL, transformations, speedup, estErr := opt.applySampleTransformation(context.Background(), "SELECT COUNT(*) FROM orders", f, 0)
	if modifiedSQL == "" {
		t.Fatal("modified SQL is empty")
	}
	if speedup != 100 {
		t.Errorf("speedup = %v, want 100 (1/0.01 fraction for a >100k table)", speedup)
	}
	if len(transformations) == 0 {
		t.Error("transformations is empty, want at least the fraction note")
	}
	if estErr <= 0 || estErr > 0.5 {
		t.Errorf("estimatedError = %v, want in (0, 0.5]", estErr)
	}
}

func TestApplySketchTransformation_PinsFractionAt30Percent(t *testing.T) {
	opt := NewMLOptimizer(openTestDB(t))
	f := &features.Vector{TableName: "orders", TableSize: 50000, HasDistinct: true, ErrorTolerance: 0.05}

	_, _, speedup, estErr := opt.applySketchTransformation(context.Background(), "SELECT COUNT(DISTINCT id) FROM orders", f)
	want := 1.0 / 0.3
	if speedup != want {
		t.Errorf("speedup = %v, want %v", speedup, want)
	}
	if estErr < 0.02 || estErr > 0.30 {
		t.Errorf("estimatedError = %v, want clamped to [0.02, 0.30]", estErr)
	}
}

func TestAppendRowidModulo_AppendsWhereWhenAbsent(t *testing.T) {
	got := appendRowidModulo("SELECT * FROM orders", "orders", 10)
	want := "SELECT * FROM orders WHERE (ROWID % 10) = 0"
	if got != want {
		t.Errorf("appendRowidModulo() = %q, want %q", got, want)
	}
}

func TestAppendRowidModulo_AndsOntoExistingWhere(t *testing.T) {
	got := appendRowidModulo("SELECT * FROM orders WHERE amount > 10", "orders", 10)
	want := "SELECT * FROM orders WHERE (ROWID % 10) = 0 AND amount > 10"
	if got != want {
		t.Errorf("appendRowidModulo() = %q, want %q", got, want)
	}
}

func TestReplaceWholeIdentifier_LeavesSubstringMatchesAlone(t *testing.T) {
	got := replaceWholeIdentifier("SELECT * FROM orders, orders_backup", "orders", "orders__sample_0_01")
	want := "SELECT * FROM orders__sample_0_01, orders_backup"
	if got != want {
		t.Errorf("replaceWholeIdentifier() = %q, want %q", got, want)
	}
}

func TestOptimizeQuery_SmallTableAlwaysExact(t *testing.T) {
	opt := NewMLOptimizer(nil)
	got, err := opt.OptimizeQuery(context.Background(), "SELECT * FROM orders", 0.1)
	if err != nil {
		t.Fatalf("OptimizeQuery() error = %v", err)
	}
	if got.Strategy != StrategyExact {
		t.Errorf("Strategy = %v, want exact (feature extraction with nil db leaves TableSize at 0)", got.Strategy)
	}
}
