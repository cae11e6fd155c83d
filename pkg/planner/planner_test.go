package planner

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sahithikokkula/approximate-query-engine/pkg/sampler"
	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"

	_ "modernc.org/sqlite"
)

func TestParseSampleTableName_Uniform(t *testing.T) {
	p := New()
	table := sampler.UniformSampleName("orders", 0.01)

	original, fraction, strata, isSample := p.parseSampleTableName(table)
	if !isSample {
		t.Fatalf("parseSampleTableName(%q) isSample = false, want true", table)
	}
	if original != "orders" {
		t.Errorf("original = %q, want orders", original)
	}
	if strata != "" {
		t.Errorf("strata = %q, want empty for a uniform sample", strata)
	}
	if diff := fraction - 0.01; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("fraction = %v, want 0.01", fraction)
	}
}

func TestParseSampleTableName_Stratified(t *testing.T) {
	p := New()
	table := sampler.StratifiedSampleName("orders", "region", 0.1)

	original, fraction, strata, isSample := p.parseSampleTableName(table)
	if !isSample {
		t.Fatalf("parseSampleTableName(%q) isSample = false, want true", table)
	}
	if original != "orders" {
		t.Errorf("original = %q, want orders", original)
	}
	if strata != "region" {
		t.Errorf("strata = %q, want region", strata)
	}
	if diff := fraction - 0.1; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("fraction = %v, want 0.1", fraction)
	}
}

func TestParseSampleTableName_NotASampleTable(t *testing.T) {
	p := New()
	original, _, _, isSample := p.parseSampleTableName("orders")
	if isSample {
		t.Errorf("parseSampleTableName(\"orders\") isSample = true, want false")
	}
	if original != "orders" {
		t.Errorf("original = %q, want orders", original)
	}
}

func TestPlan_NoTableNameDegradesToExact(t *testing.T) {
	p := New()
	plan, err := p.Plan(context.Background(), nil, "SELECT 1", 0.1, false)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Type != PlanExact {
		t.Errorf("Type = %q, want exact", plan.Type)
	}
}

func TestPlan_PreferExactShortCircuits(t *testing.T) {
	p := New()
	plan, err := p.Plan(context.Background(), nil, "SELECT COUNT(*) FROM orders", 0.1, true)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Type != PlanExact {
		t.Errorf("Type = %q, want exact when preferExact is set", plan.Type)
	}
}

func TestPlan_DirectQueryOnSampleTableIsRecognized(t *testing.T) {
	p := New()
	sampleTable := sampler.UniformSampleName("orders", 0.01)
	sqlText := "SELECT COUNT(*) FROM " + sampleTable

	plan, err := p.Plan(context.Background(), nil, sqlText, 0.1, false)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Type != PlanSample {
		t.Errorf("Type = %q, want sample", plan.Type)
	}
	if plan.Table != "orders" {
		t.Errorf("Table = %q, want orders", plan.Table)
	}
}

func TestPlan_MissingTableStatsDegradesToExact(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := storage.EnsureMetaTables(context.Background(), db); err != nil {
		t.Fatalf("ensure meta tables: %v", err)
	}
	// "orders" does not exist, so getTableStats's row-count fallback query fails.

	p := New()
	plan, err := p.Plan(context.Background(), db, "SELECT COUNT(*) FROM orders", 0.1, false)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Type != PlanExact {
		t.Errorf("Type = %q, want exact when table stats are unavailable", plan.Type)
	}
}

func TestPlan_PicksSampleWhenAvailableAndWithinErrorTolerance(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		t.Fatalf("ensure meta tables: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL)`); err != nil {
		t.Fatalf("create orders: %v", err)
	}
	stmt, err := db.Prepare(`INSERT INTO orders(amount) VALUES (?)`)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < 200000; i++ {
		if _, err := stmt.Exec(float64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	stmt.Close()

	if _, _, err := sampler.CreateUniformSample(ctx, db, "orders", 0.01); err != nil {
		t.Fatalf("CreateUniformSample: %v", err)
	}

	p := New()
	plan, err := p.Plan(ctx, db, "SELECT COUNT(*) FROM orders", 0.5, false)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Type != PlanSample {
		t.Errorf("Type = %q, want sample when a cheaper sample clears the error tolerance", plan.Type)
	}
}

func TestRewriteSQLForSample_ReplacesWholeIdentifierOnly(t *testing.T) {
	p := New()
	got := p.rewriteSQLForSample("SELECT * FROM orders WHERE orders_backup = 1", "orders", "orders__sample_0_01")
	want := "SELECT * FROM orders__sample_0_01 WHERE orders_backup = 1"
	if got != want {
		t.Errorf("rewriteSQLForSample() = %q, want %q", got, want)
	}
}
