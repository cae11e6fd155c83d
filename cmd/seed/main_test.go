package main

import (
	"database/sql"
	"math/rand"
	"testing"

	_ "modernc.org/sqlite"
)

func openSeedTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSeedPurchases_InsertsRequestedRowCount(t *testing.T) {
	db := openSeedTestDB(t)
	rng := rand.New(rand.NewSource(1))

	if err := seedPurchases(db, rng, 50); err != nil {
		t.Fatalf("seedPurchases() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM purchases").Scan(&count); err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if count != 50 {
		t.Errorf("purchases row count = %d, want 50", count)
	}
}

func TestSeedPurchases_IsIdempotentAcrossReruns(t *testing.T) {
	db := openSeedTestDB(t)
	rng := rand.New(rand.NewSource(1))

	if err := seedPurchases(db, rng, 10); err != nil {
		t.Fatalf("first seedPurchases() error = %v", err)
	}
	if err := seedPurchases(db, rng, 20); err != nil {
		t.Fatalf("second seedPurchases() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM purchases").Scan(&count); err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if count != 20 {
		t.Errorf("purchases row count = %d, want 20 (DROP TABLE IF EXISTS resets between runs)", count)
	}
}

func TestCreateDemoTables_SeedsBothTablesAtRequestedSize(t *testing.T) {
	db := openSeedTestDB(t)
	rng := rand.New(rand.NewSource(1))

	largeSalesRows = 30
	smallProdRows = 15

	if err := createDemoTables(db, rng); err != nil {
		t.Fatalf("createDemoTables() error = %v", err)
	}

	var largeCount, smallCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM large_sales").Scan(&largeCount); err != nil {
		t.Fatalf("count large_sales: %v", err)
	}
	if largeCount != 30 {
		t.Errorf("large_sales row count = %d, want 30", largeCount)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM small_products").Scan(&smallCount); err != nil {
		t.Fatalf("count small_products: %v", err)
	}
	if smallCount != 15 {
		t.Errorf("small_products row count = %d, want 15", smallCount)
	}
}
