package main

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	dbPath         string
	purchasesRows  int
	largeSalesRows int
	smallProdRows  int
	randomSeed     int64
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate a demo SQLite database for the approximate query engine",
	RunE:  runSeed,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&dbPath, "db-path", "./data/aqe.sqlite", "path to the SQLite database file")
	flags.IntVar(&purchasesRows, "purchases-rows", 200000, "number of rows to seed into purchases")
	flags.IntVar(&largeSalesRows, "large-sales-rows", 50000, "number of rows to seed into large_sales")
	flags.IntVar(&smallProdRows, "small-products-rows", 1000, "number of rows to seed into small_products")
	flags.Int64Var(&randomSeed, "seed", 42, "random seed for reproducible demo data")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	rng := rand.New(rand.NewSource(randomSeed))

	if err := seedPurchases(db, rng, purchasesRows); err != nil {
		return fmt.Errorf("seed purchases: %w", err)
	}
	fmt.Println("purchases seeded.")

	if err := createDemoTables(db, rng); err != nil {
		return fmt.Errorf("create demo tables: %w", err)
	}
	fmt.Println("demo tables created successfully.")

	return nil
}

func seedPurchases(db *sql.DB, rng *rand.Rand, n int) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS purchases`); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE purchases (
        id INTEGER PRIMARY KEY,
        dt TEXT,
        country TEXT,
        amount REAL
    )`); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	countries := []string{"US", "IN", "DE", "FR", "GB", "BR", "CA", "AU", "JP", "MX"}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO purchases(dt,country,amount) VALUES (?,?,?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		d := start.Add(time.Duration(rng.Intn(365*24)) * time.Hour)
		c := countries[rng.Intn(len(countries))]
		amt := 10 + rng.ExpFloat64()*50
		if _, err := stmt.Exec(d.Format(time.RFC3339), c, amt); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
		if i%10000 == 0 {
			fmt.Printf("inserted %s purchases rows\n", humanize.Comma(int64(i)))
		}
	}
	return tx.Commit()
}

// createDemoTables builds large_sales and small_products, tables sized to
// exercise the planner's and the ML optimizer's table-size thresholds at two
// different scales.
func createDemoTables(db *sql.DB, rng *rand.Rand) error {
	log.Println("creating demo tables for strategy selection...")

	if _, err := db.Exec(`DROP TABLE IF EXISTS large_sales`); err != nil {
		return fmt.Errorf("drop large_sales: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE large_sales (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        customer_id INTEGER NOT NULL,
        order_date DATE NOT NULL,
        amount REAL NOT NULL,
        region TEXT NOT NULL,
        product_category TEXT NOT NULL,
        sales_rep_id INTEGER,
        payment_method TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return fmt.Errorf("create large_sales: %w", err)
	}

	if _, err := db.Exec(`DROP TABLE IF EXISTS small_products`); err != nil {
		return fmt.Errorf("drop small_products: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE small_products (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        product_name TEXT NOT NULL,
        category TEXT NOT NULL,
        price REAL NOT NULL,
        in_stock BOOLEAN DEFAULT 1,
        supplier_id INTEGER,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return fmt.Errorf("create small_products: %w", err)
	}

	if err := seedLargeSales(db, rng, largeSalesRows); err != nil {
		return fmt.Errorf("seed large_sales: %w", err)
	}
	if err := seedSmallProducts(db, rng, smallProdRows); err != nil {
		return fmt.Errorf("seed small_products: %w", err)
	}
	return nil
}

func seedLargeSales(db *sql.DB, rng *rand.Rand, recordCount int) error {
	log.Printf("seeding large_sales with %s records...", humanize.Comma(int64(recordCount)))

	regions := []string{"North America", "Europe", "Asia", "South America", "Africa", "Oceania"}
	categories := []string{"Electronics", "Clothing", "Home & Garden", "Sports", "Books", "Beauty"}
	paymentMethods := []string{"Credit Card", "Debit Card", "PayPal", "Bank Transfer", "Cash"}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT INTO large_sales (customer_id, order_date, amount, region, product_category, sales_rep_id, payment_method)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < recordCount; i++ {
		if i%5000 == 0 && i > 0 {
			log.Printf("inserted %s/%s large_sales records...", humanize.Comma(int64(i)), humanize.Comma(int64(recordCount)))
		}

		customerID := rng.Intn(10000) + 1
		orderDate := time.Now().AddDate(0, 0, -rng.Intn(365)).Format("2006-01-02")

		var amount float64
		switch {
		case rng.Float64() < 0.7:
			amount = float64(rng.Intn(500)) + 10.0
		case rng.Float64() < 0.9:
			amount = float64(rng.Intn(2000)) + 500.0
		default:
			amount = float64(rng.Intn(5000)) + 2000.0
		}

		region := regions[rng.Intn(len(regions))]
		category := categories[rng.Intn(len(categories))]
		salesRepID := rng.Intn(100) + 1
		paymentMethod := paymentMethods[rng.Intn(len(paymentMethods))]

		if _, err := stmt.Exec(customerID, orderDate, amount, region, category, salesRepID, paymentMethod); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	log.Printf("seeded large_sales with %s records", humanize.Comma(int64(recordCount)))
	return nil
}

func seedSmallProducts(db *sql.DB, rng *rand.Rand, recordCount int) error {
	log.Printf("seeding small_products with %s records...", humanize.Comma(int64(recordCount)))

	products := []string{
		"Wireless Headphones", "Bluetooth Speaker", "Phone Case", "Laptop Stand",
		"Coffee Mug", "Water Bottle", "Notebook", "Pen Set", "Mouse Pad",
		"USB Cable", "Power Bank", "Desk Lamp", "Phone Charger", "Backpack",
		"T-Shirt", "Jeans", "Sneakers", "Watch", "Sunglasses", "Hat",
	}
	categories := []string{"Electronics", "Office Supplies", "Clothing", "Accessories"}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT INTO small_products (product_name, category, price, in_stock, supplier_id)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < recordCount; i++ {
		productName := fmt.Sprintf("%s #%d", products[rng.Intn(len(products))], rng.Intn(1000))
		category := categories[rng.Intn(len(categories))]
		price := float64(rng.Intn(500)) + 5.0
		inStock := rng.Float64() > 0.1
		supplierID := rng.Intn(50) + 1

		if _, err := stmt.Exec(productName, category, price, inStock, supplierID); err != nil {
			return fmt.Errorf("insert product %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	log.Printf("seeded small_products with %s records", humanize.Comma(int64(recordCount)))
	return nil
}
