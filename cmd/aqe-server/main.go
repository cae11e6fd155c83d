package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/approximate-query-engine/pkg/api"
	"github.com/sahithikokkula/approximate-query-engine/pkg/config"
	"github.com/sahithikokkula/approximate-query-engine/pkg/storage"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aqe-server",
	Short: "Approximate query engine HTTP server",
	Long: `aqe-server plans and executes SQL queries against a SQLite-backed
store, choosing between exact execution, uniform/stratified samples and
probabilistic sketches based on a cost model and learned query history.`,
	RunE: runServer,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aqe/config.yaml)")
	flags.String("db-path", "", "path to the SQLite database file")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("host", "", "HTTP listen host")
	flags.Int("cache-size", 0, "ML learning history-window cache size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	log.Printf("using database path: %s", cfg.DBPath)

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	defer db.Close()

	// A single shared SQLite connection avoids SQLITE_BUSY under concurrent
	// writers; the engine trades connection-level parallelism for correctness.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Printf("warning: failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		log.Printf("warning: failed to set synchronous mode: %v", err)
	}

	if err := storage.EnsureMetaTables(context.Background(), db); err != nil {
		return fmt.Errorf("ensure meta tables: %w", err)
	}

	api.SetCORSOrigins(cfg.CORSOrigins)

	r := mux.NewRouter()
	api.RegisterRoutes(r, db, cfg.CacheSize)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("aqe-server listening on http://%s:%d", cfg.Host, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("server stopped")
	return nil
}

// applyFlagOverrides lets an explicitly-set command-line flag win over the
// config-file/environment value config.Load already resolved.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db-path") {
		cfg.DBPath, _ = flags.GetString("db-path")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("cache-size") {
		cfg.CacheSize, _ = flags.GetInt("cache-size")
	}
}
