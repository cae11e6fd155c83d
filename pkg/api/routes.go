// Package api exposes the query engine over HTTP: plan/execute a query,
// materialize samples and sketches, and report what the learning optimizer
// has picked up so far.
package api

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sahithikokkula/approximate-query-engine/pkg/ml"
)

type JSON map[string]any

// RegisterRoutes wires every endpoint onto r, backed by db and a shared
// LearningOptimizer so its history cache is reused across requests instead of
// rebuilt per call.
func RegisterRoutes(r *mux.Router, db *sql.DB, cacheSize int) {
	h := &Handler{
		db:       db,
		learning: ml.NewLearningOptimizer(db, cacheSize),
	}

	r.Use(corsMiddleware)
	r.Use(requestIDMiddleware)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tables", h.ListTables).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/query", h.PostQuery).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/samples/create", h.PostCreateSample).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/samples/stratified", h.PostCreateStratifiedSample).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/sketches/create", h.PostCreateSketch).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sketches", h.GetSketches).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ml/stats", h.GetLearningStats).Methods(http.MethodGet, http.MethodOptions)
}

type Handler struct {
	db       *sql.DB
	learning *ml.LearningOptimizer
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware applies config.CORSOrigins (read once at startup and baked
// into corsOrigins) to every response, mirroring the original Flask app's
// CORS_ORIGINS environment variable since the teacher's Go server has no CORS
// story at all.
var corsOrigins = "*"

// SetCORSOrigins configures the Access-Control-Allow-Origin value used by
// corsMiddleware. Called once from cmd/aqe-server after config.Load.
func SetCORSOrigins(origins string) {
	if origins != "" {
		corsOrigins = origins
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", corsOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// requestIDMiddleware tags every request with a uuid, returns it in the
// X-Request-ID header and prefixes the request's log lines with it.
// Performance-history rows do not store it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		log.Printf("[%s] %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}
