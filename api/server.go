package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/checktor/amnesiadb/engine"
)

// Server represents the REST API server
type Server struct {
	engine     *engine.Engine
	clustering ClusteringDefaults
	router     *mux.Router
	httpServer *http.Server
	config     ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// ClusteringDefaults are applied when a cluster request leaves the
// knobs unset.
type ClusteringDefaults struct {
	DistanceThreshold float32
	MaxIterations     int
	Seed              int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultClusteringDefaults match the face-grouping defaults.
func DefaultClusteringDefaults() ClusteringDefaults {
	return ClusteringDefaults{
		DistanceThreshold: 0.45,
		MaxIterations:     30,
		Seed:              1,
	}
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, config ServerConfig, clustering ClusteringDefaults) *Server {
	s := &Server{
		engine:     eng,
		clustering: clustering,
		config:     config,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Point endpoints
	s.router.HandleFunc("/points", s.handleIngest).Methods("POST")
	s.router.HandleFunc("/points/{id}", s.handleGetPoint).Methods("GET")
	s.router.HandleFunc("/points/{id}", s.handleDeletePoint).Methods("DELETE")

	// Retrieval endpoints
	s.router.HandleFunc("/search", s.handleSearch).Methods("POST")
	s.router.HandleFunc("/cluster", s.handleCluster).Methods("POST")

	// Basis endpoints
	s.router.HandleFunc("/fit", s.handleFit).Methods("POST")

	// Stats endpoint
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	fmt.Printf("Starting AmnesiaDB API server on %s\n", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware functions
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		fmt.Printf("[%s] %s %s %v\n", time.Now().Format("2006-01-02 15:04:05"), r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Error response helper
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

// JSON response helper
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON"}`))
		return
	}

	w.WriteHeader(code)
	w.Write(response)
}
