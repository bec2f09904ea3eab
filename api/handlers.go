package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/checktor/amnesiadb/core"
	"github.com/checktor/amnesiadb/core/clustering"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// IngestRequest carries one embedding and its provenance.
type IngestRequest struct {
	Embedding []float32       `json:"embedding"`
	Source    *core.SourceRef `json:"source,omitempty"`
}

// IngestResponse returns the id assigned to the ingested point.
type IngestResponse struct {
	ID string `json:"id"`
}

// ClusterRequest asks for a search followed by identity grouping of
// the matched points.
type ClusterRequest struct {
	Query             []float32 `json:"query"`
	TopK              int       `json:"top_k,omitempty"`
	DistanceThreshold float32   `json:"distance_threshold,omitempty"`

	// Grouping knobs; zero values fall back to the server defaults.
	GroupingThreshold *float32 `json:"grouping_threshold,omitempty"`
	MaxIterations     int      `json:"max_iterations,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
}

// ClusterResponse lists the identity groups found among the matches.
type ClusterResponse struct {
	Groups []clustering.Group `json:"groups"`
}

// FitRequest triggers a basis re-fit over the stored corpus.
type FitRequest struct {
	TargetDim int `json:"target_dim,omitempty"`
}

// FitResponse reports the newly published basis.
type FitResponse struct {
	BasisVersion string `json:"basis_version"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	s.respondWithJSON(w, http.StatusOK, response)
}

// handleIngest stores a new embedding
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var source core.SourceRef
	if req.Source != nil {
		source = *req.Source
	}

	id, err := s.engine.Ingest(r.Context(), req.Embedding, source)
	if err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusCreated, IngestResponse{ID: id})
}

// handleGetPoint retrieves a stored point by id
func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	point, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, point)
}

// handleDeletePoint removes a stored point by id
func (s *Server) handleDeletePoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := s.engine.Remove(r.Context(), id); err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Point deleted successfully"})
}

// handleSearch performs similarity search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req core.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	results, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, results)
}

// handleCluster searches and groups the matches by identity
func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	var req ClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	results, err := s.engine.Search(r.Context(), core.SearchRequest{
		Query:             req.Query,
		TopK:              req.TopK,
		DistanceThreshold: req.DistanceThreshold,
	})
	if err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	opts := clustering.Options{
		SimilarityThreshold: core.InverseDistanceSimilarity(s.clustering.DistanceThreshold),
		MaxIterations:       s.clustering.MaxIterations,
		Seed:                s.clustering.Seed,
	}
	if req.GroupingThreshold != nil {
		opts.SimilarityThreshold = core.InverseDistanceSimilarity(*req.GroupingThreshold)
	}
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}

	groups, err := s.engine.GroupResults(r.Context(), results, opts)
	if err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, ClusterResponse{Groups: groups})
}

// handleFit re-fits the projection basis over the stored corpus
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	targetDim := req.TargetDim
	if targetDim <= 0 {
		targetDim = s.engine.Stats().Params.TargetDim
	}

	if err := s.engine.Fit(r.Context(), targetDim); err != nil {
		s.respondWithError(w, statusForError(err), err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, FitResponse{BasisVersion: s.engine.BasisVersion()})
}

// handleStats returns engine statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.engine.Stats())
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrPointNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDimensionMismatch),
		errors.Is(err, core.ErrEmptyVector),
		errors.Is(err, core.ErrInsufficientData):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoBasis),
		errors.Is(err, core.ErrStaleIndex):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
