// Package httpserver exposes the ingestion orchestrator over HTTP (C8).
package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/perfsentry/core/internal/ingestion"
	"github.com/perfsentry/core/internal/store"
)

type Server struct {
	service *ingestion.Service
	store   store.Store
}

func New(service *ingestion.Service, st store.Store) *Server {
	return &Server{service: service, store: st}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/ingest/artifact", s.handleIngestArtifact)
	r.Get("/signatures/{hash}", s.handleGetSignature)

	return r
}

// ingestRequest bundles the §6 artifact envelope with the job context
// fields the orchestrator needs but that live outside the artifact body.
type ingestRequest struct {
	Repository            string          `json:"repository"`
	Push                  string          `json:"push"`
	Job                   string          `json:"job"`
	PushTime              time.Time       `json:"pushTime"`
	MachinePlatform       string          `json:"machinePlatform"`
	OptionCollectionHash  string          `json:"optionCollectionHash"`
	TierIsSheriffable     bool            `json:"tierIsSheriffable"`
	RepoPerfAlertsEnabled bool            `json:"repoPerfAlertsEnabled"`
	PerformanceData       json.RawMessage `json:"performance_data"`
}

func (s *Server) handleIngestArtifact(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := ingestion.JobContext{
		Repository:            req.Repository,
		RepoPerfAlertsEnabled: req.RepoPerfAlertsEnabled,
		Push:                  req.Push,
		Job:                   req.Job,
		PushTime:              req.PushTime.UTC(),
		MachinePlatform:       req.MachinePlatform,
		OptionCollectionHash:  req.OptionCollectionHash,
		TierIsSheriffable:     req.TierIsSheriffable,
	}
	artifact := ingestion.Artifact{PerformanceData: req.PerformanceData}

	result, err := s.service.Ingest(r.Context(), job, artifact, body)
	if err != nil {
		if _, ok := err.(*ingestion.ValidationError); ok {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]interface{}{
		"ingestionId": result.IngestionID,
		"signatures":  result.Signatures,
	})
}

func (s *Server) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	repository := r.URL.Query().Get("repository")
	framework := r.URL.Query().Get("framework")
	application := r.URL.Query().Get("application")

	sig, err := s.store.GetSignature(r.Context(), repository, framework, application, hash)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "signature not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sig)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
