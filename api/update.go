package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ragline/ragline/health"
	"github.com/ragline/ragline/metrics"
	"github.com/ragline/ragline/store"
	"github.com/ragline/ragline/update"
	log "github.com/sirupsen/logrus"
)

// EventProcessor applies one raw change event end to end.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, raw map[string]interface{}) error
}

// DocumentStore is the slice of the relational store the document
// endpoints use.
type DocumentStore interface {
	ListDocuments(ctx context.Context, limit, offset int) ([]store.Document, error)
	CountDocuments(ctx context.Context) (int, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	CreateDocument(ctx context.Context, title, content string) (store.Document, error)
	UpdateDocument(ctx context.Context, id, title, content string) (store.Document, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
}

// UpdateService serves the update-side HTTP API: pipeline introspection,
// manual event processing, and document CRUD against the source table.
type UpdateService struct {
	Processor EventProcessor
	Tracker   *update.Tracker
	Checker   *health.Checker
	Documents DocumentStore
}

// Routes builds the update service router.
func (s *UpdateService) Routes() *chi.Mux {
	var r = newRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/metrics", s.handleMetricsJSON)
	r.Get("/api/pipeline/status", s.handlePipelineStatus)
	r.Post("/process-event", s.handleProcessEvent)
	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleCreateDocument)
		r.Get("/{documentID}", s.handleGetDocument)
		r.Put("/{documentID}", s.handleUpdateDocument)
		r.Delete("/{documentID}", s.handleDeleteDocument)
	})
	return r
}

func (s *UpdateService) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody("update-service", s.Checker.Check(r.Context())))
}

func (s *UpdateService) handleReady(w http.ResponseWriter, r *http.Request) {
	var ready, deps = s.Checker.Ready(r.Context())
	writeJSON(w, http.StatusOK, readyBody("update-service", ready, deps))
}

func (s *UpdateService) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metrics.UpdateSummary(prometheus.DefaultGatherer, s.Tracker.LastUpdate()))
}

func (s *UpdateService) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Tracker.Status())
}

func (s *UpdateService) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	var event map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid event body: %v", err))
		return
	}
	if err := s.Processor.ProcessEvent(r.Context(), event); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (s *UpdateService) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var limit, err = queryInt(r, "limit", 100)
	if err != nil || limit < 1 || limit > 1000 {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 1000")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "offset must not be negative")
		return
	}

	documents, err := s.Documents.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		log.WithField("err", err).Error("failed to list documents")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.Documents.CountDocuments(r.Context())
	if err != nil {
		log.WithField("err", err).Error("failed to count documents")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *UpdateService) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	var doc, err = s.Documents.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err == store.ErrNotFound {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	} else if err != nil {
		log.WithField("err", err).Error("failed to get document")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type documentCreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type documentUpdateRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// titleError validates a document title, returning a message for the
// client or "" when the title is acceptable.
func titleError(title string) string {
	if title == "" {
		return "title must not be empty"
	} else if utf8.RuneCountInString(title) > 500 {
		return "title must be at most 500 characters"
	}
	return ""
}

func (s *UpdateService) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if msg := titleError(req.Title); msg != "" {
		writeDetail(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if req.Content == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "content must not be empty")
		return
	}

	var doc, err = s.Documents.CreateDocument(r.Context(), req.Title, req.Content)
	if err != nil {
		log.WithField("err", err).Error("failed to create document")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *UpdateService) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Title != nil {
		if msg := titleError(*req.Title); msg != "" {
			writeDetail(w, http.StatusUnprocessableEntity, msg)
			return
		}
	}
	if req.Content != nil && *req.Content == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "content must not be empty")
		return
	}

	var title, content string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Content != nil {
		content = *req.Content
	}

	var doc, err = s.Documents.UpdateDocument(r.Context(), chi.URLParam(r, "documentID"), title, content)
	switch {
	case err == store.ErrNotFound:
		writeDetail(w, http.StatusNotFound, "Document not found")
	case err != nil:
		log.WithField("err", err).Error("failed to update document")
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *UpdateService) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	var deleted, err = s.Documents.DeleteDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		log.WithField("err", err).Error("failed to delete document")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	} else if !deleted {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
