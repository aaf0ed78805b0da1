package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ragline/ragline/health"
	"github.com/ragline/ragline/metrics"
	"github.com/ragline/ragline/query"
)

// QueryProcessor answers queries; *query.Processor in production.
type QueryProcessor interface {
	Process(ctx context.Context, query string, topK, page, pageSize int) (query.Response, error)
}

// QueryService is the query-side HTTP surface.
type QueryService struct {
	Processor QueryProcessor
	Checker   *health.Checker
	Vector    health.CollectionLister
	TopK      int
}

// Routes builds the query-service router.
func (s *QueryService) Routes() *chi.Mux {
	var r = newRouter()
	r.Post("/query", s.handleQuery)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/collections", s.handleCollections)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/metrics", s.handleMetricsJSON)
	return r
}

type queryRequest struct {
	Query    string `json:"query"`
	TopK     *int   `json:"top_k"`
	Page     *int   `json:"page"`
	PageSize *int   `json:"page_size"`
}

func (s *QueryService) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var topK, page, pageSize = s.TopK, 1, 10
	if req.TopK != nil {
		topK = *req.TopK
	}
	if req.Page != nil {
		page = *req.Page
	}
	if req.PageSize != nil {
		pageSize = *req.PageSize
	}

	switch {
	case req.Query == "":
		writeDetail(w, http.StatusUnprocessableEntity, "query must not be empty")
		return
	case topK < 1:
		writeDetail(w, http.StatusUnprocessableEntity, "top_k must be at least 1")
		return
	case page < 1:
		writeDetail(w, http.StatusUnprocessableEntity, "page must be at least 1")
		return
	case pageSize < 1:
		writeDetail(w, http.StatusUnprocessableEntity, "page_size must be at least 1")
		return
	}

	var start = time.Now()
	metrics.QueriesTotal.Inc()

	var resp, err = s.Processor.Process(r.Context(), req.Query, topK, page, pageSize)
	if err != nil {
		log.WithField("err", err).Error("query failed")
		metrics.QueryErrorsTotal.Inc()
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	var elapsed = time.Since(start).Seconds()
	metrics.QueryLatencySeconds.Observe(elapsed)
	metrics.QueryDurationSeconds.Observe(elapsed)
	metrics.AddQueryLatencySample(elapsed)

	resp.LatencyMS = elapsed * 1000
	log.WithField("latencyMs", resp.LatencyMS).Info("query processed")
	writeJSON(w, http.StatusOK, resp)
}

func (s *QueryService) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody("query-service", s.Checker.Check(r.Context())))
}

func (s *QueryService) handleReady(w http.ResponseWriter, r *http.Request) {
	var ready, deps = s.Checker.Ready(r.Context())
	writeJSON(w, http.StatusOK, readyBody("query-service", ready, deps))
}

func (s *QueryService) handleCollections(w http.ResponseWriter, r *http.Request) {
	var collections, err = s.Vector.Collections(r.Context())
	if err != nil {
		log.WithField("err", err).Error("failed to list collections")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": collections})
}

func (s *QueryService) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metrics.QuerySummary(prometheus.DefaultGatherer))
}
