// Package query implements the retrieval-augmented answer pipeline:
// response-cache lookup, query embedding, vector search, context
// assembly, LLM generation, citation-gated source filtering,
// pagination, and response caching.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/ragline/ragline/cache"
	"github.com/ragline/ragline/llm"
	"github.com/ragline/ragline/vector"
)

// MinSimilarityScore is the floor below which a match never surfaces as
// a source.
const MinSimilarityScore = 0.15

const maxContextTokens = 8000

// MaxContextChars bounds assembled context, at roughly four characters
// per token.
const MaxContextChars = maxContextTokens * 4

// NoAnswer is returned when the vector store has nothing relevant.
const NoAnswer = "I couldn't find relevant information to answer your question."

// Source is one scored provenance entry of a response.
type Source struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Version    int     `json:"version"`
	Cited      bool    `json:"cited"`
}

// Pagination describes the slice of sources a response carries.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Response is a fully-shaped query answer. LatencyMS is attached by the
// HTTP layer per request; a cached response's stored latency is
// overwritten on the way out.
type Response struct {
	Answer     string      `json:"answer"`
	Sources    []Source    `json:"sources"`
	LatencyMS  float64     `json:"latency_ms"`
	Confidence float64     `json:"confidence"`
	IsComplete bool        `json:"is_complete"`
	Pagination *Pagination `json:"pagination"`
}

// Searcher is the slice of the vector store the processor reads.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, topK int, minVersion *int) ([]vector.Match, error)
}

// Embedder embeds a single query string.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Answerer generates a structured answer over assembled context.
type Answerer interface {
	Answer(ctx context.Context, query, contextText string, documentIDs []string) (llm.Structured, error)
}

// ResponseCache stores shaped responses keyed by query.
type ResponseCache interface {
	GetJSON(ctx context.Context, key string, out interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// Processor answers queries against the vector store.
type Processor struct {
	Vector   Searcher
	Embed    Embedder
	LLM      Answerer
	Cache    ResponseCache
	CacheTTL time.Duration

	// MaxChars overrides MaxContextChars when positive.
	MaxChars int

	memo *lru.Cache[string, []float32]
}

// NewProcessor builds a Processor. memoSize bounds the query-embedding
// memo; zero or negative disables it.
func NewProcessor(vec Searcher, embed Embedder, answerer Answerer, responses ResponseCache, cacheTTL time.Duration, memoSize int) *Processor {
	var p = &Processor{
		Vector:   vec,
		Embed:    embed,
		LLM:      answerer,
		Cache:    responses,
		CacheTTL: cacheTTL,
	}
	if memoSize > 0 {
		var memo, err = lru.New[string, []float32](memoSize)
		if err != nil {
			panic(err)
		}
		p.memo = memo
	}
	return p
}

// Process answers one query. Errors from any stage, including the final
// cache write, fail the query.
func (p *Processor) Process(ctx context.Context, query string, topK, page, pageSize int) (Response, error) {
	var key = cache.QueryResponseKey(query)

	var cached Response
	if p.Cache.GetJSON(ctx, key, &cached) {
		log.WithField("query", clip(query, 50)).Info("cache hit for query")
		return cached, nil
	}

	queryVec, err := p.embedQuery(ctx, query)
	if err != nil {
		return Response{}, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := p.Vector.Search(ctx, queryVec, topK, nil)
	if err != nil {
		return Response{}, fmt.Errorf("searching matches: %w", err)
	}
	if len(matches) == 0 {
		// The no-answer response is never cached.
		return Response{
			Answer:     NoAnswer,
			Sources:    []Source{},
			Confidence: 0,
			IsComplete: false,
		}, nil
	}

	// The backend's ordering is a hint, not a contract.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	var contextText, used = assembleContext(matches, p.maxChars())

	var documentIDs []string
	for _, m := range used {
		if m.DocumentID != "" {
			documentIDs = append(documentIDs, m.DocumentID)
		}
	}

	structured, err := p.LLM.Answer(ctx, query, contextText, documentIDs)
	if err != nil {
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	var sources = annotate(used, structured.Citations)
	sources = filterSources(sources, structured.Confidence, structured.IsComplete)
	var pageSources, pagination = paginate(sources, page, pageSize)

	var response = Response{
		Answer:     structured.Answer,
		Sources:    pageSources,
		Confidence: structured.Confidence,
		IsComplete: structured.IsComplete,
		Pagination: pagination,
	}
	if err := p.Cache.SetJSON(ctx, key, response, p.CacheTTL); err != nil {
		return Response{}, fmt.Errorf("caching response: %w", err)
	}
	return response, nil
}

// embedQuery embeds the query, memoizing vectors so repeat queries skip
// the provider round-trip after their cached response expires.
func (p *Processor) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if p.memo != nil {
		if vec, ok := p.memo.Get(query); ok {
			return vec, nil
		}
	}
	var vec, err = p.Embed.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if p.memo != nil {
		p.memo.Add(query, vec)
	}
	return vec, nil
}

func (p *Processor) maxChars() int {
	if p.MaxChars > 0 {
		return p.MaxChars
	}
	return MaxContextChars
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
