// Package vector projects document chunks into a Qdrant collection and
// serves top-k cosine searches over them. All failures surface as
// *StoreError so the update path can decide retriability by kind.
package vector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/qdrant/go-client/qdrant"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"

	"github.com/ragline/ragline/chunker"
)

// callTimeout bounds every individual store RPC.
const callTimeout = 30 * time.Second

// StoreError marks a vector-store failure. The update path retries an
// upsert only when the error chain carries this kind.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("vector store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err's chain carries a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// Match is one scored chunk returned by Search.
type Match struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Version    int     `json:"version"`
}

// Store is a client over one Qdrant collection. Concurrent RPCs are
// bounded by a weighted semaphore sized from configuration; the gRPC
// channel itself multiplexes.
type Store struct {
	client     *qdrant.Client
	collection string
	dimensions uint64
	sem        *semaphore.Weighted
}

// New parses a Qdrant endpoint URL and builds a Store over |collection|
// with vectors of size |dimensions|. The gRPC channel dials lazily;
// Connect verifies it and bootstraps the collection.
func New(rawURL, collection string, dimensions, poolSize int) (*Store, error) {
	var host, port, useTLS, err = parseEndpoint(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant url: %w", err)
	}

	var client *qdrant.Client
	client, err = qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building qdrant client: %w", err)
	}

	var sem *semaphore.Weighted
	if poolSize > 0 {
		sem = semaphore.NewWeighted(int64(poolSize))
	}
	return &Store{
		client:     client,
		collection: collection,
		dimensions: uint64(dimensions),
		sem:        sem,
	}, nil
}

// parseEndpoint splits a http(s)://host:port URL into gRPC dial parts.
// A missing port falls back to Qdrant's gRPC default.
func parseEndpoint(rawURL string) (host string, port int, useTLS bool, err error) {
	var u *url.URL
	if u, err = url.Parse(rawURL); err != nil {
		return "", 0, false, err
	}
	if u.Host == "" {
		return "", 0, false, fmt.Errorf("no host in %q", rawURL)
	}
	host = u.Hostname()
	port = 6334
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, false, fmt.Errorf("invalid port in %q: %w", rawURL, err)
		}
	}
	return host, port, u.Scheme == "https", nil
}

// begin bounds concurrency and attaches the per-call timeout. The returned
// func releases both and must be called exactly once.
func (s *Store) begin(ctx context.Context) (context.Context, func(), error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, &StoreError{Op: "acquire", Err: err}
		}
	}
	var tctx, cancel = context.WithTimeout(ctx, callTimeout)
	return tctx, func() {
		cancel()
		if s.sem != nil {
			s.sem.Release(1)
		}
	}, nil
}

// Connect verifies the endpoint is reachable and bootstraps the collection.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"collection": s.collection,
		"dimensions": s.dimensions,
	}).Info("connected to qdrant")
	return nil
}

// Close tears down the gRPC channel. Safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	var err = s.client.Close()
	s.client = nil
	return err
}

// EnsureCollection creates the configured collection with cosine distance
// if it does not already exist. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	var tctx, done, err = s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	exists, err := s.client.CollectionExists(tctx, s.collection)
	if err != nil {
		return &StoreError{Op: "collection check", Err: err}
	}
	if exists {
		return nil
	}
	if err = s.client.CreateCollection(tctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return &StoreError{Op: "collection create", Err: err}
	}
	log.WithField("collection", s.collection).Info("created collection")
	return nil
}

// CreateCollection creates a named collection with the store's
// dimensionality, failing if it already exists.
func (s *Store) CreateCollection(ctx context.Context, name string) error {
	var tctx, done, err = s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	exists, err := s.client.CollectionExists(tctx, name)
	if err != nil {
		return &StoreError{Op: "collection check", Err: err}
	}
	if exists {
		return &StoreError{Op: "collection create", Err: fmt.Errorf("collection %s already exists", name)}
	}
	if err = s.client.CreateCollection(tctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return &StoreError{Op: "collection create", Err: err}
	}
	return nil
}

// Collections lists collection names.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	var tctx, done, err = s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	names, err := s.client.ListCollections(tctx)
	if err != nil {
		return nil, &StoreError{Op: "collection list", Err: err}
	}
	return names, nil
}

// UpsertChunks writes one point per chunk, keyed by the chunk's
// deterministic ID, waiting for the write to apply. Re-processing the same
// document version overwrites the same points.
func (s *Store) UpsertChunks(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32, documentID string, version int) error {
	var points, err = buildPoints(chunks, embeddings, documentID, version)
	if err != nil {
		return err
	}

	tctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err = s.client.Upsert(tctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func buildPoints(chunks []chunker.Chunk, embeddings [][]float32, documentID string, version int) ([]*qdrant.PointStruct, error) {
	if len(chunks) != len(embeddings) {
		return nil, &StoreError{Op: "upsert", Err: fmt.Errorf(
			"chunks and embeddings must have the same length (%d != %d)", len(chunks), len(embeddings))}
	}
	var points = make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID.String()),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": documentID,
				"content":     chunk.Content,
				"chunk_index": chunk.Index,
				"version":     version,
			}),
		})
	}
	return points, nil
}

// DeleteDocumentChunks filter-deletes every point carrying |documentID|,
// waiting for the delete to apply.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	var tctx, done, err = s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err = s.client.Delete(tctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	}); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Search returns the top |topK| cosine matches for |queryVec|, optionally
// restricted to points with version >= |minVersion|. The backend's order
// is passed through; callers re-sort.
func (s *Store) Search(ctx context.Context, queryVec []float32, topK int, minVersion *int) ([]Match, error) {
	var tctx, done, err = s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	points, err := s.client.Query(tctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         minVersionFilter(minVersion),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	var matches = make([]Match, 0, len(points))
	for _, point := range points {
		matches = append(matches, matchFromPoint(point))
	}
	return matches, nil
}

func minVersionFilter(minVersion *int) *qdrant.Filter {
	if minVersion == nil {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewRange("version", &qdrant.Range{Gte: qdrant.PtrOf(float64(*minVersion))}),
		},
	}
}

func matchFromPoint(point *qdrant.ScoredPoint) Match {
	var m = Match{
		ID:      point.GetId().GetUuid(),
		Score:   float64(point.GetScore()),
		Version: 1,
	}
	if m.ID == "" {
		m.ID = strconv.FormatUint(point.GetId().GetNum(), 10)
	}
	var payload = point.GetPayload()
	if v, ok := payload["content"]; ok {
		m.Content = v.GetStringValue()
	}
	if v, ok := payload["document_id"]; ok {
		m.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["version"]; ok {
		m.Version = int(v.GetIntegerValue())
	}
	return m
}
