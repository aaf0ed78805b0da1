// Package runtime assembles the pipeline's clients into the two
// services. A Container owns client lifecycles; New* builds a service
// from its configuration groups without touching the network, and
// QueueTasks attaches the long-running pieces to a task.Group.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/ragline/ragline/api"
	"github.com/ragline/ragline/cache"
	"github.com/ragline/ragline/chunker"
	"github.com/ragline/ragline/config"
	"github.com/ragline/ragline/dlq"
	"github.com/ragline/ragline/embed"
	"github.com/ragline/ragline/health"
	"github.com/ragline/ragline/llm"
	"github.com/ragline/ragline/query"
	"github.com/ragline/ragline/store"
	"github.com/ragline/ragline/update"
	"github.com/ragline/ragline/vector"
)

// shutdownTimeout bounds how long a draining HTTP listener may linger.
const shutdownTimeout = 5 * time.Second

// Container holds a service's stateful clients. Nil members are simply
// skipped, so each service carries only what it uses.
type Container struct {
	Vector *vector.Store
	Cache  *cache.Cache
	Store  *store.Store
	DLQ    *dlq.Producer

	mu     sync.Mutex
	opened bool
	closed bool
}

// Connect brings clients up in dependency order: the vector store
// (bootstrapping its collection), then the cache, then the relational
// store. The DLQ producer is connectionless and needs no bring-up.
// Connect is a no-op once it has succeeded.
func (c *Container) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	if c.Vector != nil {
		if err := c.Vector.Connect(ctx); err != nil {
			return fmt.Errorf("connecting vector store: %w", err)
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Connect(ctx); err != nil {
			return fmt.Errorf("connecting cache: %w", err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Connect(ctx); err != nil {
			return fmt.Errorf("connecting postgres: %w", err)
		}
	}
	c.opened = true
	return nil
}

// Close releases clients in shutdown order: DLQ producer, relational
// store, vector store, cache. Safe to call repeatedly.
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	if c.DLQ != nil {
		if err := c.DLQ.Close(); err != nil {
			log.WithField("err", err).Warn("closing dlq producer")
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Vector != nil {
		if err := c.Vector.Close(); err != nil {
			log.WithField("err", err).Warn("closing vector store")
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			log.WithField("err", err).Warn("closing cache")
		}
	}
}

// queueServer serves |srv| under the group and drains it on cancellation.
func queueServer(tasks *task.Group, srv *http.Server) {
	tasks.Queue("http.Serve", func() error {
		log.WithField("addr", srv.Addr).Info("serving http")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("http.Shutdown", func() error {
		<-tasks.Context().Done()
		var ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// QueryConfig collects the groups the query service parses.
type QueryConfig struct {
	OpenAI   config.OpenAI
	Qdrant   config.Qdrant
	Redis    config.Redis
	Service  config.Service
	Pipeline config.Pipeline
}

// Query is an assembled query service.
type Query struct {
	Container *Container
	API       *api.QueryService
	Server    *http.Server
}

// NewQuery wires the query service's clients, processor, and HTTP
// surface. Nothing is dialed until Container.Connect.
func NewQuery(cfg QueryConfig) (*Query, error) {
	var vec, err = vector.New(cfg.Qdrant.URL, cfg.Qdrant.Collection,
		cfg.OpenAI.EmbeddingDimensions, cfg.Qdrant.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}
	var responses *cache.Cache
	if responses, err = cache.New(cfg.Redis.URL, cfg.Redis.PoolSize, cfg.Pipeline.TTL()); err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	var embedder = embed.New(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions)
	var answerer = llm.New(cfg.OpenAI.APIKey, cfg.OpenAI.LLMModel)
	var processor = query.NewProcessor(vec, embedder, answerer, responses,
		cfg.Pipeline.TTL(), cfg.Pipeline.EmbedCacheSize)

	var svc = &api.QueryService{
		Processor: processor,
		Checker:   &health.Checker{Vector: vec, Cache: responses, OpenAI: embedder},
		Vector:    vec,
		TopK:      cfg.Pipeline.TopK,
	}
	return &Query{
		Container: &Container{Vector: vec, Cache: responses},
		API:       svc,
		Server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
			Handler: svc.Routes(),
		},
	}, nil
}

// QueueTasks attaches the HTTP listener to the group.
func (q *Query) QueueTasks(tasks *task.Group) {
	queueServer(tasks, q.Server)
}

// UpdateConfig collects the groups the update service parses.
type UpdateConfig struct {
	OpenAI   config.OpenAI
	Postgres config.Postgres
	Kafka    config.Kafka
	Qdrant   config.Qdrant
	Redis    config.Redis
	Service  config.Service
	Pipeline config.Pipeline
	Retry    config.Retry
	DLQ      config.DLQ
}

// Update is an assembled update service.
type Update struct {
	Container *Container
	API       *api.UpdateService
	Consumer  *update.Consumer
	Server    *http.Server
}

// NewUpdate wires the update service: the event processor and its
// clients, the consumer, and the HTTP surface. Nothing is dialed until
// Container.Connect.
func NewUpdate(cfg UpdateConfig) (*Update, error) {
	var vec, err = vector.New(cfg.Qdrant.URL, cfg.Qdrant.Collection,
		cfg.OpenAI.EmbeddingDimensions, cfg.Qdrant.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}
	var responses *cache.Cache
	if responses, err = cache.New(cfg.Redis.URL, cfg.Redis.PoolSize, cfg.Pipeline.TTL()); err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}
	var documents *store.Store
	if documents, err = store.New(cfg.Postgres.URL, cfg.Postgres.PoolMin, cfg.Postgres.PoolMax); err != nil {
		return nil, fmt.Errorf("building postgres store: %w", err)
	}

	var embedder = embed.New(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions)
	var deadLetters = dlq.New(cfg.Kafka.Brokers(), cfg.DLQ.Topic, cfg.DLQ.Enabled)
	var tracker = update.NewTracker()

	var processor = &update.Processor{
		Vector:  vec,
		Embed:   embedder,
		Cache:   responses,
		Chunker: chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap),
		Retry:   cfg.Retry.Policy(),
		Tracker: tracker,
	}
	var consumer = update.NewConsumer(cfg.Kafka.Brokers(), cfg.Kafka.TopicDocuments,
		cfg.Kafka.GroupID, processor, deadLetters, cfg.Kafka.Workers)

	var svc = &api.UpdateService{
		Processor: processor,
		Tracker:   tracker,
		Checker: &health.Checker{
			Vector:   vec,
			Cache:    responses,
			OpenAI:   embedder,
			Kafka:    health.KafkaProbe(cfg.Kafka.Brokers()),
			Postgres: documents,
		},
		Documents: documents,
	}
	return &Update{
		Container: &Container{Vector: vec, Cache: responses, Store: documents, DLQ: deadLetters},
		API:       svc,
		Consumer:  consumer,
		Server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
			Handler: svc.Routes(),
		},
	}, nil
}

// QueueTasks attaches the HTTP listener and the consumer to the group.
// The consumer exits cleanly on group cancellation; its reader is closed
// when it returns.
func (u *Update) QueueTasks(tasks *task.Group) {
	queueServer(tasks, u.Server)
	tasks.Queue("consumer.Run", func() error {
		defer u.Consumer.Close()
		return u.Consumer.Run(tasks.Context())
	})
}
