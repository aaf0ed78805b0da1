// Package health probes the pipeline's dependencies, measuring per-probe
// latency. Statuses mirror what the dashboard expects: healthy probes
// carry a rounded latency, failed ones carry the error and a zero
// latency, and an unconfigured LLM provider is reported without failing
// the service.
package health

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not_configured"
)

// Status is one dependency's probe result.
type Status struct {
	Status      string   `json:"status"`
	LatencyMS   *float64 `json:"latency_ms,omitempty"`
	Error       string   `json:"error,omitempty"`
	Collections *int     `json:"collections,omitempty"`
}

// Report aggregates per-dependency statuses under an overall status.
type Report struct {
	Status   string            `json:"status"`
	Services map[string]Status `json:"services"`
}

// CollectionLister is the slice of the vector store the qdrant probe
// uses.
type CollectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

// Pinger is a connectivity probe.
type Pinger interface {
	Healthy(ctx context.Context) error
}

// Checker probes the dependencies it holds. Kafka and Postgres are
// optional; leaving them nil excludes them from reports and readiness.
// A nil OpenAI reports not_configured.
type Checker struct {
	Vector   CollectionLister
	Cache    Pinger
	OpenAI   Pinger
	Kafka    func(ctx context.Context) error
	Postgres Pinger
}

// KafkaProbe dials the first broker and lists partitions, mirroring what
// a consumer does on startup.
func KafkaProbe(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var dialer = &kafka.Dialer{Timeout: 5 * time.Second}
		var conn, err = dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = conn.ReadPartitions()
		return err
	}
}

// Check probes every configured dependency in parallel. Any unhealthy
// dependency makes the report unhealthy; an unconfigured LLM provider
// does not.
func (c *Checker) Check(ctx context.Context) Report {
	var g errgroup.Group
	var vector, cache, llm, kafkaStatus, postgres Status

	g.Go(func() error { vector = c.checkVector(ctx); return nil })
	g.Go(func() error { cache = c.checkCache(ctx); return nil })
	g.Go(func() error { llm = c.checkOpenAI(ctx); return nil })
	if c.Kafka != nil {
		g.Go(func() error { kafkaStatus = probe(ctx, c.Kafka); return nil })
	}
	if c.Postgres != nil {
		g.Go(func() error { postgres = probe(ctx, c.Postgres.Healthy); return nil })
	}
	_ = g.Wait()

	var services = map[string]Status{
		"qdrant": vector,
		"redis":  cache,
		"openai": llm,
	}
	var overall = StatusHealthy
	if vector.Status != StatusHealthy || cache.Status != StatusHealthy {
		overall = StatusUnhealthy
	}
	if llm.Status == StatusUnhealthy {
		overall = StatusUnhealthy
	}
	if c.Kafka != nil {
		services["kafka"] = kafkaStatus
		if kafkaStatus.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}
	if c.Postgres != nil {
		services["postgres"] = postgres
		if postgres.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}
	return Report{Status: overall, Services: services}
}

// Ready probes the dependencies serving requires: the vector store and
// cache, plus Kafka and Postgres when configured. The LLM provider is not
// part of readiness.
func (c *Checker) Ready(ctx context.Context) (bool, map[string]bool) {
	var g errgroup.Group
	var vectorOK, cacheOK, kafkaOK, postgresOK bool

	g.Go(func() error { vectorOK = c.checkVector(ctx).Status == StatusHealthy; return nil })
	g.Go(func() error { cacheOK = c.checkCache(ctx).Status == StatusHealthy; return nil })
	if c.Kafka != nil {
		g.Go(func() error { kafkaOK = probe(ctx, c.Kafka).Status == StatusHealthy; return nil })
	}
	if c.Postgres != nil {
		g.Go(func() error { postgresOK = probe(ctx, c.Postgres.Healthy).Status == StatusHealthy; return nil })
	}
	_ = g.Wait()

	var deps = map[string]bool{"qdrant": vectorOK, "redis": cacheOK}
	var ready = vectorOK && cacheOK
	if c.Kafka != nil {
		deps["kafka"] = kafkaOK
		ready = ready && kafkaOK
	}
	if c.Postgres != nil {
		deps["postgres"] = postgresOK
		ready = ready && postgresOK
	}
	return ready, deps
}

func (c *Checker) checkVector(ctx context.Context) Status {
	if c.Vector == nil {
		return notConnected()
	}
	var start = time.Now()
	var names, err = c.Vector.Collections(ctx)
	if err != nil {
		return unhealthy(err.Error())
	}
	var s = healthy(time.Since(start))
	var n = len(names)
	s.Collections = &n
	return s
}

func (c *Checker) checkCache(ctx context.Context) Status {
	if c.Cache == nil {
		return notConnected()
	}
	return probe(ctx, c.Cache.Healthy)
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.OpenAI == nil {
		return Status{Status: StatusNotConfigured, Error: "API key not set"}
	}
	var start = time.Now()
	if err := c.OpenAI.Healthy(ctx); err != nil {
		var msg = strings.ToLower(err.Error())
		if strings.Contains(msg, "api key") || strings.Contains(msg, "authentication") {
			return Status{Status: StatusUnhealthy, Error: "Invalid API key"}
		}
		return unhealthy(err.Error())
	}
	return healthy(time.Since(start))
}

func probe(ctx context.Context, fn func(context.Context) error) Status {
	var start = time.Now()
	if err := fn(ctx); err != nil {
		return unhealthy(err.Error())
	}
	return healthy(time.Since(start))
}

func healthy(elapsed time.Duration) Status {
	var ms = math.Round(elapsed.Seconds()*1000*100) / 100
	return Status{Status: StatusHealthy, LatencyMS: &ms}
}

func unhealthy(msg string) Status {
	var zero float64
	return Status{Status: StatusUnhealthy, Error: msg, LatencyMS: &zero}
}

func notConnected() Status { return unhealthy("Not connected") }
