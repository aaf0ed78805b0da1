// Package update consumes document change events and projects them into
// the vector store: document content is chunked, embedded, and upserted,
// deletes drop a document's chunks, and cached query responses touching
// the document are invalidated.
package update

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ragline/ragline/cache"
	"github.com/ragline/ragline/cdc"
	"github.com/ragline/ragline/chunker"
	"github.com/ragline/ragline/metrics"
	"github.com/ragline/ragline/retry"
	"github.com/ragline/ragline/vector"
)

// VectorStore is the slice of the vector store the processor drives.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32, documentID string, version int) error
	DeleteDocumentChunks(ctx context.Context, documentID string) error
}

// Embedder produces one embedding per input text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Invalidator drops cached responses touched by a document change.
type Invalidator interface {
	Delete(ctx context.Context, key string)
}

// Processor applies document change events to the vector store.
type Processor struct {
	Vector  VectorStore
	Embed   Embedder
	Cache   Invalidator
	Chunker chunker.Chunker
	Retry   retry.Policy
	Tracker *Tracker
}

// ProcessEvent normalizes and applies one decoded change event. A nil
// return means the event was applied or deliberately dropped; an error
// means processing failed after exhausting retries, and the event is a
// candidate for the dead-letter queue.
func (p *Processor) ProcessEvent(ctx context.Context, raw map[string]interface{}) error {
	var event = cdc.Normalize(raw)
	if event == nil {
		log.Warn("event is empty after filtering, skipping")
		return nil
	}
	metrics.UpdatesTotal.Inc()

	var err error
	switch event.Op {
	case cdc.OpDelete:
		err = p.applyDelete(ctx, event)
	case cdc.OpCreate, cdc.OpUpdate:
		err = p.applyUpsert(ctx, event)
	default:
		log.WithField("op", event.Op).Warn("unknown operation, skipping")
		return nil
	}

	if err != nil {
		metrics.UpdateErrorsTotal.Inc()
		log.WithFields(log.Fields{
			"op":       event.Op,
			"document": event.DocumentID(),
			"err":      err,
		}).Error("failed to process event")
		return err
	}
	return nil
}

// Deletes bypass the retry policy: DeleteDocumentChunks is idempotent,
// and a failed event is re-delivered or dead-lettered by the consumer.
func (p *Processor) applyDelete(ctx context.Context, event *cdc.Event) error {
	var documentID = event.DocumentID()
	if documentID == "" {
		log.Warn("delete event missing document ID, skipping")
		return nil
	}

	if err := p.Vector.DeleteDocumentChunks(ctx, documentID); err != nil {
		return fmt.Errorf("deleting chunks of document %s: %w", documentID, err)
	}
	log.WithField("document", documentID).Info("deleted document chunks")
	return nil
}

func (p *Processor) applyUpsert(ctx context.Context, event *cdc.Event) error {
	if event.After == nil {
		log.Warn("create/update event missing document image, skipping")
		return nil
	}
	var documentID = event.After.ID
	var content = event.After.Content

	var version = int(event.After.Version)
	if version == 0 {
		version = 1
	}

	if documentID == "" || content == "" {
		log.WithFields(log.Fields{
			"document":   documentID,
			"hasContent": content != "",
		}).Warn("event missing required fields, skipping")
		return nil
	}

	var start = time.Now()

	var chunks = p.Chunker.Chunk(documentID, content)
	if len(chunks) == 0 {
		log.WithField("document", documentID).Warn("no chunks generated for document")
		return nil
	}
	var texts = make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	var embeddings [][]float32
	var err = p.Retry.Do(ctx, "generate embeddings", func() error {
		var embedErr error
		embeddings, embedErr = p.Embed.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", documentID, err)
	}

	if err = p.Retry.DoIf(ctx, "upsert chunks", func() error {
		return p.Vector.UpsertChunks(ctx, chunks, embeddings, documentID, version)
	}, vector.IsStoreError); err != nil {
		return fmt.Errorf("upserting chunks of document %s: %w", documentID, err)
	}

	var duration = time.Since(start).Seconds()
	metrics.UpdateProcessingDuration.Observe(duration)

	var lag = time.Since(event.Timestamp()).Seconds()
	metrics.UpdateLagSeconds.Observe(lag)
	metrics.AddUpdateLagSample(lag)

	if p.Tracker != nil {
		p.Tracker.Record(stageEstimates(duration), documentID)
	}
	p.Cache.Delete(ctx, cache.InvalidationKey(documentID))

	log.WithFields(log.Fields{
		"document": documentID,
		"version":  version,
		"chunks":   len(chunks),
		"took":     duration,
		"lag":      lag,
	}).Info("updated document")
	return nil
}

// stageEstimates apportions one update's processing time across the
// pipeline stages for status reporting. Upstream stages are fixed
// estimates; only this service's own share is measured.
func stageEstimates(duration float64) map[string]float64 {
	return map[string]float64{
		"postgresql":     0.05,
		"debezium":       0.10,
		"kafka":          0.05,
		"update_service": duration * 0.3,
		"embedding":      duration * 0.5,
		"qdrant":         duration * 0.2,
	}
}
