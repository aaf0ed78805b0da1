// Package dlq appends poison events and their failure metadata to a
// dead-letter topic so the consumer can keep draining its partition.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Envelope is the message written to the dead-letter topic. Timestamp is
// epoch seconds with sub-second precision.
type Envelope struct {
	OriginalEvent map[string]interface{} `json:"original_event"`
	Error         string                 `json:"error"`
	OriginalTopic string                 `json:"original_topic"`
	Offset        int64                  `json:"offset"`
	Partition     int                    `json:"partition"`
	Timestamp     float64                `json:"timestamp"`
}

func newEnvelope(event map[string]interface{}, cause error, originalTopic string, partition int, offset int64, now time.Time) Envelope {
	return Envelope{
		OriginalEvent: event,
		Error:         cause.Error(),
		OriginalTopic: originalTopic,
		Offset:        offset,
		Partition:     partition,
		Timestamp:     float64(now.UnixMicro()) / 1e6,
	}
}

// Producer writes dead-letter envelopes. A disabled Producer drops events
// with a warning and reports success, so callers commit past them.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// New builds a Producer over |brokers|. When |enabled| is false the
// Producer is inert.
func New(brokers []string, topic string, enabled bool) *Producer {
	if !enabled {
		return &Producer{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}
}

// Send appends |event| with its failure metadata to the dead-letter topic
// and waits for the broker to ack it.
func (p *Producer) Send(ctx context.Context, event map[string]interface{}, cause error, originalTopic string, partition int, offset int64) error {
	if p == nil || p.writer == nil {
		log.WithFields(log.Fields{
			"topic":  originalTopic,
			"offset": offset,
		}).Warn("dlq disabled; dropping failed event")
		return nil
	}

	var value, err = json.Marshal(newEnvelope(event, cause, originalTopic, partition, offset, time.Now()))
	if err != nil {
		return fmt.Errorf("encoding dlq envelope: %w", err)
	}
	if err = p.writer.WriteMessages(ctx, kafka.Message{Value: value}); err != nil {
		return fmt.Errorf("writing to dlq: %w", err)
	}

	log.WithFields(log.Fields{
		"topic":     originalTopic,
		"partition": partition,
		"offset":    offset,
		"err":       truncate(cause.Error(), 100),
	}).Info("sent failed event to dlq")
	return nil
}

// Close flushes and tears down the writer. Safe to call more than once.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	var err = p.writer.Close()
	p.writer = nil
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
