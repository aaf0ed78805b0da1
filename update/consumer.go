package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// EventHandler processes one decoded change event.
type EventHandler interface {
	ProcessEvent(ctx context.Context, raw map[string]interface{}) error
}

// DeadLetters receives events that could not be processed.
type DeadLetters interface {
	Send(ctx context.Context, event map[string]interface{}, cause error, originalTopic string, partition int, offset int64) error
}

// Consumer drives an EventHandler from the documents topic. Events that
// fail processing route to the dead-letter queue, and an offset commits
// only once its event and every earlier event of the partition either
// processed or were accepted by the DLQ.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	handler EventHandler
	dlq     DeadLetters
	workers int
}

// NewConsumer subscribes to topic under the given consumer group,
// starting from the earliest offset where the group has none committed.
func NewConsumer(brokers []string, topic, groupID string, handler EventHandler, dlq DeadLetters, workers int) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			StartOffset: kafka.FirstOffset,
		}),
		topic:   topic,
		handler: handler,
		dlq:     dlq,
		workers: workers,
	}
}

// Run fetches messages until ctx is canceled or the reader is closed,
// dispatching each to the worker pool. It drains in-flight work and
// flushes pending commits before returning.
func (c *Consumer) Run(ctx context.Context) error {
	var pool = newPool(c.workers, c.handle, func(msg kafka.Message) error {
		// Completed work commits even when ctx is already canceled.
		return c.reader.CommitMessages(context.Background(), msg)
	})
	pool.start(ctx)
	defer pool.stop()

	log.WithFields(log.Fields{
		"topic":   c.topic,
		"workers": c.workers,
	}).Info("started consuming")

	for {
		var msg, err = c.reader.FetchMessage(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		} else if err != nil {
			return fmt.Errorf("fetching message: %w", err)
		}
		pool.dispatch(decode(msg))
	}
}

// Close tears down the group subscription, unblocking Run.
func (c *Consumer) Close() error { return c.reader.Close() }

// decode unwraps one message into its event object. The CDC connector
// may wrap events in a {"schema", "payload"} envelope; the payload is
// the event. Tombstones and non-object payloads carry no event and are
// logged here; an undecodable value keeps its error for dead-lettering.
func decode(msg kafka.Message) job {
	if len(msg.Value) == 0 {
		log.WithField("offset", msg.Offset).Warn("message has no value, skipping")
		return job{msg: msg}
	}

	var value interface{}
	if err := json.Unmarshal(msg.Value, &value); err != nil {
		return job{msg: msg, decodeErr: err}
	}
	if m, ok := value.(map[string]interface{}); ok {
		if payload, ok := m["payload"]; ok {
			value = payload
		}
	}

	var event, ok = value.(map[string]interface{})
	if !ok {
		log.WithFields(log.Fields{
			"offset": msg.Offset,
			"type":   fmt.Sprintf("%T", value),
		}).Warn("event is not an object, skipping")
		return job{msg: msg}
	}
	return job{msg: msg, raw: event}
}

// handle processes one message end to end and reports whether its
// offset may be committed.
func (c *Consumer) handle(ctx context.Context, j job) bool {
	if j.decodeErr != nil {
		log.WithFields(log.Fields{
			"offset": j.msg.Offset,
			"err":    j.decodeErr,
		}).Error("undecodable message")
		return c.deadLetter(ctx, j.msg, map[string]interface{}{"raw": string(j.msg.Value)}, j.decodeErr)
	} else if j.raw == nil {
		return true
	}

	if err := c.handler.ProcessEvent(ctx, j.raw); err != nil {
		log.WithFields(log.Fields{
			"offset": j.msg.Offset,
			"err":    err,
		}).Error("error processing message")
		return c.deadLetter(ctx, j.msg, j.raw, err)
	}
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, event map[string]interface{}, cause error) bool {
	if err := c.dlq.Send(ctx, event, cause, c.topic, msg.Partition, msg.Offset); err != nil {
		log.WithFields(log.Fields{
			"offset": msg.Offset,
			"err":    err,
		}).Error("failed to send event to DLQ")
		return false
	}
	return true
}
