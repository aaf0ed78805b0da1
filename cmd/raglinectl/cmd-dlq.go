package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ragline/ragline/dlq"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const dlqReadTimeout = time.Minute
const dlqReplayTimeout = 5 * time.Minute
const replayRequestTimeout = 30 * time.Second

// dlqSource locates the dead-letter topic. Defaults match the update
// service's own Kafka and DLQ configuration.
type dlqSource struct {
	Brokers string `long:"brokers" env:"KAFKA_BOOTSTRAP_SERVERS" default:"kafka:29092" description:"Kafka bootstrap servers, comma separated"`
	Topic   string `long:"topic" env:"DLQ_TOPIC" default:"documents.dlq" description:"Dead-letter topic to read"`
}

func (s dlqSource) brokerList() []string {
	var out []string
	for _, b := range strings.Split(s.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type serviceEndpoint struct {
	URL string `long:"url" env:"SERVICE_URL" default:"http://localhost:8000" description:"Update service base URL"`
}

type cmdDLQList struct {
	Source      dlqSource             `group:"Dead-letter topic" namespace:"dlq"`
	Limit       int                   `long:"limit" default:"0" description:"Maximum envelopes to read (0 reads everything)"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdDLQList) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("raglinectl configuration")

	var ctx, cancel = context.WithTimeout(context.Background(), dlqReadTimeout)
	defer cancel()

	envelopes, err := readEnvelopes(ctx, cmd.Source, cmd.Limit)
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		printEnvelope(env)
	}
	fmt.Printf("\n%d dead-lettered events\n", len(envelopes))
	return nil
}

type cmdDLQReplay struct {
	Source      dlqSource             `group:"Dead-letter topic" namespace:"dlq"`
	Service     serviceEndpoint       `group:"Update service" namespace:"service"`
	Limit       int                   `long:"limit" default:"0" description:"Maximum envelopes to replay (0 replays everything)"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdDLQReplay) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("raglinectl configuration")

	var ctx, cancel = context.WithTimeout(context.Background(), dlqReplayTimeout)
	defer cancel()

	envelopes, err := readEnvelopes(ctx, cmd.Source, cmd.Limit)
	if err != nil {
		return err
	}

	var endpoint = strings.TrimRight(cmd.Service.URL, "/") + "/process-event"
	var client = &http.Client{Timeout: replayRequestTimeout}

	var replayed, failed int
	for _, env := range envelopes {
		if err := postEvent(ctx, client, endpoint, env.OriginalEvent); err != nil {
			failed++
			fmt.Println(red("failed"), describeEnvelope(env), err)
			continue
		}
		replayed++
		fmt.Println(green("replayed"), describeEnvelope(env))
	}

	fmt.Printf("\nReplayed %d of %d dead-lettered events (%d failed)\n",
		replayed, len(envelopes), failed)
	if failed != 0 {
		return fmt.Errorf("%d events failed to replay", failed)
	}
	return nil
}

// readEnvelopes reads up to |limit| envelopes from the dead-letter topic,
// covering every partition from its first offset. It reads without a
// consumer group, so inspection doesn't disturb committed offsets.
func readEnvelopes(ctx context.Context, source dlqSource, limit int) ([]dlq.Envelope, error) {
	var brokers = source.brokerList()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", brokers[0], err)
	}
	partitions, err := conn.ReadPartitions(source.Topic)
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("reading partitions of %s: %w", source.Topic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].ID < partitions[j].ID })

	var out []dlq.Envelope
	for _, partition := range partitions {
		if limit > 0 && len(out) >= limit {
			break
		}
		var err = readPartition(ctx, brokers, source.Topic, partition.ID, limit, &out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readPartition(ctx context.Context, brokers []string, topic string, partition, limit int, out *[]dlq.Envelope) error {
	var r = kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()
	_ = r.SetOffset(kafka.FirstOffset)

	// The lag bounds how many messages exist to read, so an exhausted
	// partition never blocks waiting for more.
	lag, err := r.ReadLag(ctx)
	if err != nil {
		return fmt.Errorf("reading lag of %s/%d: %w", topic, partition, err)
	}

	for i := int64(0); i < lag && (limit <= 0 || len(*out) < limit); i++ {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("reading %s/%d: %w", topic, partition, err)
		}
		var env dlq.Envelope
		if err = json.Unmarshal(msg.Value, &env); err != nil {
			log.WithFields(log.Fields{
				"partition": partition,
				"offset":    msg.Offset,
				"err":       err,
			}).Warn("skipping message that is not a dead-letter envelope")
			continue
		}
		*out = append(*out, env)
	}
	return nil
}

func postEvent(ctx context.Context, client *http.Client, endpoint string, event map[string]interface{}) error {
	var body, err = json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail, _ = io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("update service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func describeEnvelope(env dlq.Envelope) string {
	return fmt.Sprintf("%s/%d@%d", env.OriginalTopic, env.Partition, env.Offset)
}

func printEnvelope(env dlq.Envelope) {
	var when = time.Unix(0, int64(env.Timestamp*float64(time.Second))).UTC().Format(time.RFC3339)
	fmt.Printf("%s %s op=%s %s\n",
		yellow(describeEnvelope(env)), when, cyan(eventOp(env.OriginalEvent)), red(env.Error))

	if eventJSON, err := json.Marshal(env.OriginalEvent); err == nil {
		fmt.Printf("  %s\n", eventJSON)
	}
}

// eventOp digs the Debezium operation out of a raw event, which may carry
// it at the top level or under an enclosing payload.
func eventOp(event map[string]interface{}) string {
	if op, ok := event["op"].(string); ok {
		return op
	}
	if payload, ok := event["payload"].(map[string]interface{}); ok {
		if op, ok := payload["op"].(string); ok {
			return op
		}
	}
	return "?"
}

var red = color.New(color.FgRed).SprintFunc()
var cyan = color.New(color.FgCyan).SprintFunc()
