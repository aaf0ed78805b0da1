package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeShape(t *testing.T) {
	var event = map[string]interface{}{"id": "doc-1", "content": "body"}
	var now = time.Date(2025, 6, 1, 12, 0, 0, 250_000_000, time.UTC)

	var env = newEnvelope(event, errors.New("boom"), "documents.public.documents", 2, 41, now)

	var raw, err = json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, map[string]interface{}{"id": "doc-1", "content": "body"},
		decoded["original_event"])
	require.Equal(t, "boom", decoded["error"])
	require.Equal(t, "documents.public.documents", decoded["original_topic"])
	require.Equal(t, float64(41), decoded["offset"])
	require.Equal(t, float64(2), decoded["partition"])
	require.Equal(t, float64(now.UnixMicro())/1e6, decoded["timestamp"])
}

func TestDisabledProducerDropsAndSucceeds(t *testing.T) {
	var p = New([]string{"broker:9092"}, "documents.dlq", false)

	var err = p.Send(context.Background(),
		map[string]interface{}{"id": "doc-1"}, errors.New("boom"), "documents.public.documents", 0, 7)
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestEnabledProducerTargetsTopic(t *testing.T) {
	var p = New([]string{"broker:9092"}, "documents.dlq", true)
	defer p.Close()

	require.NotNil(t, p.writer)
	require.Equal(t, "documents.dlq", p.writer.Topic)
	require.Equal(t, "broker:9092", p.writer.Addr.String())
}

func TestCloseIsIdempotent(t *testing.T) {
	var p = New([]string{"broker:9092"}, "documents.dlq", true)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
