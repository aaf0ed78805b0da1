package update

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	events []map[string]interface{}
	err    error
}

func (f *fakeHandler) ProcessEvent(_ context.Context, raw map[string]interface{}) error {
	f.events = append(f.events, raw)
	return f.err
}

type dlqCall struct {
	event     map[string]interface{}
	cause     string
	topic     string
	partition int
	offset    int64
}

type fakeDLQ struct {
	calls []dlqCall
	err   error
}

func (f *fakeDLQ) Send(_ context.Context, event map[string]interface{}, cause error, topic string, partition int, offset int64) error {
	f.calls = append(f.calls, dlqCall{event, cause.Error(), topic, partition, offset})
	return f.err
}

func newTestConsumer() (*Consumer, *fakeHandler, *fakeDLQ) {
	var handler = &fakeHandler{}
	var dlq = &fakeDLQ{}
	return &Consumer{topic: "documents.updates", handler: handler, dlq: dlq}, handler, dlq
}

func TestDecodeUnwrapsEnvelope(t *testing.T) {
	var j = decode(kafka.Message{
		Offset: 7,
		Value:  []byte(`{"schema": {"type": "struct"}, "payload": {"id": "doc-1", "content": "hi"}}`),
	})

	require.NoError(t, j.decodeErr)
	require.Equal(t, map[string]interface{}{"id": "doc-1", "content": "hi"}, j.raw)
}

func TestDecodePlainEvent(t *testing.T) {
	var j = decode(kafka.Message{Value: []byte(`{"id": "doc-1", "__op": "u"}`)})

	require.NoError(t, j.decodeErr)
	require.Equal(t, map[string]interface{}{"id": "doc-1", "__op": "u"}, j.raw)
}

func TestDecodeTombstone(t *testing.T) {
	var j = decode(kafka.Message{Offset: 3})

	require.NoError(t, j.decodeErr)
	require.Nil(t, j.raw)
}

func TestDecodeNonObjectIsSkipped(t *testing.T) {
	for _, value := range []string{`[1, 2, 3]`, `"text"`, `{"payload": 42}`, `{"payload": null}`} {
		var j = decode(kafka.Message{Value: []byte(value)})
		require.NoError(t, j.decodeErr, value)
		require.Nil(t, j.raw, value)
	}
}

func TestDecodeMalformedKeepsError(t *testing.T) {
	var j = decode(kafka.Message{Value: []byte(`{"id":`)})
	require.Error(t, j.decodeErr)
	require.Nil(t, j.raw)
}

func TestHandleProcessesEvent(t *testing.T) {
	var c, handler, dlq = newTestConsumer()

	var ok = c.handle(context.Background(), decode(kafka.Message{Value: []byte(`{"id": "doc-1"}`)}))
	require.True(t, ok)
	require.Equal(t, []map[string]interface{}{{"id": "doc-1"}}, handler.events)
	require.Empty(t, dlq.calls)
}

func TestHandleFailureDeadLetters(t *testing.T) {
	var c, handler, dlq = newTestConsumer()
	handler.err = errors.New("embedding down")

	var msg = kafka.Message{Partition: 2, Offset: 41, Value: []byte(`{"id": "doc-1"}`)}
	require.True(t, c.handle(context.Background(), decode(msg)))

	require.Equal(t, []dlqCall{{
		event:     map[string]interface{}{"id": "doc-1"},
		cause:     "embedding down",
		topic:     "documents.updates",
		partition: 2,
		offset:    41,
	}}, dlq.calls)
}

func TestHandleDLQFailureHoldsCommit(t *testing.T) {
	var c, handler, dlq = newTestConsumer()
	handler.err = errors.New("boom")
	dlq.err = errors.New("dlq down")

	require.False(t, c.handle(context.Background(), decode(kafka.Message{Value: []byte(`{"id": "doc-1"}`)})))
}

func TestHandleUndecodableDeadLettersRaw(t *testing.T) {
	var c, handler, dlq = newTestConsumer()

	require.True(t, c.handle(context.Background(), decode(kafka.Message{Value: []byte(`{"id":`)})))
	require.Empty(t, handler.events)
	require.Len(t, dlq.calls, 1)
	require.Equal(t, map[string]interface{}{"raw": `{"id":`}, dlq.calls[0].event)
}

func TestHandleSkipsTombstone(t *testing.T) {
	var c, handler, dlq = newTestConsumer()

	require.True(t, c.handle(context.Background(), decode(kafka.Message{})))
	require.Empty(t, handler.events)
	require.Empty(t, dlq.calls)
}

func msgAt(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "documents.updates", Partition: partition, Offset: offset}
}

func TestTrackerReleasesInFetchOrder(t *testing.T) {
	var tr = offsetTracker{partitions: map[int]*partitionQueue{}}
	tr.admit(msgAt(0, 0))
	tr.admit(msgAt(0, 1))
	tr.admit(msgAt(0, 2))

	var _, any = tr.complete(msgAt(0, 2), true)
	require.False(t, any)

	released, any := tr.complete(msgAt(0, 0), true)
	require.True(t, any)
	require.Equal(t, int64(0), released.Offset)

	// Completing 1 releases both 1 and the already-done 2; the newest
	// wins because commits are cumulative.
	released, any = tr.complete(msgAt(0, 1), true)
	require.True(t, any)
	require.Equal(t, int64(2), released.Offset)
}

func TestTrackerHoldsCommitsBehindFailure(t *testing.T) {
	var tr = offsetTracker{partitions: map[int]*partitionQueue{}}
	tr.admit(msgAt(0, 0))
	tr.admit(msgAt(0, 1))

	var _, any = tr.complete(msgAt(0, 0), false)
	require.False(t, any)
	_, any = tr.complete(msgAt(0, 1), true)
	require.False(t, any)
}

func TestTrackerFailureAfterReleasedPrefix(t *testing.T) {
	var tr = offsetTracker{partitions: map[int]*partitionQueue{}}
	tr.admit(msgAt(0, 0))
	tr.admit(msgAt(0, 1))

	var released, any = tr.complete(msgAt(0, 0), true)
	require.True(t, any)
	require.Equal(t, int64(0), released.Offset)

	_, any = tr.complete(msgAt(0, 1), false)
	require.False(t, any)
}

func TestTrackerPartitionsAreIndependent(t *testing.T) {
	var tr = offsetTracker{partitions: map[int]*partitionQueue{}}
	tr.admit(msgAt(0, 0))
	tr.admit(msgAt(1, 0))

	var released, any = tr.complete(msgAt(1, 0), true)
	require.True(t, any)
	require.Equal(t, 1, released.Partition)
	require.Equal(t, int64(0), released.Offset)
}

func TestRouteIsStableForDocument(t *testing.T) {
	var p = newPool(8, nil, nil)

	var byID = job{raw: map[string]interface{}{"id": "doc-1"}}
	require.Equal(t, p.route(byID), p.route(byID))

	// Without a decoded ID, routing falls back to the message key, and
	// both forms of the same identity land on the same worker.
	var byKey = job{msg: kafka.Message{Key: []byte("doc-1")}}
	require.Equal(t, p.route(byID), p.route(byKey))
}

func TestPoolKeepsDocumentAndCommitOrder(t *testing.T) {
	var mu sync.Mutex
	var perDoc = map[string][]int64{}

	var handle = func(_ context.Context, j job) bool {
		time.Sleep(time.Duration(j.msg.Offset%3) * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		var id = j.raw["id"].(string)
		perDoc[id] = append(perDoc[id], j.msg.Offset)
		return true
	}

	var commitMu sync.Mutex
	var commits []int64
	var commit = func(msg kafka.Message) error {
		commitMu.Lock()
		defer commitMu.Unlock()
		commits = append(commits, msg.Offset)
		return nil
	}

	var pool = newPool(4, handle, commit)
	pool.start(context.Background())

	var docs = []string{"doc-a", "doc-b", "doc-c"}
	for i := int64(0); i != 60; i++ {
		pool.dispatch(job{
			msg: msgAt(0, i),
			raw: map[string]interface{}{"id": docs[i%3]},
		})
	}
	pool.stop()

	for id, offsets := range perDoc {
		require.IsIncreasing(t, offsets, id)
	}
	require.NotEmpty(t, commits)
	require.IsIncreasing(t, commits)
	require.Equal(t, int64(59), commits[len(commits)-1])
}

func TestPoolFailureStallsCommits(t *testing.T) {
	var handle = func(_ context.Context, j job) bool {
		return j.msg.Offset != 2
	}

	var commitMu sync.Mutex
	var commits []int64
	var commit = func(msg kafka.Message) error {
		commitMu.Lock()
		defer commitMu.Unlock()
		commits = append(commits, msg.Offset)
		return nil
	}

	var pool = newPool(2, handle, commit)
	pool.start(context.Background())
	for i := int64(0); i != 6; i++ {
		pool.dispatch(job{msg: msgAt(0, i), raw: map[string]interface{}{"id": string(rune('a' + i))}})
	}
	pool.stop()

	require.NotEmpty(t, commits)
	for _, offset := range commits {
		require.Less(t, offset, int64(2))
	}
}
