package update

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/chunker"
	"github.com/ragline/ragline/metrics"
	"github.com/ragline/ragline/retry"
	"github.com/ragline/ragline/vector"
)

type upsertCall struct {
	texts      []string
	documentID string
	version    int
}

type fakeVector struct {
	upserts    []upsertCall
	upsertErrs []error
	deletes    []string
	deleteErr  error
}

func (f *fakeVector) UpsertChunks(_ context.Context, chunks []chunker.Chunk, _ [][]float32, documentID string, version int) error {
	var texts = make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	f.upserts = append(f.upserts, upsertCall{texts, documentID, version})

	if len(f.upsertErrs) > 0 {
		var err = f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		return err
	}
	return nil
}

func (f *fakeVector) DeleteDocumentChunks(_ context.Context, documentID string) error {
	f.deletes = append(f.deletes, documentID)
	return f.deleteErr
}

type fakeEmbedder struct {
	calls [][]string
	errs  []error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)

	if len(f.errs) > 0 {
		var err = f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	var vecs = make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 2, 3}
	}
	return vecs, nil
}

type fakeInvalidator struct {
	deleted []string
}

func (f *fakeInvalidator) Delete(_ context.Context, key string) {
	f.deleted = append(f.deleted, key)
}

func newTestProcessor() (*Processor, *fakeVector, *fakeEmbedder, *fakeInvalidator) {
	var vec = &fakeVector{}
	var emb = &fakeEmbedder{}
	var inv = &fakeInvalidator{}

	return &Processor{
		Vector:  vec,
		Embed:   emb,
		Cache:   inv,
		Chunker: chunker.New(1000, 200),
		Retry:   retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1},
		Tracker: NewTracker(),
	}, vec, emb, inv
}

// docEvent builds a flattened connector event as it decodes from JSON.
func docEvent(op, id, content string, version int) map[string]interface{} {
	var raw = map[string]interface{}{
		"__op":           op,
		"__source_ts_ms": float64(time.Now().Add(-2 * time.Second).UnixMilli()),
		"title":          "Title",
	}
	if id != "" {
		raw["id"] = id
	}
	if content != "" {
		raw["content"] = content
	}
	if version != 0 {
		raw["version"] = float64(version)
	}
	return raw
}

func TestCreateEventUpsertsChunks(t *testing.T) {
	var p, vec, emb, inv = newTestProcessor()

	var err = p.ProcessEvent(context.Background(), docEvent("c", "doc-1", "hello world", 3))
	require.NoError(t, err)

	require.Equal(t, [][]string{{"hello world"}}, emb.calls)
	require.Equal(t, []upsertCall{{[]string{"hello world"}, "doc-1", 3}}, vec.upserts)
	require.Equal(t, []string{"query:doc-1"}, inv.deleted)
	require.Equal(t, 1, p.Tracker.Status()["recent_updates_count"])
}

func TestVersionDefaultsToOne(t *testing.T) {
	var p, vec, _, _ = newTestProcessor()

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("u", "doc-1", "text", 0)))
	require.Equal(t, 1, vec.upserts[0].version)
}

func TestDeleteEventDropsChunks(t *testing.T) {
	var p, vec, emb, inv = newTestProcessor()

	var raw = map[string]interface{}{"__deleted": "true", "id": "doc-9"}
	require.NoError(t, p.ProcessEvent(context.Background(), raw))

	require.Equal(t, []string{"doc-9"}, vec.deletes)
	require.Empty(t, emb.calls)
	require.Empty(t, inv.deleted)
}

func TestDeleteFailureIsNotRetried(t *testing.T) {
	var p, vec, _, _ = newTestProcessor()
	vec.deleteErr = errors.New("qdrant down")

	var err = p.ProcessEvent(context.Background(), map[string]interface{}{"__deleted": "true", "id": "doc-9"})
	require.Error(t, err)
	require.Len(t, vec.deletes, 1)
}

func TestEmbeddingRetriesAnyError(t *testing.T) {
	var p, vec, emb, _ = newTestProcessor()
	emb.errs = []error{errors.New("rate limited")}

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("c", "doc-1", "text", 1)))
	require.Len(t, emb.calls, 2)
	require.Len(t, vec.upserts, 1)
}

func TestUpsertRetriesStoreErrors(t *testing.T) {
	var p, vec, _, _ = newTestProcessor()
	var storeErr = &vector.StoreError{Op: "upsert", Err: errors.New("unavailable")}
	vec.upsertErrs = []error{storeErr, storeErr}

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("c", "doc-1", "text", 1)))
	require.Len(t, vec.upserts, 3)
}

func TestUpsertDoesNotRetryOtherErrors(t *testing.T) {
	var p, vec, _, inv = newTestProcessor()
	vec.upsertErrs = []error{errors.New("dimension mismatch")}

	var err = p.ProcessEvent(context.Background(), docEvent("c", "doc-1", "text", 1))
	require.Error(t, err)
	require.Len(t, vec.upserts, 1)
	require.Empty(t, inv.deleted)
}

func TestEventMissingContentIsDropped(t *testing.T) {
	var p, vec, emb, _ = newTestProcessor()

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("u", "doc-1", "", 1)))
	require.Empty(t, emb.calls)
	require.Empty(t, vec.upserts)
}

func TestEventMissingIDIsDropped(t *testing.T) {
	var p, vec, emb, _ = newTestProcessor()

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("c", "", "text", 1)))
	require.Empty(t, emb.calls)
	require.Empty(t, vec.upserts)
}

func TestUnknownOpIsDropped(t *testing.T) {
	var p, vec, emb, _ = newTestProcessor()
	var before = testutil.ToFloat64(metrics.UpdatesTotal)

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("x", "doc-1", "text", 1)))
	require.Empty(t, emb.calls)
	require.Empty(t, vec.upserts)
	require.Empty(t, vec.deletes)

	// The event normalized, so it still counts as an update seen.
	require.Equal(t, before+1, testutil.ToFloat64(metrics.UpdatesTotal))
}

func TestEmptyEventIsDropped(t *testing.T) {
	var p, _, _, _ = newTestProcessor()
	var before = testutil.ToFloat64(metrics.UpdatesTotal)

	require.NoError(t, p.ProcessEvent(context.Background(), map[string]interface{}{"__op": "c"}))
	require.Equal(t, before, testutil.ToFloat64(metrics.UpdatesTotal))
}

func TestWhitespaceContentProducesNoChunks(t *testing.T) {
	var p, vec, emb, inv = newTestProcessor()

	require.NoError(t, p.ProcessEvent(context.Background(), docEvent("c", "doc-1", "  \n\n \n ", 1)))
	require.Empty(t, emb.calls)
	require.Empty(t, vec.upserts)
	require.Empty(t, inv.deleted)
}

func TestFailureCountsError(t *testing.T) {
	var p, vec, _, _ = newTestProcessor()
	vec.deleteErr = errors.New("down")
	var before = testutil.ToFloat64(metrics.UpdateErrorsTotal)

	require.Error(t, p.ProcessEvent(context.Background(), map[string]interface{}{"__deleted": "true", "id": "doc-1"}))
	require.Equal(t, before+1, testutil.ToFloat64(metrics.UpdateErrorsTotal))
}

func TestLagSampleIsRecorded(t *testing.T) {
	var p, _, _, _ = newTestProcessor()

	var raw = docEvent("c", "doc-1", "text", 1)
	raw["__source_ts_ms"] = float64(time.Now().Add(-5 * time.Second).UnixMilli())
	require.NoError(t, p.ProcessEvent(context.Background(), raw))

	var samples = metrics.UpdateLagSamples(1)
	require.Len(t, samples, 1)
	require.InDelta(t, 5.0, samples[0], 3.0)
}
