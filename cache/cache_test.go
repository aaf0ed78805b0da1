package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	var mr = miniredis.RunT(t)
	var c, err = New("redis://"+mr.Addr(), 4, ttl)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	var c, _ = newTestCache(t, time.Hour)
	var ctx = context.Background()

	require.NoError(t, c.Set(ctx, "greeting", "hello", 0))

	var got, ok = c.Get(ctx, "greeting")
	require.True(t, ok)
	require.Equal(t, "hello", got)
}

func TestGetMissingKey(t *testing.T) {
	var c, _ = newTestCache(t, time.Hour)

	var got, ok = c.Get(context.Background(), "absent")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestDefaultAndExplicitTTL(t *testing.T) {
	var c, mr = newTestCache(t, time.Hour)
	var ctx = context.Background()

	require.NoError(t, c.Set(ctx, "default-ttl", "v", 0))
	require.Equal(t, time.Hour, mr.TTL("default-ttl"))

	require.NoError(t, c.Set(ctx, "explicit-ttl", "v", 2*time.Minute))
	require.Equal(t, 2*time.Minute, mr.TTL("explicit-ttl"))
}

func TestEntriesExpire(t *testing.T) {
	var c, mr = newTestCache(t, time.Minute)
	var ctx = context.Background()

	require.NoError(t, c.Set(ctx, "ephemeral", "v", 0))
	mr.FastForward(2 * time.Minute)

	var _, ok = c.Get(ctx, "ephemeral")
	require.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	var c, _ = newTestCache(t, time.Hour)
	var ctx = context.Background()

	type payload struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	var in = payload{Answer: "forty-two", Confidence: 0.9}
	require.NoError(t, c.SetJSON(ctx, "resp", in, 0))

	var out payload
	require.True(t, c.GetJSON(ctx, "resp", &out))
	require.Equal(t, in, out)
}

func TestMalformedJSONIsAMiss(t *testing.T) {
	var c, mr = newTestCache(t, time.Hour)
	require.NoError(t, mr.Set("broken", "{not json"))

	var out map[string]interface{}
	require.False(t, c.GetJSON(context.Background(), "broken", &out))
}

func TestReadsFailOpenWhenBackendIsDown(t *testing.T) {
	var c, mr = newTestCache(t, time.Hour)
	var ctx = context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 0))

	mr.Close()

	var _, ok = c.Get(ctx, "k")
	require.False(t, ok)

	var out map[string]interface{}
	require.False(t, c.GetJSON(ctx, "k", &out))

	// Invalidation swallows the failure too.
	c.Delete(ctx, "k")
}

func TestWritesFailClosedWhenBackendIsDown(t *testing.T) {
	var c, mr = newTestCache(t, time.Hour)
	mr.Close()

	require.Error(t, c.Set(context.Background(), "k", "v", 0))
	require.Error(t, c.SetJSON(context.Background(), "k", map[string]string{"a": "b"}, 0))
	require.Error(t, c.Healthy(context.Background()))
}

func TestDeleteRemovesKey(t *testing.T) {
	var c, _ = newTestCache(t, time.Hour)
	var ctx = context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	c.Delete(ctx, "k")

	var _, ok = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	var ctx = context.Background()

	var _, ok = c.Get(ctx, "k")
	require.False(t, ok)
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	c.Delete(ctx, "k")
	require.Error(t, c.Healthy(ctx))
	require.NoError(t, c.Close())
}

func TestQueryResponseKey(t *testing.T) {
	var cases = []struct {
		query string
		want  string
	}{
		{"what is change data capture?", "query_response:v2:e495b0ec509dc882471a295bb0963dee"},
		{"What is RAG?", "query_response:v2:966fb06c87dfd4d6e62b2aeac77424f4"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, QueryResponseKey(tc.query))
	}
	// Distinct queries hash to distinct keys.
	require.NotEqual(t, QueryResponseKey("a"), QueryResponseKey("b"))
}

func TestInvalidationKey(t *testing.T) {
	require.Equal(t, "query:doc-1", InvalidationKey("doc-1"))
}
