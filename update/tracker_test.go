package update

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerInitialStatus(t *testing.T) {
	var tracker = NewTracker()

	var status = tracker.Status()
	require.Equal(t, map[string]float64{
		"postgresql":     0,
		"debezium":       0,
		"kafka":          0,
		"update_service": 0,
		"embedding":      0,
		"qdrant":         0,
	}, status["stages"])
	require.Equal(t, 0.0, status["total_latency"])
	require.Nil(t, status["last_update"])
	require.Equal(t, 0, status["recent_updates_count"])

	require.Nil(t, tracker.LastUpdate())
}

func TestTrackerRecord(t *testing.T) {
	var tracker = NewTracker()
	tracker.Record(map[string]float64{
		"postgresql":     0.05,
		"debezium":       0.10,
		"kafka":          0.05,
		"update_service": 0.3,
		"embedding":      0.5,
		"qdrant":         0.2,
	}, "doc-1")

	var status = tracker.Status()
	require.InDelta(t, 1.2, status["total_latency"], 1e-9)
	require.Equal(t, 1, status["recent_updates_count"])

	var stages = status["stages"].(map[string]float64)
	require.Equal(t, 0.5, stages["embedding"])

	var last, ok = status["last_update"].(string)
	require.True(t, ok)
	var stamp, err = time.ParseInLocation(timestampLayout, last, time.Local)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), stamp, time.Minute)

	require.Equal(t, last, tracker.LastUpdate())
}

func TestTrackerHistoryIsBounded(t *testing.T) {
	var tracker = NewTracker()
	for i := 0; i != 25; i++ {
		tracker.Record(map[string]float64{"kafka": float64(i)}, fmt.Sprintf("doc-%d", i))
	}

	var status = tracker.Status()
	require.Equal(t, recentWindow, status["recent_updates_count"])
	require.Len(t, tracker.recents, recentWindow)
	require.Equal(t, "doc-24", tracker.recents[recentWindow-1].DocumentID)
	require.Equal(t, "doc-15", tracker.recents[0].DocumentID)
	require.Equal(t, 24.0, tracker.recents[recentWindow-1].TotalLatency)
}

func TestTrackerStatusCopiesStages(t *testing.T) {
	var tracker = NewTracker()

	var status = tracker.Status()
	status["stages"].(map[string]float64)["kafka"] = 99

	require.Equal(t, 0.0, tracker.Status()["stages"].(map[string]float64)["kafka"])
}
