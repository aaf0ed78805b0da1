package update

import (
	"sync"
	"time"
)

// Pipeline stages reported on the status endpoint, in pipeline order.
var stageNames = []string{
	"postgresql",
	"debezium",
	"kafka",
	"update_service",
	"embedding",
	"qdrant",
}

// recentWindow bounds the per-document history kept for status reporting.
const recentWindow = 10

const timestampLayout = "2006-01-02T15:04:05.000000"

// A Tracker holds the per-stage latency breakdown of the most recent
// document update, plus a short history of updates. The update service
// exposes it on its pipeline status endpoint.
type Tracker struct {
	mu      sync.Mutex
	stages  map[string]float64
	last    string
	recents []recentUpdate
}

type recentUpdate struct {
	DocumentID   string  `json:"document_id"`
	Timestamp    string  `json:"timestamp"`
	TotalLatency float64 `json:"total_latency"`
}

// NewTracker returns a Tracker with every stage at zero and no history.
func NewTracker() *Tracker {
	var stages = make(map[string]float64, len(stageNames))
	for _, name := range stageNames {
		stages[name] = 0
	}
	return &Tracker{stages: stages}
}

// Record replaces the tracked stage latencies with those of the update
// just processed and appends the update to the recent history.
func (t *Tracker) Record(stageLatencies map[string]float64, documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stages = stageLatencies
	t.last = time.Now().Format(timestampLayout)

	t.recents = append(t.recents, recentUpdate{
		DocumentID:   documentID,
		Timestamp:    t.last,
		TotalLatency: sumStages(stageLatencies),
	})
	if len(t.recents) > recentWindow {
		t.recents = t.recents[len(t.recents)-recentWindow:]
	}
}

// Status reports the last update's stage breakdown and total latency,
// when it was recorded, and how many updates the history holds.
// last_update is nil until the first Record.
func (t *Tracker) Status() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stages = make(map[string]float64, len(t.stages))
	for k, v := range t.stages {
		stages[k] = v
	}
	return map[string]interface{}{
		"stages":               stages,
		"total_latency":        sumStages(t.stages),
		"last_update":          t.lastLocked(),
		"recent_updates_count": len(t.recents),
	}
}

// LastUpdate returns the timestamp of the most recent Record, or nil.
func (t *Tracker) LastUpdate() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLocked()
}

func (t *Tracker) lastLocked() interface{} {
	if t.last == "" {
		return nil
	}
	return t.last
}

func sumStages(stages map[string]float64) float64 {
	var total float64
	for _, v := range stages {
		total += v
	}
	return total
}
