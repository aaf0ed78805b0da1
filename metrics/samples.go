package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

// sampleWindow bounds how many raw samples each window retains.
const sampleWindow = 100

type window struct {
	mu      sync.Mutex
	samples []float64
}

func (w *window) add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, v)
	if len(w.samples) > sampleWindow {
		w.samples = w.samples[len(w.samples)-sampleWindow:]
	}
}

// last returns up to |n| most recent samples, oldest first.
func (w *window) last(n int) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.samples) {
		n = len(w.samples)
	}
	var out = make([]float64, n)
	copy(out, w.samples[len(w.samples)-n:])
	return out
}

var (
	updateLag    window
	queryLatency window
)

// AddUpdateLagSample records one end-to-end update lag, in seconds.
func AddUpdateLagSample(v float64) { updateLag.add(v) }

// AddQueryLatencySample records one query latency, in seconds.
func AddQueryLatencySample(v float64) { queryLatency.add(v) }

// UpdateLagSamples returns up to |n| recent lag samples, oldest first.
func UpdateLagSamples(n int) []float64 { return updateLag.last(n) }

// QueryLatencySamples returns up to |n| recent latency samples, oldest
// first.
func QueryLatencySamples(n int) []float64 { return queryLatency.last(n) }

// QuerySummary renders the query-service JSON metrics payload from
// gathered collector state.
func QuerySummary(g prometheus.Gatherer) map[string]interface{} {
	return map[string]interface{}{
		"queries": map[string]interface{}{
			"total":           counterValue(g, "rag_queries_total"),
			"latency_samples": QueryLatencySamples(10),
		},
	}
}

// UpdateSummary renders the update-service JSON metrics payload.
// |lastUpdate| is the pipeline tracker's last-update timestamp and may be
// nil before any event has been processed.
func UpdateSummary(g prometheus.Gatherer, lastUpdate interface{}) map[string]interface{} {
	return map[string]interface{}{
		"updates": map[string]interface{}{
			"total":       counterValue(g, "rag_updates_total"),
			"lag_samples": UpdateLagSamples(10),
		},
		"last_update": lastUpdate,
	}
}

func counterValue(g prometheus.Gatherer, name string) float64 {
	var families, err = g.Gather()
	if err != nil {
		log.WithField("err", err).Warn("gathering metrics")
		return 0
	}
	var mf = findFamily(families, name)
	if mf == nil {
		return 0
	}
	for _, m := range mf.GetMetric() {
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
	}
	return 0
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
