package observ

import (
	"sort"
	"strings"
	"sync"
)

// Process-local counters and gauges for the pipeline. There is no
// exposition endpoint; Snapshot is logged at review time so a day's
// counts land in the same JSON stream as everything else.

type registry struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
}

var reg = &registry{
	counters: map[string]int64{},
	gauges:   map[string]float64{},
}

// key folds labels into the metric name with stable ordering.
func key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters[key(name, labels)]++
}

func SetGauge(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.gauges[key(name, labels)] = value
}

// Snapshot returns a copy of every metric, suitable for logging.
func Snapshot() map[string]any {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make(map[string]any, len(reg.counters)+len(reg.gauges))
	for k, v := range reg.counters {
		out[k] = v
	}
	for k, v := range reg.gauges {
		out[k] = v
	}
	return out
}

// ResetMetrics clears every metric. Tests only.
func ResetMetrics() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = map[string]int64{}
	reg.gauges = map[string]float64{}
}
