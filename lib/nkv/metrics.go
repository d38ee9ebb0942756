package nkv

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Operation names used for metrics and errors
const (
	opStore    = "store"
	opRetrieve = "retrieve"
	opDelete   = "delete"
	opExists   = "exists"
	opList     = "list"
	opLock     = "lock"
	opUnlock   = "unlock"
)

// instanceMetrics holds the metric registries of one instance.
// Prometheus counters live in a private metrics.Set, latencies in a go-metrics registry.
type instanceMetrics struct {
	set      *metrics.Set
	registry gometrics.Registry
}

func newInstanceMetrics(registry gometrics.Registry) *instanceMetrics {
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	return &instanceMetrics{
		set:      metrics.NewSet(),
		registry: registry,
	}
}

// pathMetrics are the metrics of a single path
type pathMetrics struct {
	im          *instanceMetrics
	labels      string
	timerPrefix string
	cacheHits   *metrics.Counter
	cacheMisses *metrics.Counter
	indexErrors *metrics.Counter
}

func (im *instanceMetrics) forPath(p *Path) *pathMetrics {
	labels := fmt.Sprintf(`container=%q,path=%q`, p.container.Name, p.Address)
	pm := &pathMetrics{
		im:          im,
		labels:      labels,
		timerPrefix: p.container.Name + "." + p.Address + ".",
		cacheHits:   im.set.GetOrCreateCounter(`nkv_cache_hits_total{` + labels + `}`),
		cacheMisses: im.set.GetOrCreateCounter(`nkv_cache_misses_total{` + labels + `}`),
		indexErrors: im.set.GetOrCreateCounter(`nkv_index_errors_total{` + labels + `}`),
	}
	if p.index != nil {
		idx := p.index
		im.set.NewGauge(`nkv_index_prefixes{`+labels+`}`, func() float64 { return float64(idx.Stats().Prefixes) })
		im.set.NewGauge(`nkv_index_children{`+labels+`}`, func() float64 { return float64(idx.Stats().Children) })
	}
	if p.cache != nil {
		c := p.cache
		im.set.NewGauge(`nkv_cache_entries{`+labels+`}`, func() float64 { return float64(c.Len()) })
	}
	return pm
}

// observe records one finished operation
func (pm *pathMetrics) observe(op string, start time.Time, err error) {
	pm.im.set.GetOrCreateCounter(`nkv_ops_total{` + pm.labels + `,op="` + op + `"}`).Inc()
	if err != nil && !IsNotFound(err) {
		pm.im.set.GetOrCreateCounter(`nkv_errors_total{` + pm.labels + `,op="` + op + `"}`).Inc()
	}
	gometrics.GetOrRegisterTimer(pm.timerPrefix+op, pm.im.registry).UpdateSince(start)
}

// --------------------------------------------------------------------------
// Exported statistics
// --------------------------------------------------------------------------

// LatencyStats summarizes the latency of one operation type
type LatencyStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
	Rate1 float64       `json:"rate1"` // ops per second, one minute moving average
}

// latencies returns the latency stats of all timers whose name starts with prefix, keyed by operation
func (im *instanceMetrics) latencies(prefix string) map[string]LatencyStats {
	out := make(map[string]LatencyStats)
	im.registry.Each(func(name string, i interface{}) {
		t, ok := i.(gometrics.Timer)
		if !ok || len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			return
		}
		s := t.Snapshot()
		ps := s.Percentiles([]float64{0.5, 0.99})
		out[name[len(prefix):]] = LatencyStats{
			Count: s.Count(),
			Mean:  time.Duration(s.Mean()),
			P50:   time.Duration(ps[0]),
			P99:   time.Duration(ps[1]),
			Max:   time.Duration(s.Max()),
			Rate1: s.Rate1(),
		}
	})
	return out
}

// WritePrometheus writes all counters and gauges of the instance in Prometheus text format
func (im *instanceMetrics) WritePrometheus(w io.Writer) {
	im.set.WritePrometheus(w)
}

// sortedOps returns the operation names of m in order
func sortedOps(m map[string]LatencyStats) []string {
	ops := make([]string, 0, len(m))
	for op := range m {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
