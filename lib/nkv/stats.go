package nkv

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/nkv/lib/cache"
	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/listing"
)

// PathStats describes the state of one path
type PathStats struct {
	Container    string                  `json:"container"`
	Address      string                  `json:"address"`
	Kind         string                  `json:"kind"`
	IndexReady   bool                    `json:"index_ready"`
	IndexedKeys  int64                   `json:"indexed_keys"`
	IndexBuild   time.Duration           `json:"index_build"`
	Index        *listing.Stats          `json:"index,omitempty"`
	Cache        *cache.Stats            `json:"cache,omitempty"`
	Device       *device.Info            `json:"device,omitempty"`
	PendingAsync int                     `json:"pending_async"`
	Latency      map[string]LatencyStats `json:"latency"`
}

// Stats returns the state of every path
func (in *Instance) Stats() []PathStats {
	var out []PathStats
	for _, p := range in.allPaths() {
		ps := PathStats{
			Container:    p.container.Name,
			Address:      p.Address,
			Kind:         p.Kind,
			IndexReady:   p.IndexReady(),
			PendingAsync: p.Pending(),
			Latency:      in.metrics.latencies(p.metrics.timerPrefix),
		}
		if p.builder != nil {
			ps.IndexedKeys = p.builder.Indexed()
			ps.IndexBuild = p.builder.Elapsed()
		}
		if p.index != nil {
			st := p.index.Stats()
			ps.Index = &st
		}
		if p.cache != nil {
			st := p.cache.Stats()
			ps.Cache = &st
		}
		if info, err := p.dev.GetInfo(); err == nil {
			ps.Device = &info
		} else {
			log.Debugf("device info of %s/%s: %v", p.container.Name, p.Address, err)
		}
		out = append(out, ps)
	}
	return out
}

// String formats the stats for terminal output
func (ps PathStats) String() string {
	var sb strings.Builder

	addField := func(name string, value interface{}) {
		sb.WriteString(fmt.Sprintf("  %-22s: %v\n", name, value))
	}

	sb.WriteString(fmt.Sprintf("\n%s/%s (%s)\n", strings.ToUpper(ps.Container), ps.Address, ps.Kind))
	addField("Index Ready", ps.IndexReady)
	if ps.Index != nil {
		addField("Index Prefixes", ps.Index.Prefixes)
		addField("Index Children", ps.Index.Children)
		addField("Index Distribution", fmt.Sprintf("%.2f", ps.Index.Distribution.DistributionQuality))
		addField("Indexed On Open", ps.IndexedKeys)
		addField("Index Build Time", ps.IndexBuild)
	}
	if ps.Cache != nil {
		addField("Cache Entries", fmt.Sprintf("%d / %d", ps.Cache.Entries, ps.Cache.Capacity))
		addField("Cache Hits / Misses", fmt.Sprintf("%d / %d", ps.Cache.Hits, ps.Cache.Misses))
		addField("Cache Evictions", ps.Cache.Evictions)
	}
	if ps.Device != nil {
		addField("Device Keys", ps.Device.NumKeys)
		addField("Device Size", fmt.Sprintf("%d bytes", ps.Device.SizeBytes))
	}
	addField("Pending Async", ps.PendingAsync)
	for _, op := range sortedOps(ps.Latency) {
		l := ps.Latency[op]
		addField("Latency "+op, fmt.Sprintf("n=%d mean=%s p99=%s", l.Count, l.Mean, l.P99))
	}
	return sb.String()
}
