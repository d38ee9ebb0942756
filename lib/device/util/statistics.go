package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of samples
type Stats struct {
	StdDeviation float64 `json:"std_deviation"` // population standard deviation
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"` // 1 if all samples are equal or Max is 0
}

// NewStats computes the summary of values. An empty slice yields the zero Stats.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	st := Stats{Min: values[0], Max: values[0], MinMaxRatio: 1}
	var sum float64
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - st.Mean) * (v - st.Mean)
	}
	st.StdDeviation = math.Sqrt(variance / float64(len(values)))

	if st.Max > 0 {
		st.MinMaxRatio = st.Min / st.Max
	}
	return st
}

// DistributionStats rates how evenly items are spread over shards
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0 for a skewed one.
	// It is the mean of (1 - coefficient of variation, capped at 1) and MinMaxRatio.
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates the spread of shardSizes (items per shard)
func NewDistributionStats(shardSizes []float64) DistributionStats {
	st := NewStats(shardSizes)

	var cv float64
	if st.Mean > 0 {
		cv = st.StdDeviation / st.Mean
	}
	return DistributionStats{
		Stats:               st,
		DistributionQuality: (1-math.Min(1, cv))/2 + st.MinMaxRatio/2,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBounds are the inclusive upper bounds of the histogram buckets: 16 B, 64 B, ... 4 GiB.
// One more bucket collects everything larger.
var histogramBounds = func() []int64 {
	var bounds []int64
	for b := int64(16); b <= 4<<30; b *= 4 {
		bounds = append(bounds, b)
	}
	return bounds
}()

// SizeHistogram counts size samples (entry or value sizes in bytes) in exponential buckets.
// Estimates are bucket midpoints, which is good enough to size devices and caches.
//
// Thread-safety: All methods are thread-safe.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(histogramBounds)+1)}
}

// AddSample records one size
func (h *SizeHistogram) AddSample(size int) {
	i := 0
	for i < len(histogramBounds) && int64(size) > histogramBounds[i] {
		i++
	}

	h.mu.Lock()
	h.buckets[i]++
	h.count++
	h.sum += int64(size)
	h.mu.Unlock()
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// AverageSize returns the exact mean of all samples
func (h *SizeHistogram) AverageSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median size
func (h *SizeHistogram) MedianEstimate() int {
	return h.Percentile(50)
}

// Percentile estimates the p-th percentile (0-100). It returns 0 without samples or for an
// invalid p.
func (h *SizeHistogram) Percentile(p int) int {
	if p < 0 || p > 100 {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}

	rank := int64(math.Ceil(float64(h.count) * float64(p) / 100))
	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen >= rank && n > 0 {
			return bucketMidpoint(i)
		}
	}
	return int(h.sum / h.count)
}

// bucketMidpoint is the representative size of bucket i
func bucketMidpoint(i int) int {
	switch {
	case i == 0:
		return int(histogramBounds[0] / 2)
	case i == len(histogramBounds):
		return int(histogramBounds[i-1] * 2)
	default:
		return int((histogramBounds[i-1] + histogramBounds[i]) / 2)
	}
}
