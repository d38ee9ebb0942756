package util

import (
	"math"
	"sync"
	"testing"
)

func TestNewStats(t *testing.T) {
	if st := NewStats(nil); st != (Stats{}) {
		t.Errorf("empty input: got %+v", st)
	}

	st := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if st.Mean != 5 || st.Min != 2 || st.Max != 9 {
		t.Errorf("unexpected summary %+v", st)
	}
	if st.StdDeviation != 2 {
		t.Errorf("StdDeviation = %v, want 2", st.StdDeviation)
	}
	if math.Abs(st.MinMaxRatio-2.0/9.0) > 1e-9 {
		t.Errorf("MinMaxRatio = %v", st.MinMaxRatio)
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("even spread: quality = %v, want 1", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{40, 0, 0, 0})
	if skewed.DistributionQuality >= 0.5 {
		t.Errorf("skewed spread: quality = %v, want < 0.5", skewed.DistributionQuality)
	}

	empty := NewDistributionStats([]float64{0, 0})
	if empty.DistributionQuality != 1 {
		t.Errorf("empty shards: quality = %v, want 1", empty.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 || h.AverageSize() != 0 || h.Percentile(99) != 0 {
		t.Fatal("empty histogram must report 0")
	}

	// 90 small samples (bucket 16..64) and 10 large ones (bucket 1K..4K)
	for i := 0; i < 90; i++ {
		h.AddSample(50)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(3000)
	}

	if got := h.Count(); got != 100 {
		t.Errorf("Count = %d, want 100", got)
	}
	if got := h.AverageSize(); got != (90*50+10*3000)/100 {
		t.Errorf("AverageSize = %d", got)
	}
	if got := h.MedianEstimate(); got != (16+64)/2 {
		t.Errorf("MedianEstimate = %d, want %d", got, (16+64)/2)
	}
	if got := h.Percentile(99); got != (1024+4096)/2 {
		t.Errorf("Percentile(99) = %d, want %d", got, (1024+4096)/2)
	}
	if got := h.Percentile(101); got != 0 {
		t.Errorf("Percentile(101) = %d, want 0", got)
	}
}

func TestSizeHistogramBounds(t *testing.T) {
	h := NewSizeHistogram()
	h.AddSample(0)
	if got := h.Percentile(100); got != 8 {
		t.Errorf("smallest bucket midpoint = %d, want 8", got)
	}

	h = NewSizeHistogram()
	h.AddSample(8 << 30)
	if got := h.Percentile(100); got != 8<<30 {
		t.Errorf("overflow bucket estimate = %d, want %d", got, 8<<30)
	}
}

func TestSizeHistogramConcurrent(t *testing.T) {
	h := NewSizeHistogram()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.AddSample(i)
				_ = h.MedianEstimate()
			}
		}()
	}
	wg.Wait()
	if got := h.Count(); got != 8000 {
		t.Errorf("Count = %d, want 8000", got)
	}
}
