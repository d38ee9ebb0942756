package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
)

// RunDeviceBenchmarks runs the benchmark set for a device implementation
func RunDeviceBenchmarks(b *testing.B, name string, factory DeviceFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Store", func(b *testing.B) {
			benchmarkStore(b, factory())
		})

		b.Run("StoreLargeValue", func(b *testing.B) {
			benchmarkStoreLargeValue(b, factory())
		})

		b.Run("Retrieve", func(b *testing.B) {
			benchmarkRetrieve(b, factory())
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, factory())
		})

		b.Run("ListRange", func(b *testing.B) {
			benchmarkListRange(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkStore(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore)

	var counter atomic.Uint64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("bench/%d", counter.Add(1))
			dev.Store(key, value, device.StoreOptions{})
		}
	})
}

func benchmarkStoreLargeValue(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore)

	value := bytes.Repeat([]byte("x"), 1024*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.Store(fmt.Sprintf("large/%d", i%16), value, device.StoreOptions{})
	}
}

func benchmarkRetrieve(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore|device.FeatureRetrieve)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		dev.Store(fmt.Sprintf("bench/%d", i), []byte("benchmark-value"), device.StoreOptions{})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, 64)
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			dev.Retrieve(fmt.Sprintf("bench/%d", r.Intn(numKeys)), buf)
		}
	})
}

func benchmarkDelete(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore|device.FeatureDelete)

	for i := 0; i < b.N; i++ {
		dev.Store(fmt.Sprintf("bench/%d", i), []byte("v"), device.StoreOptions{})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.Delete(fmt.Sprintf("bench/%d", i))
	}
}

func benchmarkListRange(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore|device.FeatureListRange)

	for i := 0; i < 5000; i++ {
		dev.Store(fmt.Sprintf("dir-%d/file-%d", i%50, i), []byte("v"), device.StoreOptions{})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.ListRange(fmt.Sprintf("dir-%d/", i%50), "", 100)
	}
}

func benchmarkSaveLoad(b *testing.B, factory DeviceFactory) {
	dev := factory()
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore|device.FeatureSave|device.FeatureLoad)

	for i := 0; i < 100000; i++ {
		dev.Store(fmt.Sprintf("bench/%d", i), []byte("benchmark-value"), device.StoreOptions{})
	}
	var snapshot bytes.Buffer
	dev.Save(&snapshot)

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			dev.Save(&buf)
		}
	})

	b.Run("Load", func(b *testing.B) {
		restored := factory()
		b.Cleanup(func() { restored.Close() })
		for i := 0; i < b.N; i++ {
			restored.Load(bytes.NewReader(snapshot.Bytes()))
		}
	})
}

func benchmarkMixedUsage(b *testing.B, dev device.IDevice) {
	b.Cleanup(func() { dev.Close() })
	requireFeature(b, dev, device.FeatureStore|device.FeatureRetrieve|device.FeatureDelete)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		dev.Store(fmt.Sprintf("bench/%d", i), []byte("benchmark-value"), device.StoreOptions{})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, 64)
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("bench/%d", r.Intn(numKeys))
			switch op := r.Intn(10); {
			case op < 7: // 70% reads
				dev.Retrieve(key, buf)
			case op < 9: // 20% writes
				dev.Store(key, []byte("benchmark-value"), device.StoreOptions{})
			default: // 10% deletes
				dev.Delete(key)
			}
		}
	})
}
