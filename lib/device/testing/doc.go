// Package testing provides a conformance suite and benchmarks for implementations of
// device.IDevice.
//
// The package contains:
//   - device_testing: RunDeviceTests checks the IDevice contract (copy semantics, status codes,
//     idempotent stores, native iteration, ranged listing, persistence, concurrency)
//   - device_benchmarks: RunDeviceBenchmarks measures the throughput of the common commands
//
// Tests for features an engine does not advertise through SupportsFeature are skipped.
//
// Example usage:
//
//	factory := func() device.IDevice {
//		return memdev.MustNewMemDevice(nil)
//	}
//
//	devtesting.RunDeviceTests(t, "MemDevice", factory)
//	devtesting.RunDeviceBenchmarks(b, "MemDevice", factory)
package testing
