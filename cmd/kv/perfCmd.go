package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nkv/cmd/util"
	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for an nKV container",
		Long:    "Runs store, retrieve, delete, exists and list benchmarks against the selected container. All keys are written below --key-prefix and removed afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf/"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfBenchmark is one named benchmark of the perf command
type perfBenchmark struct {
	name string
	fn   func(b *testing.B)
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "key-prefix"
	perfTestCmd.Flags().String(key, perfKeyPrefix, util.WrapString("Prefix of all benchmark keys"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfKeyPrefix = viper.GetString("key-prefix")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 {
		return fmt.Errorf("keys must be positive")
	}
	if perfLargeValueSizeKB <= 0 {
		return fmt.Errorf("large-value-size must be positive")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for nKV containers")

	cfg := instance.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Print(cfg.String())
	fmt.Printf("\nContainer: %s (%d paths)\n", container.Name, len(container.Paths()))
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range perfBenchmarks(container) {
		if shouldSkip(bm.name) {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, testing.BenchmarkResult{})
			continue
		}
		res := testing.Benchmark(bm.fn)
		results[bm.name] = res
		printResult(bm.name, res)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// perfBenchmarks returns the benchmarks in execution order
func perfBenchmarks(c *nkv.Container) []perfBenchmark {
	value := []byte("test")

	return []perfBenchmark{
		{"put", func(b *testing.B) {
			getKey, iter := getKeys("put")
			b.Cleanup(func() { iter(deleteKey(c, "put")) })
			parallel(b, func(i int) error {
				return c.Store(getKey(i), value, nkv.StoreOptions{})
			}, "put")
		}},
		{"put-large", func(b *testing.B) {
			largeValue := make([]byte, perfLargeValueSizeKB*1024)
			getKey, iter := getKeys("put-large")
			b.Cleanup(func() { iter(deleteKey(c, "put-large")) })
			parallel(b, func(i int) error {
				return c.Store(getKey(i), largeValue, nkv.StoreOptions{})
			}, "put-large")
		}},
		{"get", func(b *testing.B) {
			getKey, iter := getKeys("get")
			iter(storeKey(c, "get", value))
			b.Cleanup(func() { iter(deleteKey(c, "get")) })
			parallel(b, func(i int) error {
				buf := make([]byte, len(value))
				_, err := c.Retrieve(getKey(i), buf)
				return err
			}, "get")
		}},
		{"delete", func(b *testing.B) {
			getKey, iter := getKeys("delete")
			iter(storeKey(c, "delete", value))
			b.Cleanup(func() { iter(deleteKey(c, "delete")) })
			parallel(b, func(i int) error {
				// keys are only present for the first round
				if err := c.Delete(getKey(i)); err != nil && !nkv.IsNotFound(err) {
					return err
				}
				return nil
			}, "delete")
		}},
		{"exists", func(b *testing.B) {
			getKey, iter := getKeys("exists")
			iter(storeKey(c, "exists", value))
			b.Cleanup(func() { iter(deleteKey(c, "exists")) })
			parallel(b, func(i int) error {
				_, err := c.Exists(getKey(i))
				return err
			}, "exists")
		}},
		{"exists-not", func(b *testing.B) {
			parallel(b, func(i int) error {
				_, err := c.Exists(fmt.Sprintf("%sexists-not/%d", perfKeyPrefix, i%perfKeySpread))
				return err
			}, "exists-not")
		}},
		{"list", func(b *testing.B) {
			_, iter := getKeys("list")
			iter(storeKey(c, "list", value))
			b.Cleanup(func() { iter(deleteKey(c, "list")) })
			opts := nkv.ListOptions{Prefix: perfKeyPrefix + "list/", Delimiter: "/"}
			maxKeyLength := instance.Config().MaxKeyLength
			parallel(b, func(int) error {
				return listKeys(c, opts, 100, maxKeyLength, 0, func(string) {})
			}, "list")
		}},
		{"mixed", func(b *testing.B) {
			getKey, iter := getKeys("mixed")
			iter(storeKey(c, "mixed", value))
			b.Cleanup(func() { iter(deleteKey(c, "mixed")) })
			parallel(b, func(i int) error {
				key := getKey(i / 4)
				var err error
				switch i % 4 {
				case 0:
					err = c.Store(key, value, nkv.StoreOptions{})
				case 1:
					buf := make([]byte, len(value))
					_, err = c.Retrieve(key, buf)
				case 2:
					err = c.Delete(key)
				case 3:
					_, err = c.Exists(key)
				}
				if nkv.IsNotFound(err) {
					return nil
				}
				return err
			}, "mixed")
		}},
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parallel runs op with perfNumThreads goroutines per CPU, each with its own counter
func parallel(b *testing.B, op func(i int) error, test string) {
	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := op(counter); err != nil {
				log.Printf("(%s) - error: %v\n", test, err)
			}
			counter++
		}
	})
}

func storeKey(c *nkv.Container, test string, value []byte) func(string) {
	return func(k string) {
		if err := c.Store(k, value, nkv.StoreOptions{}); err != nil {
			log.Printf("(%s) - error storing key: %v\n", test, err)
		}
	}
}

func deleteKey(c *nkv.Container, test string) func(string) {
	return func(k string) {
		if err := c.Delete(k); err != nil && !nkv.IsNotFound(err) {
			log.Printf("(%s) - error deleting key: %v\n", test, err)
		}
	}
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(test string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s%s/%d", perfKeyPrefix, test, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Container", "Paths", "ListingEnabled", "ReadCacheEnabled",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	cfg := instance.Config()
	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	for _, test := range tests {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			container.Name,
			strconv.Itoa(len(container.Paths())),
			strconv.FormatBool(cfg.ListingEnabled),
			strconv.FormatBool(cfg.ReadCacheEnabled),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
