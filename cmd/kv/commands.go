package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/spf13/cobra"
)

var (
	putIfAbsent bool
	getRaw      bool

	listPrefix     string
	listDelimiter  string
	listStartAfter string
	listPageSize   int
	listMaxKeys    int

	statsJSON    bool
	statsMetrics bool
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if err := container.Store(key, []byte(value), nkv.StoreOptions{Idempotent: putIfAbsent}); err != nil {
				return err
			}
			fmt.Println("stored successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, found, err := retrieve(container, key)
			if err != nil {
				return err
			}
			if getRaw {
				if found {
					_, err = os.Stdout.Write(value)
				}
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", key, found, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			err := container.Delete(key)
			switch {
			case nkv.IsNotFound(err):
				fmt.Printf("key=%s, found=false\n", key)
			case err != nil:
				return err
			default:
				fmt.Println("deleted successfully")
			}
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := container.Exists(key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the keys of the container",
		Long: `Lists the keys of the container page by page. With --delimiter, keys below --prefix are
collapsed to their next path segment and printed once (e.g. "dir/").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := nkv.ListOptions{Prefix: listPrefix, Delimiter: listDelimiter, StartAfter: listStartAfter}
			return listKeys(container, opts, listPageSize, instance.Config().MaxKeyLength, listMaxKeys, func(key string) {
				fmt.Println(key)
			})
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints index, cache, device and latency statistics of every path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if statsMetrics {
				instance.WritePrometheus(os.Stdout)
				return nil
			}
			stats := instance.Stats()
			if statsJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			for _, ps := range stats {
				fmt.Print(ps.String())
			}
			return nil
		},
	}
)

func init() {
	putCmd.Flags().BoolVar(&putIfAbsent, "if-absent", false, "Fail if the key already exists")

	getCmd.Flags().BoolVar(&getRaw, "raw", false, "Write only the value to stdout")

	listCmd.Flags().StringVar(&listPrefix, "prefix", "", "Only list keys starting with this prefix")
	listCmd.Flags().StringVar(&listDelimiter, "delimiter", "", "Collapse keys to the next path segment")
	listCmd.Flags().StringVar(&listStartAfter, "start-after", "", "Only list keys sorting after this key")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 100, "Keys fetched per call")
	listCmd.Flags().IntVar(&listMaxKeys, "max-keys", 0, "Stop after this many keys (0 = all)")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the statistics as JSON")
	statsCmd.Flags().BoolVar(&statsMetrics, "metrics", false, "Print the counters in Prometheus text format")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// retrieve reads key, growing the buffer once if the value is longer than the first guess
func retrieve(c *nkv.Container, key string) ([]byte, bool, error) {
	buf := make([]byte, 4096)
	n, err := c.Retrieve(key, buf)
	if errors.Is(err, nkv.ErrBufferTooSmall) && n > len(buf) {
		buf = make([]byte, n)
		n, err = c.Retrieve(key, buf)
	}
	switch {
	case nkv.IsNotFound(err):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return buf[:n], true, nil
}

// listKeys runs an enumeration with slots of slotSize bytes and calls emit for every key.
// The enumeration stops after maxKeys keys if maxKeys is positive.
func listKeys(c *nkv.Container, opts nkv.ListOptions, pageSize, slotSize, maxKeys int, emit func(string)) error {
	if pageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	slots := nkv.NewSlots(pageSize, slotSize)

	var (
		it    *nkv.Iterator
		count int
	)
	for {
		n, next, err := c.List(it, opts, slots)
		for _, key := range nkv.Keys(slots, n) {
			if maxKeys > 0 && count == maxKeys {
				next.Close()
				return nil
			}
			emit(key)
			count++
		}
		if err != nil {
			next.Close()
			return err
		}
		if next == nil {
			return nil
		}
		it = next
	}
}
