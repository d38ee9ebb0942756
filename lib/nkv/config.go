package nkv

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Path and Container Configuration
// --------------------------------------------------------------------------

// Path kinds understood by the default opener and the CLI
const (
	PathKindMemdev = "memdev" // local in-memory KV-SSD emulator
	PathKindRemote = "remote" // device served by "nkv serve"
)

// PathConfig describes one device of a container
type PathConfig struct {
	Address    string `mapstructure:"address" yaml:"address"`       // unique name of the path inside the container
	Kind       string `mapstructure:"kind" yaml:"kind"`             // memdev or remote
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`     // remote: server address
	Transport  string `mapstructure:"transport" yaml:"transport"`   // remote: tcp, unix or http
	Serializer string `mapstructure:"serializer" yaml:"serializer"` // remote: binary, json or gob
	TargetID   uint64 `mapstructure:"target_id" yaml:"target_id"`   // remote: target id on the server
	DataFile   string `mapstructure:"data_file" yaml:"data_file"`   // memdev: persistence file
	NumShards  int    `mapstructure:"num_shards" yaml:"num_shards"` // memdev: engine shards
}

// Remote reports whether the path is fabric attached. Remote paths have no local listing index.
func (p PathConfig) Remote() bool {
	return p.Kind == PathKindRemote
}

// ContainerConfig groups the paths of one logical target
type ContainerConfig struct {
	Name  string       `mapstructure:"name" yaml:"name"`
	Paths []PathConfig `mapstructure:"paths" yaml:"paths"`
}

// --------------------------------------------------------------------------
// Instance Configuration
// --------------------------------------------------------------------------

// Config is the configuration of an nKV instance
type Config struct {
	// listing index
	ListingEnabled                bool    `mapstructure:"listing_enabled" yaml:"listing_enabled"`
	NumListingShards              int     `mapstructure:"num_listing_shards" yaml:"num_listing_shards"`
	IterationPrefixFilter         string  `mapstructure:"iteration_prefix_filter" yaml:"iteration_prefix_filter"`
	HierarchicalDelimiter         string  `mapstructure:"hierarchical_delimiter" yaml:"hierarchical_delimiter"`
	WaitForIndexBuildOnOpen       bool    `mapstructure:"wait_for_index_build_on_open" yaml:"wait_for_index_build_on_open"`
	MaxPathsToIteratePerContainer int     `mapstructure:"max_paths_to_iterate_per_container" yaml:"max_paths_to_iterate_per_container"`
	IndexBuildBatchSize           int     `mapstructure:"index_build_batch_size" yaml:"index_build_batch_size"`
	IndexBuildQueueDepth          int     `mapstructure:"index_build_queue_depth" yaml:"index_build_queue_depth"`
	IndexBuildRateLimit           float64 `mapstructure:"index_build_rate_limit" yaml:"index_build_rate_limit"`
	ListBatchSize                 int     `mapstructure:"list_batch_size" yaml:"list_batch_size"`

	// read cache
	ReadCacheEnabled        bool   `mapstructure:"read_cache_enabled" yaml:"read_cache_enabled"`
	NegativeCacheEnabled    bool   `mapstructure:"negative_cache_enabled" yaml:"negative_cache_enabled"`
	NumCacheShards          int    `mapstructure:"num_cache_shards" yaml:"num_cache_shards"`
	CacheCapacity           int    `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	CacheValueSizeThreshold int    `mapstructure:"cache_value_size_threshold" yaml:"cache_value_size_threshold"`
	SystemMetadataMarker    string `mapstructure:"system_metadata_marker" yaml:"system_metadata_marker"`

	// limits
	MaxKeyLength    int `mapstructure:"max_key_length" yaml:"max_key_length"`
	MaxValueLength  int `mapstructure:"max_value_length" yaml:"max_value_length"`
	AsyncQueueDepth int `mapstructure:"async_queue_depth" yaml:"async_queue_depth"`

	LogLevel   string            `mapstructure:"log_level" yaml:"log_level"`
	Containers []ContainerConfig `mapstructure:"containers" yaml:"containers"`
}

const (
	defaultListingShards   = 64
	defaultCacheShards     = 64
	defaultCacheCapacity   = 1024
	defaultCacheThreshold  = 4096
	defaultMaxKeyLength    = 255
	defaultMaxValueLength  = 2 << 20
	defaultBuildBatchSize  = 32 << 10
	defaultBuildQueueDepth = 4096
	defaultListBatchSize   = 256
	defaultAsyncQueueDepth = 1024
)

// DefaultConfig returns a configuration with listing and read cache enabled and no containers
func DefaultConfig() Config {
	return Config{
		ListingEnabled:          true,
		NumListingShards:        defaultListingShards,
		HierarchicalDelimiter:   "/",
		WaitForIndexBuildOnOpen: true,
		IndexBuildBatchSize:     defaultBuildBatchSize,
		IndexBuildQueueDepth:    defaultBuildQueueDepth,
		ListBatchSize:           defaultListBatchSize,
		ReadCacheEnabled:        true,
		NumCacheShards:          defaultCacheShards,
		CacheCapacity:           defaultCacheCapacity,
		CacheValueSizeThreshold: defaultCacheThreshold,
		SystemMetadataMarker:    ".nkv.sys",
		MaxKeyLength:            defaultMaxKeyLength,
		MaxValueLength:          defaultMaxValueLength,
		AsyncQueueDepth:         defaultAsyncQueueDepth,
		LogLevel:                "info",
	}
}

// LoadConfig reads a YAML or JSON config file. Fields missing in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML (or JSON, which is valid YAML) config data
func ParseConfig(data []byte) (Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return DecodeConfig(raw)
}

// DecodeConfig decodes a generic map (config file, viper settings) into a Config.
// Values are weakly typed, so "64" and 64 are both accepted for numbers.
func DecodeConfig(raw map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults replaces zero values with their defaults
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.NumListingShards <= 0 {
		c.NumListingShards = d.NumListingShards
	}
	if c.HierarchicalDelimiter == "" {
		c.HierarchicalDelimiter = d.HierarchicalDelimiter
	}
	if c.IndexBuildBatchSize <= 0 {
		c.IndexBuildBatchSize = d.IndexBuildBatchSize
	}
	if c.IndexBuildQueueDepth <= 0 {
		c.IndexBuildQueueDepth = d.IndexBuildQueueDepth
	}
	if c.ListBatchSize <= 0 {
		c.ListBatchSize = d.ListBatchSize
	}
	if c.NumCacheShards <= 0 {
		c.NumCacheShards = d.NumCacheShards
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = d.MaxKeyLength
	}
	if c.MaxValueLength <= 0 {
		c.MaxValueLength = d.MaxValueLength
	}
	if c.AsyncQueueDepth <= 0 {
		c.AsyncQueueDepth = d.AsyncQueueDepth
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	for i := range c.Containers {
		for j := range c.Containers[i].Paths {
			if c.Containers[i].Paths[j].Kind == "" {
				c.Containers[i].Paths[j].Kind = PathKindMemdev
			}
		}
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if len(c.HierarchicalDelimiter) != 1 {
		return fmt.Errorf("%w: hierarchical_delimiter must be a single character, got %q", ErrInvalidConfig, c.HierarchicalDelimiter)
	}
	if c.MaxPathsToIteratePerContainer < 0 {
		return fmt.Errorf("%w: max_paths_to_iterate_per_container must not be negative", ErrInvalidConfig)
	}
	if c.IndexBuildRateLimit < 0 {
		return fmt.Errorf("%w: index_build_rate_limit must not be negative", ErrInvalidConfig)
	}
	if c.CacheValueSizeThreshold < 0 {
		return fmt.Errorf("%w: cache_value_size_threshold must not be negative", ErrInvalidConfig)
	}
	if len(c.IterationPrefixFilter) > c.MaxKeyLength {
		return fmt.Errorf("%w: iteration_prefix_filter is longer than max_key_length", ErrInvalidConfig)
	}

	containers := make(map[string]bool)
	for _, cc := range c.Containers {
		if cc.Name == "" {
			return fmt.Errorf("%w: container without name", ErrInvalidConfig)
		}
		if containers[cc.Name] {
			return fmt.Errorf("%w: duplicate container %q", ErrInvalidConfig, cc.Name)
		}
		containers[cc.Name] = true

		if len(cc.Paths) == 0 {
			return fmt.Errorf("%w: container %q has no paths", ErrInvalidConfig, cc.Name)
		}
		addresses := make(map[string]bool)
		for _, p := range cc.Paths {
			if p.Address == "" {
				return fmt.Errorf("%w: container %q has a path without address", ErrInvalidConfig, cc.Name)
			}
			if addresses[p.Address] {
				return fmt.Errorf("%w: container %q has duplicate path %q", ErrInvalidConfig, cc.Name, p.Address)
			}
			addresses[p.Address] = true

			switch p.Kind {
			case PathKindMemdev:
			case PathKindRemote:
				if p.Endpoint == "" {
					return fmt.Errorf("%w: remote path %q needs an endpoint", ErrInvalidConfig, p.Address)
				}
			default:
				return fmt.Errorf("%w: path %q has unknown kind %q", ErrInvalidConfig, p.Address, p.Kind)
			}
		}
	}
	return nil
}

// Delimiter returns the hierarchical delimiter as a byte
func (c *Config) Delimiter() byte {
	return c.HierarchicalDelimiter[0]
}

// String returns a formatted overview of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name string, value interface{}) {
		sb.WriteString(fmt.Sprintf("  %-30s: %v\n", name, value))
	}

	addSection("Listing")
	addField("Enabled", c.ListingEnabled)
	addField("Shards", c.NumListingShards)
	addField("Prefix Filter", fmt.Sprintf("%q", c.IterationPrefixFilter))
	addField("Delimiter", fmt.Sprintf("%q", c.HierarchicalDelimiter))
	addField("Wait For Index On Open", c.WaitForIndexBuildOnOpen)
	addField("Max Paths Per Container", c.MaxPathsToIteratePerContainer)
	addField("Build Rate Limit (batches/s)", c.IndexBuildRateLimit)

	addSection("Read Cache")
	addField("Enabled", c.ReadCacheEnabled)
	addField("Negative Entries", c.NegativeCacheEnabled)
	addField("Shards", c.NumCacheShards)
	addField("Capacity Per Shard", c.CacheCapacity)
	addField("Value Size Threshold", c.CacheValueSizeThreshold)
	addField("System Marker", c.SystemMetadataMarker)

	addSection("Limits")
	addField("Max Key Length", c.MaxKeyLength)
	addField("Max Value Length", c.MaxValueLength)

	addSection("Containers")
	for _, cc := range c.Containers {
		for _, p := range cc.Paths {
			target := p.DataFile
			if p.Remote() {
				target = fmt.Sprintf("%s://%s#%d", p.Transport, p.Endpoint, p.TargetID)
			}
			addField(cc.Name+"/"+p.Address, fmt.Sprintf("%s %s", p.Kind, target))
		}
	}
	return sb.String()
}
