package nkv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/nkv/lib/cache"
	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/util"
	"github.com/ValentinKolb/nkv/lib/listing"
	"github.com/ValentinKolb/nkv/lib/lockmgr"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("nkv")

// gate counts in-flight calls so Close can wait for them
type gate struct {
	mu     sync.RWMutex
	closed bool
}

func (g *gate) enter() bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *gate) leave() {
	g.mu.RUnlock()
}

// close waits for all in-flight calls and rejects new ones
func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Instance is an open nKV library instance. All state lives here; there are no package globals
// besides loggers.
type Instance struct {
	cfg        Config
	containers []*Container
	byName     map[string]*Container
	paths      map[uint64]*Path
	metrics    *instanceMetrics
	gate       gate
	closed     atomic.Bool
}

type openOptions struct {
	waitForIndex *bool
	registry     gometrics.Registry
}

// OpenOption modifies Open
type OpenOption func(*openOptions)

// WithWaitForIndex overrides wait_for_index_build_on_open
func WithWaitForIndex(wait bool) OpenOption {
	return func(o *openOptions) { o.waitForIndex = &wait }
}

// WithRegistry records operation latencies into registry instead of a private one
func WithRegistry(registry gometrics.Registry) OpenOption {
	return func(o *openOptions) { o.registry = registry }
}

// Open opens every path of cfg with opener and starts the index builds.
// If wait_for_index_build_on_open is set Open returns once every index is warm, otherwise the
// builds continue in the background.
func Open(cfg Config, opener DeviceOpener, opts ...OpenOption) (*Instance, error) {
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Containers) == 0 {
		return nil, fmt.Errorf("%w: no containers configured", ErrInvalidConfig)
	}
	if opener == nil {
		opener = MemdevOpener
	}

	in := &Instance{
		cfg:     cfg,
		byName:  make(map[string]*Container),
		paths:   make(map[uint64]*Path),
		metrics: newInstanceMetrics(o.registry),
	}

	for _, cc := range in.cfg.Containers {
		c := &Container{
			Name: cc.Name,
			Hash: uint64(util.HashString(cc.Name, 0)),
			inst: in,
		}
		for _, pc := range cc.Paths {
			dev, err := opener(cc, pc)
			if err != nil {
				in.closePaths()
				return nil, fmt.Errorf("open path %s/%s: %w", cc.Name, pc.Address, err)
			}
			p := in.newPath(c, pc, dev)
			c.paths = append(c.paths, p)
			in.paths[p.Hash] = p
		}
		in.containers = append(in.containers, c)
		in.byName[c.Name] = c
	}

	for _, p := range in.allPaths() {
		if p.builder != nil {
			p.builder.Start()
		}
	}

	wait := in.cfg.WaitForIndexBuildOnOpen
	if o.waitForIndex != nil {
		wait = *o.waitForIndex
	}
	if wait {
		for _, p := range in.allPaths() {
			if p.builder == nil {
				continue
			}
			if err := p.builder.Wait(context.Background()); err != nil {
				log.Warningf("index of %s/%s is incomplete: %v", p.container.Name, p.Address, err)
			}
		}
	}

	log.Infof("nkv instance open: %d containers, %d paths", len(in.containers), len(in.paths))
	return in, nil
}

func (in *Instance) newPath(c *Container, pc PathConfig, dev device.IDevice) *Path {
	p := &Path{
		Hash:      uint64(util.HashString(c.Name+"/"+pc.Address, 0)),
		Address:   pc.Address,
		Kind:      pc.Kind,
		inst:      in,
		container: c,
		cfg:       &in.cfg,
		dev:       dev,
		locks:     lockmgr.NewLockManager(dev),
	}
	if in.cfg.ListingEnabled && !pc.Remote() {
		p.index = listing.New(in.cfg.NumListingShards)
	}
	if in.cfg.ReadCacheEnabled {
		p.cache = cache.New(in.cfg.NumCacheShards, in.cfg.CacheCapacity)
	}
	if p.index != nil && dev.SupportsFeature(device.FeatureIterate) {
		p.builder = newIndexBuilder(p)
	}
	p.metrics = in.metrics.forPath(p)
	p.async = newAsyncWorker(p, in.cfg.AsyncQueueDepth)
	return p
}

func (in *Instance) allPaths() []*Path {
	var out []*Path
	for _, c := range in.containers {
		out = append(out, c.paths...)
	}
	return out
}

// Config returns the configuration the instance was opened with
func (in *Instance) Config() Config {
	return in.cfg
}

// Container returns the container with the given name
func (in *Instance) Container(name string) (*Container, error) {
	c, ok := in.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContainer, name)
	}
	return c, nil
}

// Containers returns all containers in configuration order
func (in *Instance) Containers() []*Container {
	return append([]*Container(nil), in.containers...)
}

// Path returns the path with the given hash
func (in *Instance) Path(hash uint64) (*Path, bool) {
	p, ok := in.paths[hash]
	return p, ok
}

// WaitIndex blocks until every index build has finished or ctx is done.
// Builds that ended on an error are reported together, one wrapped error per path.
func (in *Instance) WaitIndex(ctx context.Context) error {
	var errs []error
	for _, p := range in.allPaths() {
		if p.builder == nil {
			continue
		}
		if err := p.builder.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, fmt.Errorf("index build of %s/%s: %w", p.container.Name, p.Address, err))
		}
	}
	return errors.Join(errs...)
}

// WritePrometheus writes the instance counters and gauges in Prometheus text format
func (in *Instance) WritePrometheus(w io.Writer) {
	in.metrics.WritePrometheus(w)
}

// Close stops the index builds, completes queued asynchronous operations, waits for in-flight
// calls and closes every device.
func (in *Instance) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return ErrNotOpen
	}
	paths := in.allPaths()
	for _, p := range paths {
		if p.builder != nil {
			p.builder.Stop()
		}
	}
	for _, p := range paths {
		p.async.close()
	}
	in.gate.close()

	err := in.closePaths()
	log.Infof("nkv instance closed")
	return err
}

// closePaths releases index, cache and device of every opened path
func (in *Instance) closePaths() error {
	var errs []error
	for _, p := range in.paths {
		if p.builder != nil {
			p.builder.Stop()
		}
		p.async.close()
		if p.index != nil {
			_ = p.index.Close()
		}
		if p.cache != nil {
			_ = p.cache.Close()
		}
		if err := p.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s/%s: %w", p.container.Name, p.Address, err))
		}
	}
	return errors.Join(errs...)
}
