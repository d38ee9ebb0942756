package nkv

import (
	"strings"
	"time"

	"github.com/ValentinKolb/nkv/lib/cache"
	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/listing"
	"github.com/ValentinKolb/nkv/lib/lockmgr"
)

// StoreOptions modifies a single store
type StoreOptions struct {
	// Idempotent makes the store fail with ErrKeyExists if the key is already present
	Idempotent bool
}

// Path is one device of a container together with its listing index, read cache and index builder.
//
// Thread-safety: All exported methods are thread-safe.
type Path struct {
	Hash    uint64
	Address string
	Kind    string

	inst      *Instance
	container *Container
	cfg       *Config
	dev       device.IDevice
	index     *listing.Index       // nil if the path has no local index
	cache     *cache.Cache         // nil if the read cache is disabled
	builder   *IndexBuilder        // nil if the index is not built from the device
	async     *asyncWorker
	locks     lockmgr.ILockManager
	metrics   *pathMetrics
}

// Device returns the device of the path
func (p *Path) Device() device.IDevice {
	return p.dev
}

// Container returns the container the path belongs to
func (p *Path) Container() *Container {
	return p.container
}

// HasIndex reports whether listings of this path can be answered from a local index
func (p *Path) HasIndex() bool {
	return p.index != nil
}

// IndexReady reports whether the initial index build has finished.
// Paths without index builder are always ready.
func (p *Path) IndexReady() bool {
	return p.builder == nil || p.builder.Done()
}

// Builder returns the index builder of the path, or nil
func (p *Path) Builder() *IndexBuilder {
	return p.builder
}

// --------------------------------------------------------------------------
// Validation and eligibility
// --------------------------------------------------------------------------

func (p *Path) validateKey(key string) error {
	switch {
	case key == "":
		return ErrKeyEmpty
	case len(key) > p.cfg.MaxKeyLength:
		return ErrKeyTooLong
	}
	return nil
}

func (p *Path) validateValue(value []byte) error {
	switch {
	case len(value) == 0:
		return ErrValueEmpty
	case len(value) > p.cfg.MaxValueLength:
		return ErrValueTooLong
	}
	return nil
}

// matchesListingPrefix reports whether key belongs to the listed namespace
func (p *Path) matchesListingPrefix(key string) bool {
	return strings.HasPrefix(key, p.cfg.IterationPrefixFilter)
}

// systemKey reports whether key holds system metadata (never cached, never indexed)
func (p *Path) systemKey(key string) bool {
	return (p.cfg.SystemMetadataMarker != "" && strings.Contains(key, p.cfg.SystemMetadataMarker)) || isLockRecord(key)
}

// isLockRecord reports whether key is a lock record of the lock manager
func isLockRecord(key string) bool {
	return strings.HasPrefix(key, lockmgr.DefaultNamespace)
}

// indexable reports whether stores and deletes of key maintain the index
func (p *Path) indexable(key string) bool {
	return p.index != nil && p.matchesListingPrefix(key) && !isLockRecord(key)
}

// cacheable reports whether a value of the given length may be cached for key
func (p *Path) cacheable(key string, valueLen int) bool {
	if p.cache == nil || p.systemKey(key) {
		return false
	}
	return p.matchesListingPrefix(key) || valueLen < p.cfg.CacheValueSizeThreshold
}

// negativeCacheable reports whether a confirmed miss of key may be remembered
func (p *Path) negativeCacheable(key string) bool {
	return p.cache != nil && p.cfg.NegativeCacheEnabled && !p.systemKey(key) && p.matchesListingPrefix(key)
}

func (p *Path) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: p.Address, Key: key, Err: err}
}

// --------------------------------------------------------------------------
// Public operations
// --------------------------------------------------------------------------

// Store writes value under key
func (p *Path) Store(key string, value []byte, opts StoreOptions) error {
	if !p.inst.gate.enter() {
		return ErrNotOpen
	}
	defer p.inst.gate.leave()
	return p.store(key, value, opts)
}

// Retrieve copies the value of key into buf and returns its actual length.
// If buf is too short, the first len(buf) bytes are copied and ErrBufferTooSmall is returned with the actual length.
func (p *Path) Retrieve(key string, buf []byte) (int, error) {
	if !p.inst.gate.enter() {
		return 0, ErrNotOpen
	}
	defer p.inst.gate.leave()
	return p.retrieve(key, buf)
}

// Delete removes key
func (p *Path) Delete(key string) error {
	if !p.inst.gate.enter() {
		return ErrNotOpen
	}
	defer p.inst.gate.leave()
	return p.delete(key)
}

// Exists reports whether key is present
func (p *Path) Exists(key string) (bool, error) {
	if !p.inst.gate.enter() {
		return false, ErrNotOpen
	}
	defer p.inst.gate.leave()
	return p.exists(key)
}

// List is the single path variant of Container.List
func (p *Path) List(it *Iterator, opts ListOptions, out []Slot) (int, *Iterator, error) {
	if !p.inst.gate.enter() {
		return 0, nil, ErrNotOpen
	}
	defer p.inst.gate.leave()
	return list(p.container, []*Path{p}, it, opts, out)
}

// LockKVP takes the lock for key on this path's device. See lockmgr for the semantics.
func (p *Path) LockKVP(key string, timeout time.Duration) (ok bool, owner []byte, err error) {
	if !p.inst.gate.enter() {
		return false, nil, ErrNotOpen
	}
	defer p.inst.gate.leave()

	start := time.Now()
	if err := p.validateKey(key); err != nil {
		return false, nil, p.wrap(opLock, key, err)
	}
	ok, owner, err = p.locks.AcquireLock(key, timeout)
	err = p.wrap(opLock, key, mapDeviceError(err))
	p.metrics.observe(opLock, start, err)
	return ok, owner, err
}

// UnlockKVP releases a lock taken with LockKVP
func (p *Path) UnlockKVP(key string, owner []byte) (bool, error) {
	if !p.inst.gate.enter() {
		return false, ErrNotOpen
	}
	defer p.inst.gate.leave()

	start := time.Now()
	ok, err := p.locks.ReleaseLock(key, owner)
	err = p.wrap(opUnlock, key, mapDeviceError(err))
	p.metrics.observe(opUnlock, start, err)
	return ok, err
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

func (p *Path) store(key string, value []byte, opts StoreOptions) (err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opStore, start, err) }()

	if err := p.validateKey(key); err != nil {
		return p.wrap(opStore, key, err)
	}
	if err := p.validateValue(value); err != nil {
		return p.wrap(opStore, key, err)
	}

	var ticket cache.Ticket
	if p.cache != nil {
		ticket = p.cache.BeginWrite(key)
	}

	if err := p.dev.Store(key, value, device.StoreOptions{Idempotent: opts.Idempotent}); err != nil {
		if p.cache != nil {
			_ = p.cache.FinishWrite(key, ticket, nil)
		}
		return p.wrap(opStore, key, mapDeviceError(err))
	}

	if p.indexable(key) {
		if err := p.index.InsertKey(key, p.cfg.Delimiter()); err != nil {
			p.metrics.indexErrors.Inc()
			if p.cache != nil {
				_ = p.cache.FinishWrite(key, ticket, nil)
			}
			return p.wrap(opStore, key, mapIndexError(err))
		}
	}

	if p.cache != nil {
		var entry *cache.Entry
		if p.cacheable(key, len(value)) {
			entry = &cache.Entry{Value: value, Length: len(value), ActualLength: len(value)}
		}
		if err := p.cache.FinishWrite(key, ticket, entry); err != nil {
			return p.wrap(opStore, key, mapIndexError(err))
		}
	}
	return nil
}

func (p *Path) retrieve(key string, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opRetrieve, start, err) }()

	if err := p.validateKey(key); err != nil {
		return 0, p.wrap(opRetrieve, key, err)
	}
	if len(buf) == 0 {
		return 0, p.wrap(opRetrieve, key, ErrValueEmpty)
	}

	var ticket cache.Ticket
	if p.cache != nil && !p.systemKey(key) {
		ticket = p.cache.Version(key)
		if e, ok := p.cache.Get(key); ok {
			p.metrics.cacheHits.Inc()
			if e.Negative {
				return 0, p.wrap(opRetrieve, key, ErrKeyNotFound)
			}
			copy(buf, e.Value[:e.Length])
			if len(buf) < e.ActualLength {
				return e.ActualLength, p.wrap(opRetrieve, key, ErrBufferTooSmall)
			}
			return e.ActualLength, nil
		}
		p.metrics.cacheMisses.Inc()
	}

	n, err = p.dev.Retrieve(key, buf)
	if err == nil && n == 0 {
		// some devices report success with a zero length on the first read
		n, err = p.dev.Retrieve(key, buf)
		if err == nil && n == 0 {
			return 0, p.wrap(opRetrieve, key, &DeviceError{Code: device.StatusInternal, Msg: "device returned an empty value twice"})
		}
	}

	if err != nil {
		if device.StatusOf(err) == device.StatusKeyNotFound && p.negativeCacheable(key) {
			p.cache.AddIfUnchanged(key, cache.NegativeEntry(), ticket)
		}
		return n, p.wrap(opRetrieve, key, mapDeviceError(err))
	}

	if p.cacheable(key, n) {
		// skipped if a store or delete of the shard overlapped this read
		p.cache.AddIfUnchanged(key, cache.Entry{Value: buf[:n], Length: n, ActualLength: n}, ticket)
	}
	return n, nil
}

func (p *Path) delete(key string) (err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opDelete, start, err) }()

	if err := p.validateKey(key); err != nil {
		return p.wrap(opDelete, key, err)
	}

	var ticket cache.Ticket
	if p.cache != nil {
		ticket = p.cache.BeginWrite(key)
		defer func() { _ = p.cache.FinishWrite(key, ticket, nil) }()
	}

	if err := p.dev.Delete(key); err != nil {
		return p.wrap(opDelete, key, mapDeviceError(err))
	}

	if p.indexable(key) {
		if err := p.index.RemoveKey(key, p.cfg.Delimiter()); err != nil {
			p.metrics.indexErrors.Inc()
			return p.wrap(opDelete, key, mapIndexError(err))
		}
	}
	return nil
}

func (p *Path) exists(key string) (ok bool, err error) {
	start := time.Now()
	defer func() { p.metrics.observe(opExists, start, err) }()

	if err := p.validateKey(key); err != nil {
		return false, p.wrap(opExists, key, err)
	}

	if p.cache != nil && !p.systemKey(key) {
		if e, hit := p.cache.Get(key); hit {
			p.metrics.cacheHits.Inc()
			return !e.Negative, nil
		}
		p.metrics.cacheMisses.Inc()
	}

	ok, err = p.dev.Exists(key)
	if err != nil {
		return false, p.wrap(opExists, key, mapDeviceError(err))
	}
	return ok, nil
}
