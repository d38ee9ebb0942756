package nkv

import (
	"time"

	"github.com/ValentinKolb/nkv/lib/device/util"
)

// Container is a logical target made of one or more paths.
// Keys are spread over the paths by hash; listings walk all paths.
type Container struct {
	Name  string
	Hash  uint64
	inst  *Instance
	paths []*Path
}

// Paths returns the paths of the container in configuration order
func (c *Container) Paths() []*Path {
	return append([]*Path(nil), c.paths...)
}

// PathFor returns the path responsible for key
func (c *Container) PathFor(key string) *Path {
	return c.paths[util.ShardIndex(util.HashString(key, 0), len(c.paths))]
}

// Store writes value under key on the path responsible for key
func (c *Container) Store(key string, value []byte, opts StoreOptions) error {
	return c.PathFor(key).Store(key, value, opts)
}

// Retrieve reads key into buf, see Path.Retrieve
func (c *Container) Retrieve(key string, buf []byte) (int, error) {
	return c.PathFor(key).Retrieve(key, buf)
}

// Delete removes key
func (c *Container) Delete(key string) error {
	return c.PathFor(key).Delete(key)
}

// Exists reports whether key is present
func (c *Container) Exists(key string) (bool, error) {
	return c.PathFor(key).Exists(key)
}

// LockKVP takes the lock for key, see Path.LockKVP
func (c *Container) LockKVP(key string, timeout time.Duration) (bool, []byte, error) {
	return c.PathFor(key).LockKVP(key, timeout)
}

// UnlockKVP releases a lock taken with LockKVP
func (c *Container) UnlockKVP(key string, owner []byte) (bool, error) {
	return c.PathFor(key).UnlockKVP(key, owner)
}

// List writes the next keys of the enumeration into out and returns how many were written.
//
// Pass a nil iterator to start. If next is not nil more keys are pending and List must be called
// again with next; the old handle is consumed. A nil next means the enumeration is complete.
// If a key does not fit into its slot, ErrBufferTooSmall is returned together with the keys
// that did fit and a continuation handle; the key is returned first on the next call.
// Any other error ends the enumeration.
func (c *Container) List(it *Iterator, opts ListOptions, out []Slot) (n int, next *Iterator, err error) {
	if !c.inst.gate.enter() {
		return 0, nil, ErrNotOpen
	}
	defer c.inst.gate.leave()
	return list(c, c.paths, it, opts, out)
}

// ListAll runs a complete enumeration with pages of pageSize slots of slotSize bytes
func (c *Container) ListAll(opts ListOptions, pageSize, slotSize int) ([]string, error) {
	slots := NewSlots(pageSize, slotSize)
	var (
		keys []string
		it   *Iterator
	)
	for {
		n, next, err := c.List(it, opts, slots)
		keys = append(keys, Keys(slots, n)...)
		if err != nil {
			next.Close()
			return keys, err
		}
		if next == nil {
			return keys, nil
		}
		it = next
	}
}
