package nkv

import (
	"fmt"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
)

// DeviceOpener opens the device of one path. It is called once per path by Open.
// Remote paths need an opener that knows the RPC stack (see cmd/util).
type DeviceOpener func(container ContainerConfig, path PathConfig) (device.IDevice, error)

// MemdevOpener opens memdev paths and rejects every other kind
func MemdevOpener(_ ContainerConfig, path PathConfig) (device.IDevice, error) {
	if path.Kind != PathKindMemdev {
		return nil, fmt.Errorf("%w: path %q of kind %q needs a remote opener", ErrInvalidConfig, path.Address, path.Kind)
	}
	return memdev.NewMemDevice(&memdev.Options{
		NumShards: path.NumShards,
		DataFile:  path.DataFile,
	})
}
