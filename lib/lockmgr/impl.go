package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	dev       device.IDevice
	namespace string
	now       func() time.Time
}

// NewLockManager creates a lock manager that keeps its lock records on dev under DefaultNamespace
func NewLockManager(dev device.IDevice) ILockManager {
	return newLockManager(dev, DefaultNamespace, time.Now)
}

func newLockManager(dev device.IDevice, namespace string, now func() time.Time) *lockMgrImpl {
	return &lockMgrImpl{
		dev:       dev,
		namespace: namespace,
		now:       now,
	}
}

func (lm *lockMgrImpl) recordKey(key string) string {
	return lm.namespace + key
}

func (lm *lockMgrImpl) AcquireLock(key string, timeout time.Duration) (bool, []byte, error) {
	if key == "" {
		return false, nil, device.NewError(device.StatusInvalidArgument, "lock key must not be empty")
	}

	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	rec := lockRecord{owner: ownerID}
	if timeout > 0 {
		rec.expiresAt = lm.now().Add(timeout)
	}

	// two attempts: the second one runs after an expired record was removed
	for attempt := 0; attempt < 2; attempt++ {
		err = lm.dev.Store(lm.recordKey(key), rec.encode(), device.StoreOptions{Idempotent: true})
		if err == nil {
			return true, ownerID, nil
		}
		if device.StatusOf(err) != device.StatusKeyExists {
			return false, nil, err
		}

		current, found, err := lm.load(key)
		if err != nil {
			return false, nil, err
		}
		if !found {
			// released in the meantime
			continue
		}
		if !current.expired(lm.now()) {
			return false, nil, nil
		}

		log.Debugf("lock %q of owner %s expired, removing it", key, OwnerString(current.owner))
		if err := lm.dev.Delete(lm.recordKey(key)); err != nil && !device.IsNotFound(err) {
			return false, nil, err
		}
	}
	return false, nil, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	current, found, err := lm.load(key)
	if err != nil || !found {
		return err == nil, err
	}

	if !bytes.Equal(ownerID, current.owner) {
		return false, nil
	}

	err = lm.dev.Delete(lm.recordKey(key))
	if device.IsNotFound(err) {
		return true, nil
	}
	return err == nil, err
}

// load reads the lock record of key
func (lm *lockMgrImpl) load(key string) (lockRecord, bool, error) {
	buf := make([]byte, recordLength)
	n, err := lm.dev.Retrieve(lm.recordKey(key), buf)
	switch {
	case device.IsNotFound(err):
		return lockRecord{}, false, nil
	case device.StatusOf(err) == device.StatusBufferTooSmall:
		return lockRecord{}, false, device.Errorf(device.StatusInternal, "lock record for %q is corrupt (%d bytes)", key, n)
	case err != nil:
		return lockRecord{}, false, err
	}
	rec, err := decodeRecord(buf[:n])
	if err != nil {
		return lockRecord{}, false, device.NewError(device.StatusInternal, err.Error())
	}
	return rec, true, nil
}
