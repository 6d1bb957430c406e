package capture

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DeviceLocks hands out exclusive access to capture devices. Sessions on
// the same device run one after another.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewDeviceLocks creates an empty lock table.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (d *DeviceLocks) lock(device string) *semaphore.Weighted {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.locks[device]
	if !ok {
		sem = semaphore.NewWeighted(1)
		d.locks[device] = sem
	}
	return sem
}

// Acquire blocks until device is free or ctx is done. The returned function
// releases the device.
func (d *DeviceLocks) Acquire(ctx context.Context, device string) (func(), error) {
	sem := d.lock(device)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for device %s: %w", device, err)
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// Exclusive wraps an opener so the returned source holds the device lock
// until it is closed.
func (d *DeviceLocks) Exclusive(device string, open Opener) Opener {
	return func(ctx context.Context) (FrameSource, error) {
		release, err := d.Acquire(ctx, device)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		src, err := open(ctx)
		if err != nil {
			release()
			return nil, err
		}
		return &lockedSource{FrameSource: src, release: release}, nil
	}
}

type lockedSource struct {
	FrameSource
	release func()
}

func (s *lockedSource) Close() error {
	defer s.release()
	return s.FrameSource.Close()
}
