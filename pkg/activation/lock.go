package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// deviceLock guards one device against two concurrent activation runs (or
// an activation run racing a manual `gpt show`), combining in-process
// exclusion (a size-1 channel) with cross-process exclusion (flock(2) via
// a fresh fd per acquisition).
type deviceLock struct {
	path string
	ch   chan struct{}
	fl   *flock.Flock
}

func newDeviceLock(path string) *deviceLock {
	return &deviceLock{path: path, ch: make(chan struct{}, 1)}
}

func (l *deviceLock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire activation lock %s: %w", l.path, ctx.Err())
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		<-l.ch
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	}
	if !ok {
		<-l.ch
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	l.fl = fl
	return nil
}

func (l *deviceLock) Unlock() error {
	var err error
	if l.fl != nil {
		err = l.fl.Unlock()
		l.fl = nil
	}
	select {
	case <-l.ch:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}
