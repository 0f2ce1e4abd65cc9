package freedisk

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/illarion/freedisk/internal/logger"
)

// waitFor polls ready until it reports true, the controller timeout expires
// or ctx is cancelled. Polls are paced by a rate limiter. On a real
// filesystem an fsnotify watch on the parent directory wakes the loop early.
func (c *Controller) waitFor(ctx context.Context, path string, ready func() (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if c.watch {
		if w, err := fsnotify.NewWatcher(); err == nil {
			defer w.Close()
			if err := w.Add(filepath.Dir(path)); err == nil {
				events, errs = w.Events, w.Errors
			} else {
				logger.Debug("cannot watch %s: %v", filepath.Dir(path), err)
			}
		}
	}

	for attempt := 1; ; attempt++ {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == 1 {
			logger.Info("waiting for %s", path)
		} else {
			logger.Debug("waiting for %s (attempt %d)", path, attempt)
		}

		if events == nil {
			if err := limiter.Wait(waitCtx); err != nil {
				// the next poll would land past the deadline
				<-waitCtx.Done()
				return c.lastLook(ctx, path, ready)
			}
			continue
		}

		delay := time.NewTimer(limiter.Reserve().Delay())
		select {
		case ev := <-events:
			logger.Debug("fsnotify: %s", ev)
		case err := <-errs:
			logger.Debug("fsnotify: %v", err)
		case <-delay.C:
		case <-waitCtx.Done():
			delay.Stop()
			return c.lastLook(ctx, path, ready)
		}
		delay.Stop()
	}
}

// lastLook checks ready once more at the deadline before giving up.
func (c *Controller) lastLook(ctx context.Context, path string, ready func() (bool, error)) error {
	if ctx.Err() == nil {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return c.waitErr(ctx, path)
}

// waitErr reports cancellation of the caller's context as is, anything
// else as a timeout.
func (c *Controller) waitErr(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s did not appear within %s", ErrMountTimeout, path, c.timeout)
}

// readWhenReady waits until path can be read and returns its contents.
// freenetfs answers key requests lazily, so read errors count as not ready.
func (c *Controller) readWhenReady(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := c.waitFor(ctx, path, func() (bool, error) {
		b, err := afero.ReadFile(c.fs, path)
		if err != nil {
			logger.Debug("read %s: %v", path, err)
			return false, nil
		}
		data = b
		return true, nil
	})
	return data, err
}
