package manager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/downloader"
	"github.com/tealfox/offliner/internal/metrics"
)

// worker runs exactly one downloader invocation off the coordinating
// goroutine: a download with the retry loop, or a removal straight through.
type worker struct {
	m        *Manager
	task     *task
	dlr      downloader.Downloader
	isRemove bool

	canceled  atomic.Bool
	ctx       context.Context
	cancelCtx context.CancelFunc
}

func newWorker(m *Manager, t *task, dlr downloader.Downloader, isRemove bool) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{m: m, task: t, dlr: dlr, isRemove: isRemove, ctx: ctx, cancelCtx: cancel}
}

// cancel flags the worker, asks the downloader to stop, and interrupts any
// backoff sleep or blocking call. Safe to call more than once.
func (w *worker) cancel() {
	w.canceled.Store(true)
	w.dlr.Cancel()
	w.cancelCtx()
}

func (w *worker) run() {
	var err error
	if w.isRemove {
		err = w.dlr.Remove(w.ctx)
	} else {
		err = w.download()
	}
	w.m.post(func() { w.m.onWorkerStopped(w, err) })
}

// download retries recoverable failures as long as the byte offset keeps
// advancing; once the same offset fails more than minRetryCount times in a
// row the last error is surfaced as terminal. A cancelled run reports no
// error: the coordinator decides what happens next from the cancel flag.
func (w *worker) download() error {
	errorCount := 0
	errorPosition := data.LengthUnset
	for !w.canceled.Load() {
		err := w.dlr.Download(w.ctx)
		if err == nil || w.canceled.Load() {
			return nil
		}
		downloadedBytes := w.dlr.DownloadedBytes()
		if downloadedBytes != errorPosition {
			errorPosition = downloadedBytes
			errorCount = 0
		}
		errorCount++
		if errorCount > w.m.minRetryCount {
			return err
		}
		metrics.DownloadRetries.Inc()
		w.m.log.Debug("download error, retrying",
			"id", w.task.id(), "attempt", errorCount, "offset", downloadedBytes, "err", err)
		if !w.sleep(w.m.retryDelay(errorCount)) {
			return nil
		}
	}
	return nil
}

// sleep waits out the backoff delay, returning false if the worker was
// cancelled in the meantime.
func (w *worker) sleep(d time.Duration) bool {
	if d <= 0 {
		return !w.canceled.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func defaultRetryDelay(errorCount int) time.Duration {
	d := time.Duration(errorCount-1) * time.Second
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
