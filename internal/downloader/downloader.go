package downloader

import (
	"context"

	"github.com/tealfox/offliner/internal/data"
)

// Downloader performs the transfer or removal for exactly one action.
//
// Download and Remove block until done, cancelled, or failed. Cancel is
// idempotent and safe to call from any goroutine; a cancelled Download or
// Remove should return promptly. The progress getters are read by the
// coordinator while a transfer is running, so implementations must make
// them safe under concurrent updates (atomics, not caller-side locks).
type Downloader interface {
	Download(ctx context.Context) error
	Remove(ctx context.Context) error
	Cancel()
	DownloadPercentage() float32
	DownloadedBytes() int64
	TotalBytes() int64
}

// Factory produces a Downloader bound to one action.
type Factory interface {
	NewDownloader(a *data.Action) Downloader
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(a *data.Action) Downloader

func (f FactoryFunc) NewDownloader(a *data.Action) Downloader { return f(a) }
