package downloader

import (
	"context"
	"log/slog"

	"github.com/tealfox/offliner/internal/data"
)

// noopDownloader completes every operation immediately without touching the
// network. Useful for wiring checks and dry runs.
type noopDownloader struct {
	action *data.Action
	log    *slog.Logger
}

// NewNoopFactory returns a Factory producing no-op downloaders.
func NewNoopFactory(l *slog.Logger) Factory {
	if l == nil {
		l = slog.Default()
	}
	return FactoryFunc(func(a *data.Action) Downloader {
		return &noopDownloader{action: a, log: l}
	})
}

func (d *noopDownloader) Download(ctx context.Context) error {
	d.log.Info("noop: download", "id", d.action.ID)
	return nil
}

func (d *noopDownloader) Remove(ctx context.Context) error {
	d.log.Info("noop: remove", "id", d.action.ID)
	return nil
}

func (d *noopDownloader) Cancel() {}

func (d *noopDownloader) DownloadPercentage() float32 { return 100 }

func (d *noopDownloader) DownloadedBytes() int64 { return 0 }

func (d *noopDownloader) TotalBytes() int64 { return data.LengthUnset }

var _ Downloader = (*noopDownloader)(nil)
