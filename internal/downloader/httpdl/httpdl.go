package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/downloader"
)

// CollisionPolicy defines how to handle an existing target file.
// Values: "error" | "overwrite" | "rename".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// ParseCollisionPolicy converts a string to a CollisionPolicy with default.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionRename:
		return CollisionRename
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

var ErrTargetExists = errors.New("target file already exists")

type fsOps interface {
	Remove(string) error
	Rename(string, string) error
	Stat(string) (os.FileInfo, error)
}

type osFS struct{}

func (osFS) Remove(p string) error              { return os.Remove(p) }
func (osFS) Rename(o, n string) error           { return os.Rename(o, n) }
func (osFS) Stat(p string) (os.FileInfo, error) { return os.Stat(p) }

// Factory produces HTTP downloaders writing into one target directory.
type Factory struct {
	dir    string
	client *http.Client
	policy CollisionPolicy
	log    *slog.Logger
}

// NewFactory creates a Factory. A nil client falls back to a default with a
// generous timeout suitable for large transfers.
func NewFactory(dir string, client *http.Client, policy CollisionPolicy, l *slog.Logger) *Factory {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	if l == nil {
		l = slog.Default()
	}
	return &Factory{dir: dir, client: client, policy: policy, log: l}
}

func (f *Factory) NewDownloader(a *data.Action) downloader.Downloader {
	return &Downloader{
		action: a,
		client: f.client,
		dir:    f.dir,
		policy: f.policy,
		log:    f.log.With("id", a.ID),
		fs:     osFS{},
	}
}

var _ downloader.Factory = (*Factory)(nil)

// Downloader transfers one URI to disk over HTTP with range-based resume.
// Progress counters are atomics so the coordinator can read them while the
// transfer goroutine is writing.
type Downloader struct {
	action *data.Action
	client *http.Client
	dir    string
	policy CollisionPolicy
	log    *slog.Logger
	fs     fsOps

	downloaded atomic.Int64
	total      atomic.Int64

	mu       sync.Mutex
	cancelFn context.CancelFunc
	canceled bool
}

var _ downloader.Downloader = (*Downloader)(nil)

func (d *Downloader) Download(ctx context.Context) error {
	ctx, err := d.arm(ctx)
	if err != nil {
		return err
	}
	target := d.targetPath()
	part := target + ".part"

	offset := int64(0)
	if fi, err := d.fs.Stat(part); err == nil {
		offset = fi.Size()
	}
	d.downloaded.Store(offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.action.URI, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
		d.downloaded.Store(0)
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, d.action.URI)
	}
	if resp.ContentLength >= 0 {
		d.total.Store(offset + resp.ContentLength)
	} else {
		d.total.Store(data.LengthUnset)
	}

	if err := os.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}
	if err := d.copyBody(ctx, f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return d.finalize(part, target)
}

func (d *Downloader) copyBody(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			d.downloaded.Add(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *Downloader) finalize(part, target string) error {
	if _, err := d.fs.Stat(target); err == nil {
		switch d.policy {
		case CollisionOverwrite:
			if err := d.fs.Remove(target); err != nil {
				return err
			}
		case CollisionRename:
			target = renamedTarget(d.fs, target)
		default:
			return fmt.Errorf("%w: %s", ErrTargetExists, target)
		}
	}
	if err := d.fs.Rename(part, target); err != nil {
		return err
	}
	d.log.Info("download complete", "target", target, "bytes", d.downloaded.Load())
	return nil
}

func renamedTarget(fs fsOps, target string) string {
	ext := filepath.Ext(target)
	base := target[:len(target)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := fs.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// Remove deletes the target file and any partial sidecar. Missing files are
// not errors; Remove is idempotent.
func (d *Downloader) Remove(ctx context.Context) error {
	if _, err := d.arm(ctx); err != nil {
		return err
	}
	target := d.targetPath()
	for _, p := range []string{target, target + ".part"} {
		if err := d.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	d.log.Info("removed", "target", target)
	return nil
}

func (d *Downloader) Cancel() {
	d.mu.Lock()
	d.canceled = true
	cancel := d.cancelFn
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Downloader) DownloadPercentage() float32 {
	total := d.total.Load()
	if total <= 0 {
		return data.PercentageUnset
	}
	return float32(d.downloaded.Load()) / float32(total) * 100
}

func (d *Downloader) DownloadedBytes() int64 { return d.downloaded.Load() }

func (d *Downloader) TotalBytes() int64 {
	if v := d.total.Load(); v > 0 {
		return v
	}
	return data.LengthUnset
}

// arm installs a cancel func for the upcoming blocking call, honoring a
// Cancel that happened before the call started.
func (d *Downloader) arm(ctx context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.canceled {
		return nil, context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFn = cancel
	return ctx, nil
}

// targetPath derives the on-disk location for the action. The cache key
// wins when set; otherwise the URI path's base name is used.
func (d *Downloader) targetPath() string {
	name := d.action.CacheKey
	if name == "" {
		if u, err := url.Parse(d.action.URI); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = d.action.ID
	}
	return filepath.Join(d.dir, name)
}
