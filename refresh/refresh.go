// Package refresh keeps the on-disk static bundles current. On a schedule it
// downloads each sub-system's zip, re-expands it, and triggers an index
// rebuild once every bundle landed.
package refresh

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mtarail/railboard/system"
)

// ErrRefreshInProgress is returned when a refresh is already running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

const (
	defaultTimeout = 5 * time.Minute
	maxZipSize     = 512 << 20 // 512 MB
)

// Rebuilder is the index compiler's rebuild entry point.
type Rebuilder interface {
	Rebuild() error
}

// Source is one sub-system's static bundle: where to fetch it and where to
// expand it.
type Source struct {
	System system.System
	ZipURL string
	Dir    string

	// Cron is the refresh schedule for this source. Sources sharing an
	// expression refresh together.
	Cron string
}

// Orchestrator downloads and expands static bundles, then rebuilds the index.
// Only one refresh runs at a time; concurrent invocations are rejected.
type Orchestrator struct {
	Sources []Source
	Index   Rebuilder
	Log     *zap.Logger
	Timeout time.Duration

	// Download exists for tests; defaults to a plain HTTP GET.
	Download func(ctx context.Context, url string) ([]byte, error)

	running atomic.Bool
}

func (o *Orchestrator) log() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// Run refreshes every source and rebuilds the index. The target directories
// are only touched after all downloads succeed; a single failure leaves both
// the directories and the live index as they were.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.refresh(ctx, o.Sources)
}

func (o *Orchestrator) refresh(ctx context.Context, sources []Source) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer o.running.Store(false)

	archives := make([][]byte, len(sources))
	for i, src := range sources {
		data, err := o.download(ctx, src.ZipURL)
		if err != nil {
			return fmt.Errorf("downloading %s bundle: %w", src.System, err)
		}
		// Validate before touching any directory.
		if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
			return fmt.Errorf("reading %s bundle zip: %w", src.System, err)
		}
		archives[i] = data
		o.log().Info("downloaded static bundle",
			zap.String("system", string(src.System)), zap.Int("bytes", len(data)))
	}

	for i, src := range sources {
		if err := expand(archives[i], src.Dir); err != nil {
			return fmt.Errorf("expanding %s bundle: %w", src.System, err)
		}
	}

	if err := o.Index.Rebuild(); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	o.log().Info("static refresh complete", zap.Int("sources", len(sources)))
	return nil
}

// Schedule registers the sources' cron jobs on a new scheduler and starts it.
// Sources sharing a cron expression refresh in one batch.
func (o *Orchestrator) Schedule(ctx context.Context) (*cron.Cron, error) {
	groups := map[string][]Source{}
	for _, src := range o.Sources {
		if src.Cron == "" {
			return nil, fmt.Errorf("source %s has no cron expression", src.System)
		}
		groups[src.Cron] = append(groups[src.Cron], src)
	}

	c := cron.New()
	for spec, batch := range groups {
		batch := batch
		if _, err := c.AddFunc(spec, func() {
			if err := o.refresh(ctx, batch); err != nil {
				o.log().Error("scheduled refresh failed", zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid cron expression '%s': %w", spec, err)
		}
	}
	c.Start()
	return c, nil
}

func (o *Orchestrator) download(ctx context.Context, url string) ([]byte, error) {
	if o.Download != nil {
		return o.Download(ctx, url)
	}
	timeout := o.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxZipSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// expand wipes dir and extracts the archive into it. Nested paths are
// flattened away; a bundle is a flat set of tables.
func expand(archive []byte, dir string) error {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("reading zip: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wiping '%s': %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating '%s': %w", dir, err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(filepath.Clean(f.Name))
		if name == "." || name == ".." || strings.HasPrefix(name, ".") {
			continue
		}
		if err := extractFile(f, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening '%s' in zip: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating '%s': %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("extracting '%s': %w", f.Name, err)
	}
	return nil
}
