package refresh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtarail/railboard/system"
	"github.com/mtarail/railboard/testutil"
)

type countingRebuilder struct {
	calls int
	err   error
}

func (c *countingRebuilder) Rebuild() error {
	c.calls++
	return c.err
}

func testSources(t *testing.T) ([]Source, map[string][]byte) {
	root := t.TempDir()
	sources := make([]Source, 0, len(system.All))
	zips := map[string][]byte{}
	for _, sys := range system.All {
		url := fmt.Sprintf("https://example.com/%s.zip", sys)
		sources = append(sources, Source{
			System: sys,
			ZipURL: url,
			Dir:    filepath.Join(root, string(sys)),
		})
		zips[url] = testutil.BuildZip(t, map[string][]string{
			"routes.txt": {"route_id,route_short_name,route_long_name,route_type"},
			"stops.txt":  {"stop_id,stop_name,stop_lat,stop_lon"},
		})
	}
	return sources, zips
}

func TestRunExpandsAndRebuilds(t *testing.T) {
	sources, zips := testSources(t)
	rb := &countingRebuilder{}
	o := &Orchestrator{
		Sources: sources,
		Index:   rb,
		Download: func(_ context.Context, url string) ([]byte, error) {
			return zips[url], nil
		},
	}

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 1, rb.calls)

	for _, src := range sources {
		for _, name := range []string{"routes.txt", "stops.txt"} {
			_, err := os.Stat(filepath.Join(src.Dir, name))
			assert.NoError(t, err, "%s/%s", src.System, name)
		}
	}
}

func TestRunAbortsBeforeTouchingDirsOnDownloadFailure(t *testing.T) {
	sources, zips := testSources(t)

	// Pre-populate a target dir so a wipe would be observable.
	require.NoError(t, os.MkdirAll(sources[0].Dir, 0o755))
	marker := filepath.Join(sources[0].Dir, "existing.txt")
	require.NoError(t, os.WriteFile(marker, []byte("old"), 0o644))

	rb := &countingRebuilder{}
	o := &Orchestrator{
		Sources: sources,
		Index:   rb,
		Download: func(_ context.Context, url string) ([]byte, error) {
			if url == sources[2].ZipURL {
				return nil, fmt.Errorf("boom")
			}
			return zips[url], nil
		},
	}

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, rb.calls, "rebuild must not run after a failed download")

	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr, "existing bundle must be left untouched")
}

func TestRunRejectsCorruptZip(t *testing.T) {
	sources, _ := testSources(t)
	rb := &countingRebuilder{}
	o := &Orchestrator{
		Sources: sources,
		Index:   rb,
		Download: func(_ context.Context, _ string) ([]byte, error) {
			return []byte("not a zip"), nil
		},
	}

	require.Error(t, o.Run(context.Background()))
	assert.Equal(t, 0, rb.calls)
}

func TestConcurrentRunsAreRejected(t *testing.T) {
	sources, zips := testSources(t)
	rb := &countingRebuilder{}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	o := &Orchestrator{
		Sources: sources,
		Index:   rb,
		Download: func(_ context.Context, url string) ([]byte, error) {
			once.Do(func() {
				close(started)
				<-release
			})
			return zips[url], nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	<-started
	assert.ErrorIs(t, o.Run(context.Background()), ErrRefreshInProgress)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, 1, rb.calls)
}

func TestScheduleRejectsMissingCron(t *testing.T) {
	sources, _ := testSources(t)
	o := &Orchestrator{Sources: sources, Index: &countingRebuilder{}}

	_, err := o.Schedule(context.Background())
	assert.Error(t, err)
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	sources, _ := testSources(t)
	for i := range sources {
		sources[i].Cron = "not a cron"
	}
	o := &Orchestrator{Sources: sources, Index: &countingRebuilder{}}

	_, err := o.Schedule(context.Background())
	assert.Error(t, err)
}
