// Package feed fetches and decodes realtime protobuf feeds, with a short
// TTL cache keyed on feed name.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
)

const (
	DefaultTTL     = 30 * time.Second
	DefaultTimeout = 25 * time.Second
	maxFeedSize    = 16 << 20 // 16 MB
)

// Result is a decoded feed plus the raw bytes it came from.
type Result struct {
	Raw     []byte
	Message *gtfsrt.FeedMessage
}

type cacheEntry struct {
	result     *Result
	expiration time.Time

	// poisoned marks an entry whose feed decoded to zero entities. The
	// next fetch bypasses the cache once; upstream occasionally serves
	// empty feeds that recover within seconds.
	poisoned bool
}

// Fetcher downloads, decodes and caches realtime feeds. Safe for concurrent
// use.
type Fetcher struct {
	TTL     time.Duration
	Timeout time.Duration
	Headers map[string]string
	TimeNow func() time.Time

	client *http.Client
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

func NewFetcher(log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		TTL:     DefaultTTL,
		Timeout: DefaultTimeout,
		TimeNow: time.Now,
		client:  &http.Client{},
		log:     log,
		cache:   map[string]*cacheEntry{},
	}
}

// FeedName derives the cache key from a feed URL: the final path segment
// after URL-unescaping, so ".../nyct%2Fgtfs-l" maps to "gtfs-l".
func FeedName(feedURL string) string {
	if unescaped, err := url.PathUnescape(feedURL); err == nil {
		feedURL = unescaped
	}
	return feedURL[strings.LastIndex(feedURL, "/")+1:]
}

// Fetch returns the decoded feed at feedURL, from cache when fresh. A nil
// result with nil error means the feed contributed nothing this round
// (timeout, error page, decode failure); the caller proceeds without it.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) *Result {
	name := FeedName(feedURL)
	now := f.TimeNow()

	f.mu.Lock()
	entry, ok := f.cache[name]
	if ok && entry.expiration.After(now) && !entry.poisoned {
		f.mu.Unlock()
		return entry.result
	}
	f.mu.Unlock()

	result, err := f.download(ctx, feedURL)
	if err != nil {
		f.log.Warn("feed fetch failed", zap.String("feed", name), zap.Error(err))
		return nil
	}

	f.mu.Lock()
	f.cache[name] = &cacheEntry{
		result:     result,
		expiration: now.Add(f.TTL),
		poisoned:   len(result.Message.GetEntity()) == 0,
	}
	f.mu.Unlock()

	return result
}

func (f *Fetcher) download(ctx context.Context, feedURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range f.Headers {
		req.Header.Add(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	// Upstream serves HTML or JSON error pages with status 200.
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("error page content type '%s'", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	msg := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	return &Result{Raw: body, Message: msg}, nil
}
