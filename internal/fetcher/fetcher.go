// Package fetcher downloads portal files into the durable local cache.
//
// Downloads are idempotent: a non-empty cached file is reused unless the
// caller forces a refresh. Every network request is preceded by a fixed
// courtesy delay, and bodies are streamed to a temp file in the destination
// directory and renamed into place, so a crash never leaves a truncated file
// under the final name.
package fetcher

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"ipeds/internal/ipedserr"
	"ipeds/internal/metrics"
)

// Options configures a Fetcher.
type Options struct {
	UserAgent string
	// Delay is waited before every network request. Zero disables it.
	Delay time.Duration
	// Timeout bounds one request including the body transfer. Default 2m.
	Timeout time.Duration
	// MaxAttempts per URL for retryable failures (network, 429, 5xx). Default 3.
	MaxAttempts int
	// RetryBase is the first backoff step; it doubles per attempt up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
	Client    *http.Client

	// sleep is a test seam; it returns false when ctx ends first.
	sleep func(ctx context.Context, d time.Duration) bool
}

// Fetcher downloads one file at a time.
type Fetcher struct {
	opts   Options
	client *http.Client
}

// New returns a Fetcher with defaults applied.
func New(opts Options) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "ipeds-ingest/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Second
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{opts: opts, client: client}
}

// CacheName is the deterministic cache file name for rawURL: the URL path's
// base name, lowercased. Query strings are ignored.
func CacheName(rawURL string) string {
	u, err := url.Parse(rawURL)
	p := rawURL
	if err == nil {
		p = u.Path
	}
	b := path.Base(p)
	if b == "." || b == "/" || b == "" {
		return ""
	}
	return strings.ToLower(b)
}

// Fetch makes sure the file at rawURL is present in destDir and returns its
// local path.
//
// Edge cases:
//   - An existing non-empty file with force=false returns immediately with no
//     network request. A zero-byte leftover is treated as absent.
//   - force=true re-downloads and atomically replaces the cached copy.
//
// Errors:
//   - CodeInvalidArgument for an empty/unusable destDir or a URL without a
//     file name.
//   - CodeDownload for network failures, non-2xx responses and empty bodies.
//     Batch callers record these and continue.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir string, force bool) (string, error) {
	if strings.TrimSpace(destDir) == "" {
		return "", ipedserr.New(ipedserr.CodeInvalidArgument, "empty destination directory")
	}
	name := CacheName(rawURL)
	if name == "" {
		return "", ipedserr.Newf(ipedserr.CodeInvalidArgument, "no file name in url %q", rawURL)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ipedserr.Wrapf(err, ipedserr.CodeInvalidArgument, "create destination %s", destDir)
	}
	dest := filepath.Join(destDir, name)

	if !force {
		if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() && fi.Size() > 0 {
			metrics.RecordStepStatus("fetch", "cached", 0)
			return dest, nil
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if !f.opts.sleep(ctx, f.opts.Delay) {
			return "", ipedserr.Wrap(ctx.Err(), ipedserr.CodeDownload, "courtesy delay")
		}
		status, n, err := f.attempt(ctx, rawURL, dest)
		if err == nil {
			log.Printf("fetcher: %s -> %s (%d bytes)", rawURL, dest, n)
			metrics.RecordStep("fetch", nil, time.Since(start))
			return dest, nil
		}
		lastErr = err
		if !retryable(status) || attempt == f.opts.MaxAttempts {
			break
		}
		backoff := f.backoff(attempt)
		log.Printf("fetcher: attempt %d/%d for %s failed: %v; retrying in %s", attempt, f.opts.MaxAttempts, rawURL, err, backoff)
		if !f.opts.sleep(ctx, backoff) {
			break
		}
	}
	metrics.RecordStep("fetch", lastErr, time.Since(start))
	return "", lastErr
}

// attempt performs one GET. status is 0 when no response arrived.
func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string) (int, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, ipedserr.Wrap(err, ipedserr.CodeInvalidArgument, "new request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0)
		return 0, 0, ipedserr.Wrapf(err, ipedserr.CodeDownload, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.RecordHTTP(resp.StatusCode, nil, time.Since(start), 0)
		return resp.StatusCode, 0, ipedserr.Newf(ipedserr.CodeDownload, "GET %s: status %d", rawURL, resp.StatusCode)
	}

	n, err := writeBodyToFile(dest, resp.Body)
	metrics.RecordHTTP(resp.StatusCode, err, time.Since(start), n)
	if errors.Is(err, errEmptyBody) {
		return resp.StatusCode, 0, ipedserr.Newf(ipedserr.CodeDownload, "GET %s: empty body", rawURL)
	}
	if err != nil {
		return resp.StatusCode, n, ipedserr.Wrapf(err, ipedserr.CodeDownload, "write %s", dest)
	}
	return resp.StatusCode, n, nil
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.opts.RetryBase << uint(attempt-1)
	if d > f.opts.RetryMax || d <= 0 {
		d = f.opts.RetryMax
	}
	return d
}

var errEmptyBody = errors.New("empty body")

// writeBodyToFile streams r to a temp file next to outputPath and renames it
// into place. An empty body leaves outputPath untouched and returns errEmptyBody.
func writeBodyToFile(outputPath string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".ipeds-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpName)
		return n, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return n, closeErr
	}
	if n == 0 {
		_ = os.Remove(tmpName)
		return 0, errEmptyBody
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
