// Package fetch provides HTTP access to payer index and MRF files with
// retry, backoff, and transparent gzip decompression.
package fetch

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

const (
	maxAttempts  = 3
	maxBackoff   = 10 * time.Second
	defaultAgent = "tic-rates/1.0 (+https://github.com/gyeh/tic-rates)"
)

// SizeUnknown is returned by Head when the server does not report a size.
// It sorts after every real size, so callers ordering files by size still work.
const SizeUnknown = int64(math.MaxInt64)

// Client fetches index and rate files. The zero value is not usable; use New.
type Client struct {
	http        *http.Client
	headTimeout time.Duration
	userAgent   string

	// UseStdGzip forces single-threaded compress/gzip instead of pgzip.
	// pgzip is faster on multi-GB bodies but has produced mid-stream
	// corruption on some very large files.
	UseStdGzip bool
}

// New creates a Client tuned for large MRF downloads: pooled connections,
// no overall timeout on streaming GETs (files can take hours at CDN speeds).
func New() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headTimeout: 30 * time.Second,
		userAgent:   defaultAgent,
	}
}

// retryable reports whether an HTTP status is worth another attempt.
// Client errors are final except request-timeout and too-many-requests.
func retryable(status int) bool {
	if status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// do performs an HTTP request with up to maxAttempts tries and exponential
// backoff capped at maxBackoff. The caller owns the response body on success.
func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			if delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, url, maxAttempts, lastErr)
}

// Get fetches the full body of url, decompressed. Intended for small
// documents (indexes, provider reference files); rate files should use
// OpenStream.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	rc, err := c.OpenStream(ctx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

// Head returns the Content-Length reported for url, or SizeUnknown when the
// request fails or the server omits the header.
func (c *Client) Head(ctx context.Context, url string) int64 {
	ctx, cancel := context.WithTimeout(ctx, c.headTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return SizeUnknown
	}
	resp.Body.Close()
	if resp.ContentLength < 0 {
		return SizeUnknown
	}
	return resp.ContentLength
}

// OpenStream opens url for incremental reading, transparently decompressing
// gzip detected by the .gz URL suffix or the 1F 8B magic bytes. The body is
// never buffered in full; Close releases the connection.
func (c *Client) OpenStream(ctx context.Context, url string) (io.ReadCloser, error) {
	return c.OpenStreamProgress(ctx, url, nil)
}

// OpenStreamProgress is OpenStream with a progress callback invoked with the
// cumulative compressed bytes downloaded. Counting happens below the gzip
// layer so it lines up with the Content-Length a HEAD reports.
func (c *Client) OpenStreamProgress(ctx context.Context, url string, onRead func(downloaded int64)) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	var raw io.Reader = resp.Body
	if onRead != nil {
		raw = &countingReader{r: resp.Body, onRead: onRead}
	}
	br := bufio.NewReaderSize(raw, 64*1024)

	gzipped := strings.HasSuffix(strings.ToLower(stripQuery(url)), ".gz")
	if !gzipped {
		if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
			gzipped = true
		}
	}

	if !gzipped {
		return &streamReader{Reader: br, body: resp.Body}, nil
	}

	gz, err := c.newGzipReader(br)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("gzip reader for %s: %w", url, err)
	}
	return &streamReader{Reader: gz, body: resp.Body, gz: gz}, nil
}

func (c *Client) newGzipReader(r io.Reader) (io.ReadCloser, error) {
	if c.UseStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

// countingReader reports cumulative bytes read from the wrapped reader. It
// sits between the HTTP body and any gzip layer so the count tracks wire
// bytes, comparable against Content-Length.
type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.onRead(c.n)
	}
	return n, err
}

// streamReader couples a (possibly gzip-wrapped) reader with the underlying
// HTTP body so both close together.
type streamReader struct {
	io.Reader
	body io.ReadCloser
	gz   io.ReadCloser
}

func (s *streamReader) Close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	return s.body.Close()
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
