package imageio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrFetch is returned when an image location cannot be read.
var ErrFetch = errors.New("imageio: fetch failed")

// Fetcher resolves an image location (file path or URL) to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherOptions configures a DefaultFetcher.
type FetcherOptions struct {
	// Client is used for http and https locations. Defaults to a client with a 30s timeout.
	Client *http.Client
	// RequestsPerSecond limits remote downloads. Zero disables limiting.
	RequestsPerSecond float64
	// MaxRetries bounds retries of transient HTTP failures (5xx, 429, network errors).
	MaxRetries uint64
	// MaxBytes caps the size of a single image. Defaults to 32 MiB.
	MaxBytes int64
}

// DefaultFetcher reads local files and downloads http(s) URLs.
type DefaultFetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	maxBytes   int64
}

// NewFetcher creates a DefaultFetcher.
func NewFetcher(opts FetcherOptions) *DefaultFetcher {
	f := &DefaultFetcher{
		client:     opts.Client,
		maxRetries: opts.MaxRetries,
		maxBytes:   opts.MaxBytes,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 30 * time.Second}
	}
	if f.maxBytes <= 0 {
		f.maxBytes = 32 << 20
	}
	if opts.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return f
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return f.fetchHTTP(ctx, location)
	}

	path := strings.TrimPrefix(location, "file://")
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if fi.Size() > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, path, f.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, nil
}

func (f *DefaultFetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	op := func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > f.maxBytes {
			return backoff.Permanent(fmt.Errorf("GET %s: body exceeds %d bytes", url, f.maxBytes))
		}
		data = body
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, nil
}
