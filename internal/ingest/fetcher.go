// Package ingest pulls remote catalog indexes, validates and normalizes
// their manifests, and upserts the results into the catalog store. All
// triggers (scheduler, admin API) funnel through the same Ingestor so
// there is exactly one ingestion code path.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	fetchTimeout   = 20 * time.Second
	maxFetchBytes  = 8 << 20 // 8 MiB cap per document
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Fetcher downloads index and manifest documents. Transient failures
// (429, 5xx, network errors) are retried with exponential backoff;
// 4xx responses are terminal.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with sane timeouts.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// IndexFetch is the outcome of a conditional index download.
type IndexFetch struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool // 304; Body is empty
}

// FetchIndex downloads an index document with a conditional GET using
// the cursors stored from the previous sync.
func (f *Fetcher) FetchIndex(ctx context.Context, url, etag, lastModified string) (*IndexFetch, error) {
	var out *IndexFetch
	err := f.withRetries(ctx, url, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return true, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotModified:
			out = &IndexFetch{ETag: etag, LastModified: lastModified, NotModified: true}
			return false, nil
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
			if err != nil {
				return true, fmt.Errorf("reading index body: %w", err)
			}
			out = &IndexFetch{
				Body:         body,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			return false, nil
		default:
			return retryable(resp.StatusCode), fmt.Errorf("index fetch returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchDocument downloads a manifest or readme document.
func (f *Fetcher) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.withRetries(ctx, url, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return true, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return retryable(resp.StatusCode), fmt.Errorf("fetch returned %d", resp.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return true, fmt.Errorf("reading body: %w", err)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// withRetries runs fn until it succeeds, fails terminally, or the retry
// budget is spent. fn reports whether its error is worth retrying.
func (f *Fetcher) withRetries(ctx context.Context, url string, fn func() (retry bool, err error)) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		retry, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}
		logrus.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warnf("Fetch failed, retrying: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("fetching %s: %w", url, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
