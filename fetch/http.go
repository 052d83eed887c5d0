package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultUserAgent  = "updatemanager"

	// Update documents and artifacts are read into memory whole.
	maxBodySize = 512 << 20
)

// HTTPFetcher fetches http and https URLs. Transport errors and 429/5xx
// responses are retried with exponential backoff; the last status is
// returned once retries run out.
type HTTPFetcher struct {
	Client     *http.Client
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int

	// InitialInterval overrides the first backoff delay. Tests set it low.
	InitialInterval time.Duration
}

// NewHTTPFetcher returns a fetcher with default timeout, retries and user agent.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Timeout:    DefaultTimeout,
		UserAgent:  DefaultUserAgent,
		MaxRetries: DefaultMaxRetries,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	var body []byte
	var status int
	attempt := 0

	operation := func() error {
		attempt++
		b, s, err := f.fetchOnce(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body, status = b, s
		if isRetryableStatus(s) {
			return fmt.Errorf("server returned status %d", s)
		}
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.WithFields(log.Fields{
			"url":     url,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Debug("retrying fetch")
	}

	err := backoff.RetryNotify(operation, f.backoff(ctx), notify)
	if err != nil && status == 0 {
		log.WithField("url", url).WithError(err).Warn("fetch failed")
		return nil, 0, err
	}
	// A retryable status that outlived the retries is reported as-is.
	return body, status, nil
}

func (f *HTTPFetcher) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if f.InitialInterval > 0 {
		b.InitialInterval = f.InitialInterval
	}
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	retries := f.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, int, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	userAgent := f.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if len(body) > maxBodySize {
		return nil, 0, backoff.Permanent(fmt.Errorf("response from %s exceeds %d bytes", url, maxBodySize))
	}

	log.WithFields(log.Fields{
		"url":    url,
		"status": resp.StatusCode,
		"bytes":  len(body),
	}).Debug("fetched")
	return body, resp.StatusCode, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}
