package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"
)

// TransportError marks a failure to retrieve the remote file: connection
// errors, timeouts, and non-success status codes alike.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetcher streams remote forecast files to local scratch storage.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads rawURL into a temp file and returns its path, the number of
// bytes written, and the elapsed wall time. Bytes counted so far are returned
// even when the transfer fails mid-stream. The caller owns the temp file and
// removes it when done. A single attempt is made; retry policy belongs to the
// caller.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, int64, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, time.Since(start), &TransportError{URL: rawURL, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", 0, time.Since(start), &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", 0, time.Since(start), &TransportError{
			URL: rawURL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	// Keep the original extension so format detection can use it.
	tmp, err := os.CreateTemp("", "forecast_*"+urlExt(rawURL))
	if err != nil {
		return "", 0, time.Since(start), fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", written, time.Since(start), &TransportError{URL: rawURL, Err: err}
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", written, time.Since(start), fmt.Errorf("close temp file: %w", closeErr)
	}

	elapsed := time.Since(start)
	f.logger.Debug("file downloaded",
		"url", rawURL,
		"bytes", written,
		"duration_ms", elapsed.Milliseconds())

	return tmp.Name(), written, elapsed, nil
}

// urlExt returns the extension of the URL's path component, or "" when the
// URL does not parse or has no extension.
func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
