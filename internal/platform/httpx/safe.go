package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds best-effort external calls.
const DefaultFetchTimeout = 5 * time.Second

// FetchJSON performs a GET against url and decodes the JSON body. Any failure
// (transport, non-2xx status, decode) is logged and yields nil. There is no retry.
func FetchJSON[T any](ctx context.Context, client *http.Client, logger *slog.Logger, url string, timeout time.Duration) *T {
	if logger == nil {
		logger = slog.Default()
	}
	out, err := fetchJSON[T](ctx, client, url, timeout)
	if err != nil {
		logger.Warn("external call failed", slog.String("url", url), slog.Any("error", err))
		return nil
	}
	return out
}

func fetchJSON[T any](ctx context.Context, client *http.Client, url string, timeout time.Duration) (*T, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}

// SafeQuery runs a data-access function and returns its zero value on error,
// logging the failure under op.
func SafeQuery[T any](ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) (T, error)) T {
	var zero T
	if fn == nil {
		return zero
	}
	if logger == nil {
		logger = slog.Default()
	}
	v, err := fn(ctx)
	if err != nil {
		logger.Warn("data access failed", slog.String("op", op), slog.Any("error", err))
		return zero
	}
	return v
}
