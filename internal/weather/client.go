// Package weather fetches current conditions for the home dashboard.
package weather

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrohub/agrohub/internal/platform/cache"
	"github.com/agrohub/agrohub/internal/platform/httpx"
)

// CacheTTL is how long a snapshot is reused.
const CacheTTL = 10 * time.Minute

// Snapshot is the current weather at a location.
type Snapshot struct {
	Location     string    `json:"location"`
	TemperatureC float64   `json:"temperature_c"`
	Humidity     int       `json:"humidity"`
	Condition    string    `json:"condition"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Client queries the weather API. A client without BaseURL is disabled and
// always returns nil.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
	Cache   *cache.JSON
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != ""
}

// Current returns the snapshot for location, or nil when the API is disabled
// or unavailable.
func (c *Client) Current(ctx context.Context, location string) *Snapshot {
	if !c.Enabled() {
		return nil
	}
	location = strings.TrimSpace(location)
	key := strings.ToLower(location)

	var cached Snapshot
	if hit, err := c.Cache.Get(ctx, key, &cached); err != nil {
		c.logger().Warn("weather cache read", slog.Any("error", err))
	} else if hit {
		return &cached
	}

	snap := httpx.FetchJSON[Snapshot](ctx, c.HTTP, c.logger(), c.endpoint(location), c.Timeout)
	if snap == nil {
		return nil
	}
	if snap.Location == "" {
		snap.Location = location
	}
	if err := c.Cache.Set(ctx, key, snap, CacheTTL); err != nil {
		c.logger().Warn("weather cache write", slog.Any("error", err))
	}
	return snap
}

func (c *Client) endpoint(location string) string {
	base := strings.TrimRight(c.BaseURL, "/") + "/current"
	if location == "" {
		return base
	}
	return base + "?location=" + url.QueryEscape(location)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
