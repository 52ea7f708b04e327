// Package geocode translates free-text addresses into coordinates using the
// OpenCage forward geocoding API. Lookups never fail loudly: a miss, a
// disabled client, or a service error all come back as "absent".
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hobbyme/hobbyme/matching"
)

const DefaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"

// Config for the OpenCage client.
type Config struct {
	BaseURL   string
	APIKey    string // empty disables lookups
	CacheSize int
	Timeout   time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *lru.Cache[string, matching.Coordinates]
	logger     *slog.Logger
}

// response models the fields we read from OpenCage.
type response struct {
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
	} `json:"results"`
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cache, err := lru.New[string, matching.Coordinates](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		cache:      cache,
		logger:     slog.Default().With("component", "geocode"),
	}, nil
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Geocode returns the first result's coordinates for address.
// Only successful lookups are cached.
func (c *Client) Geocode(ctx context.Context, address string) (matching.Coordinates, bool) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" || !c.Enabled() {
		return matching.Coordinates{}, false
	}
	if hit, ok := c.cache.Get(key); ok {
		return hit, true
	}

	coords, err := c.lookup(ctx, address)
	if err != nil {
		c.logger.Warn("geocoding failed", "address", address, "error", err)
		return matching.Coordinates{}, false
	}
	if coords == nil {
		c.logger.Debug("no geocoding result", "address", address)
		return matching.Coordinates{}, false
	}
	c.cache.Add(key, *coords)
	return *coords, true
}

func (c *Client) lookup(ctx context.Context, address string) (*matching.Coordinates, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("key", c.apiKey)
	q.Set("limit", "1")
	q.Set("no_annotations", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	g := body.Results[0].Geometry
	coords := matching.Coordinates{Latitude: g.Lat, Longitude: g.Lng}
	if !coords.Valid() {
		return nil, fmt.Errorf("result out of range: %v,%v", g.Lat, g.Lng)
	}
	return &coords, nil
}
