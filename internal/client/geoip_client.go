package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

// GeoIPClient resolves IP addresses to coarse locations through an external
// HTTP lookup service. Lookups are timeout-bounded so a stalled provider
// cannot stall event ingestion, and results are cached per IP.
type GeoIPClient struct {
	baseURL    string
	httpClient *http.Client
	cacheSize  int

	mu    sync.Mutex
	cache map[string]*model.Location
}

type geoAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func NewGeoIPClient(cfg *config.Config, logger *zap.Logger) *GeoIPClient {
	geoConfig := cfg.GeoIP

	util.Info("GeoIP client initialized",
		zap.String("base_url", geoConfig.BaseURL),
		zap.Duration("timeout", geoConfig.Timeout),
	)

	return &GeoIPClient{
		baseURL: geoConfig.BaseURL,
		httpClient: &http.Client{
			Timeout: geoConfig.Timeout,
		},
		cacheSize: geoConfig.CacheSize,
		cache:     make(map[string]*model.Location),
	}
}

// Resolve looks up the location for an IP. A failed or unknown lookup
// returns an error; callers treat that as "no additional signal".
func (g *GeoIPClient) Resolve(ctx context.Context, ip string) (*model.Location, error) {
	if ip == "" {
		return nil, fmt.Errorf("empty ip address")
	}

	g.mu.Lock()
	if loc, ok := g.cache[ip]; ok {
		g.mu.Unlock()
		return loc, nil
	}
	g.mu.Unlock()

	reqURL := fmt.Sprintf("%s/%s", g.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geoip request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip lookup returned status %d", resp.StatusCode)
	}

	var body geoAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geoip response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("geoip lookup unresolved: %s", body.Message)
	}

	loc := &model.Location{
		City:      body.City,
		Country:   body.Country,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}

	g.mu.Lock()
	if len(g.cache) >= g.cacheSize {
		// Full cache: drop it rather than track recency; lookups repopulate
		// the hot IPs quickly.
		g.cache = make(map[string]*model.Location)
	}
	g.cache[ip] = loc
	g.mu.Unlock()

	return loc, nil
}
