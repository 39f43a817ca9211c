// Package mapbox implements the primary geocoding provider against the
// Mapbox Geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
)

const providerName = config.ProviderMapbox

// Client implements domain.Provider using the Mapbox Geocoding API.
// It never retries: fallback and backoff live in the orchestrator.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Mapbox geocoding client from provider config.
func NewClient(cfg config.ProviderConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	}
	return &Client{
		token:      cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Geocode resolves a normalized address to coordinates.
func (c *Client) Geocode(ctx context.Context, addr domain.NormalizedAddress) (domain.GeocodeResult, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(addr.Canonical))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient, err)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ProviderDuration.WithLabelValues(providerName).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := domain.FailureTransient
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = domain.FailureQuotaExceeded
		}
		return domain.GeocodeResult{}, domain.Failure(providerName, kind,
			fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient, err)
	}

	var mapboxResp response
	if err := json.Unmarshal(raw, &mapboxResp); err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient,
			fmt.Errorf("decode response: %w", err))
	}

	if len(mapboxResp.Features) == 0 {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureNoMatch,
			errors.New("no features returned"))
	}

	f := mapboxResp.Features[0]
	tier, confidence := domain.Classify(providerName, f.accuracySignal())

	result := domain.GeocodeResult{
		Tier:       tier,
		Confidence: confidence,
		Provider:   providerName,
		RawPayload: raw,
		ResolvedAt: c.clock.Now(),
	}
	if len(f.Center) == 2 {
		result.Lon = f.Center[0]
		result.Lat = f.Center[1]
	}
	return result, nil
}

// classifyTransport maps HTTP transport errors to a failure kind.
func classifyTransport(err error) domain.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureTimeout
	}
	return domain.FailureTransient
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center     []float64 `json:"center"` // [lon, lat]
	PlaceName  string    `json:"place_name"`
	Text       string    `json:"text"`
	Relevance  float64   `json:"relevance"`
	PlaceType  []string  `json:"place_type"`
	Properties struct {
		Accuracy string `json:"accuracy"`
	} `json:"properties"`
}

// accuracySignal prefers the per-feature accuracy property, falling back
// to the coarse place type when Mapbox omits it.
func (f feature) accuracySignal() string {
	if f.Properties.Accuracy != "" {
		return f.Properties.Accuracy
	}
	if len(f.PlaceType) > 0 {
		return f.PlaceType[0]
	}
	return ""
}

var _ domain.Provider = (*Client)(nil)
