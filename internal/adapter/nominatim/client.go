// Package nominatim implements the free fallback provider against the
// OpenStreetMap Nominatim search API.
package nominatim

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
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
)

const providerName = config.ProviderNominatim

// userAgent identifies us to the Nominatim operators, per their usage policy.
const userAgent = "medintel-geocoding-service/1.0"

// Client implements domain.Provider using Nominatim. No credentials; the
// public instance's 1 req/s policy is enforced by our rate limiter, not here.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Nominatim client from provider config.
func NewClient(cfg config.ProviderConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Client{
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
	params := url.Values{
		"q":      {addr.Canonical},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient, err)
	}
	req.Header.Set("User-Agent", userAgent)

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
			fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient, err)
	}

	var places []place
	if err := json.Unmarshal(raw, &places); err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient,
			fmt.Errorf("decode response: %w", err))
	}

	if len(places) == 0 {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureNoMatch,
			errors.New("no places returned"))
	}

	p := places[0]
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lon, errLon := strconv.ParseFloat(p.Lon, 64)
	if errLat != nil || errLon != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient,
			fmt.Errorf("malformed coordinates %q,%q", p.Lat, p.Lon))
	}

	tier, confidence := domain.Classify(providerName, p.accuracySignal())

	return domain.GeocodeResult{
		Lat:        lat,
		Lon:        lon,
		Tier:       tier,
		Confidence: confidence,
		Provider:   providerName,
		RawPayload: raw,
		ResolvedAt: c.clock.Now(),
	}, nil
}

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

// Nominatim jsonv2 response element. Coordinates arrive as strings.
type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Class       string `json:"class"`
	Type        string `json:"type"`
	AddressType string `json:"addresstype"`
	DisplayName string `json:"display_name"`
}

// accuracySignal prefers the addresstype field (jsonv2), falling back to
// the OSM class for older instances.
func (p place) accuracySignal() string {
	if p.AddressType != "" {
		return p.AddressType
	}
	return p.Class
}

var _ domain.Provider = (*Client)(nil)
