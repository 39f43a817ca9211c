// Package here implements the secondary geocoding provider against the
// HERE Geocoding & Search API.
package here

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

const providerName = config.ProviderHERE

// Client implements domain.Provider using the HERE geocode endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a HERE geocoding client from provider config.
func NewClient(cfg config.ProviderConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://geocode.search.hereapi.com/v1"
	}
	return &Client{
		apiKey:     cfg.APIKey,
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
		"apiKey": {c.apiKey},
		"limit":  {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/geocode?"+params.Encode(), nil)
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
			fmt.Errorf("here API error: status %d: %s", resp.StatusCode, body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient, err)
	}

	var hereResp response
	if err := json.Unmarshal(raw, &hereResp); err != nil {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureTransient,
			fmt.Errorf("decode response: %w", err))
	}

	if len(hereResp.Items) == 0 {
		return domain.GeocodeResult{}, domain.Failure(providerName, domain.FailureNoMatch,
			errors.New("no items returned"))
	}

	item := hereResp.Items[0]
	tier, confidence := domain.Classify(providerName, item.accuracySignal())

	return domain.GeocodeResult{
		Lat:        item.Position.Lat,
		Lon:        item.Position.Lng,
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

// HERE API response types.

type response struct {
	Items []item `json:"items"`
}

type item struct {
	Title    string `json:"title"`
	Position struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	ResultType      string `json:"resultType"`
	HouseNumberType string `json:"houseNumberType"`
}

// accuracySignal resolves HERE's two-level vocabulary: houseNumber results
// carry the finer pointAddress/interpolated distinction in a second field.
func (i item) accuracySignal() string {
	if i.ResultType == "houseNumber" && i.HouseNumberType != "" {
		return i.HouseNumberType
	}
	return i.ResultType
}

var _ domain.Provider = (*Client)(nil)
