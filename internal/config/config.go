package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/medintel/geocoding-service/internal/domain"
)

// Known provider names, in default priority order.
const (
	ProviderMapbox    = "mapbox"
	ProviderHERE      = "here"
	ProviderNominatim = "nominatim"
)

// ProviderConfig holds one backend's credentials and admission limits.
type ProviderConfig struct {
	Name     string
	APIKey   string
	BaseURL  string        // override for tests; empty means the provider default
	Rate     float64       // token-bucket refill, requests per second
	Capacity int           // token-bucket burst capacity
	Timeout  time.Duration // per-call HTTP timeout
}

// Config holds all service settings, populated from environment variables.
// It is read once at startup and never re-read mid-operation; per-job
// behavior is frozen via Policy() at submission time.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	Providers       []ProviderConfig // priority order: first is primary
	RetryPasses     int
	Backoff         []time.Duration
	AcceptableTiers []domain.AccuracyTier
	RateMaxWait     time.Duration

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	WorkerPoolSize int
	JobDeadline    time.Duration

	// Kafka wiring for the ingestion source and the store-of-record sink.
	KafkaSourceEnabled bool
	KafkaSinkEnabled   bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
}

// Load reads configuration from environment variables, applying defaults
// where unset. Invalid configuration is fatal: the service refuses to
// start rather than silently no-op.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	rateMaxWait, err := parseDuration("RATE_MAX_WAIT", "30s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("CACHE_TTL", "720h")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := parseDuration("CACHE_SWEEP_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	jobDeadline, err := parseDuration("JOB_DEADLINE", "15m")
	if err != nil {
		return nil, err
	}

	retryPasses, err := parseInt("RETRY_PASSES", 3)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("WORKER_POOL_SIZE", 8)
	if err != nil {
		return nil, err
	}

	backoff, err := parseBackoff(envOrDefault("BACKOFF_SCHEDULE", "1s,5s,30s"))
	if err != nil {
		return nil, err
	}

	tiers, err := parseTiers(envOrDefault("ACCEPTABLE_TIERS", "PRECISE,INTERPOLATED"))
	if err != nil {
		return nil, err
	}

	providers, err := parseProviders(envOrDefault("PROVIDERS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Providers:       providers,
		RetryPasses:     retryPasses,
		Backoff:         backoff,
		AcceptableTiers: tiers,
		RateMaxWait:     rateMaxWait,

		CacheTTL:           cacheTTL,
		CacheSweepInterval: sweepInterval,

		WorkerPoolSize: workers,
		JobDeadline:    jobDeadline,

		KafkaSourceEnabled: envOrDefault("KAFKA_SOURCE_ENABLED", "false") == "true",
		KafkaSinkEnabled:   envOrDefault("KAFKA_SINK_ENABLED", "false") == "true",
		KafkaBrokers:       splitNonEmpty(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "address-changes"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "geocode-results"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "geocoding-service"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return errors.New("provider list is empty: set PROVIDERS and provider credentials")
	}
	if c.RetryPasses < 1 {
		return errors.New("RETRY_PASSES must be at least 1")
	}
	if c.WorkerPoolSize < 1 {
		return errors.New("WORKER_POOL_SIZE must be at least 1")
	}
	if len(c.AcceptableTiers) == 0 {
		return errors.New("ACCEPTABLE_TIERS must name at least one tier")
	}
	for _, p := range c.Providers {
		if p.Rate <= 0 || p.Capacity < 1 {
			return fmt.Errorf("provider %s: rate and capacity must be positive", p.Name)
		}
	}
	if (c.KafkaSourceEnabled || c.KafkaSinkEnabled) && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when kafka source or sink is enabled")
	}
	return nil
}

// Policy returns the immutable per-job resolution policy snapshot.
func (c *Config) Policy() domain.ResolutionPolicy {
	order := make([]string, len(c.Providers))
	for i, p := range c.Providers {
		order[i] = p.Name
	}
	acceptable := make(map[domain.AccuracyTier]bool, len(c.AcceptableTiers))
	for _, t := range c.AcceptableTiers {
		acceptable[t] = true
	}
	return domain.ResolutionPolicy{
		ProviderOrder:   order,
		RetryPasses:     c.RetryPasses,
		Backoff:         append([]time.Duration(nil), c.Backoff...),
		AcceptableTiers: acceptable,
		CacheTTL:        c.CacheTTL,
		JobDeadline:     c.JobDeadline,
	}
}

// parseProviders builds the provider list from the PROVIDERS env var
// (comma-separated priority order). An empty value enables every provider
// with credentials present, in default priority order; nominatim needs no
// credentials and is always available as the free fallback.
func parseProviders(list string) ([]ProviderConfig, error) {
	names := splitNonEmpty(list)
	if len(names) == 0 {
		if os.Getenv("MAPBOX_TOKEN") != "" {
			names = append(names, ProviderMapbox)
		}
		if os.Getenv("HERE_API_KEY") != "" {
			names = append(names, ProviderHERE)
		}
		names = append(names, ProviderNominatim)
	}

	providers := make([]ProviderConfig, 0, len(names))
	for _, name := range names {
		p, err := parseProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func parseProvider(name string) (ProviderConfig, error) {
	switch name {
	case ProviderMapbox:
		token := os.Getenv("MAPBOX_TOKEN")
		if token == "" {
			return ProviderConfig{}, errors.New("provider mapbox listed but MAPBOX_TOKEN is not set")
		}
		return providerEnv(ProviderMapbox, token, "MAPBOX", 10, 20, "5s")
	case ProviderHERE:
		key := os.Getenv("HERE_API_KEY")
		if key == "" {
			return ProviderConfig{}, errors.New("provider here listed but HERE_API_KEY is not set")
		}
		return providerEnv(ProviderHERE, key, "HERE", 5, 10, "5s")
	case ProviderNominatim:
		// Nominatim usage policy caps anonymous clients at 1 req/s.
		return providerEnv(ProviderNominatim, "", "NOMINATIM", 1, 1, "10s")
	default:
		return ProviderConfig{}, fmt.Errorf("unknown provider %q", name)
	}
}

// providerEnv reads the per-provider tunables, e.g. MAPBOX_RATE,
// MAPBOX_CAPACITY, MAPBOX_TIMEOUT, MAPBOX_BASE_URL.
func providerEnv(name, apiKey, prefix string, defRate float64, defCapacity int, defTimeout string) (ProviderConfig, error) {
	rate := defRate
	if s := os.Getenv(prefix + "_RATE"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("invalid %s_RATE: %w", prefix, err)
		}
		rate = v
	}
	capacity, err := parseInt(prefix+"_CAPACITY", defCapacity)
	if err != nil {
		return ProviderConfig{}, err
	}
	timeout, err := parseDuration(prefix+"_TIMEOUT", defTimeout)
	if err != nil {
		return ProviderConfig{}, err
	}
	return ProviderConfig{
		Name:     name,
		APIKey:   apiKey,
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
		Rate:     rate,
		Capacity: capacity,
		Timeout:  timeout,
	}, nil
}

func parseBackoff(list string) ([]time.Duration, error) {
	parts := splitNonEmpty(list)
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid BACKOFF_SCHEDULE entry %q", p)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

func parseTiers(list string) ([]domain.AccuracyTier, error) {
	var tiers []domain.AccuracyTier
	for _, s := range splitNonEmpty(list) {
		switch t := domain.AccuracyTier(strings.ToUpper(s)); t {
		case domain.TierPrecise, domain.TierInterpolated, domain.TierApproximate, domain.TierRegionCenter:
			tiers = append(tiers, t)
		default:
			return nil, fmt.Errorf("unknown accuracy tier %q", s)
		}
	}
	return tiers, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
