//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/medintel/geocoding-service/internal/adapter/kafka"
	"github.com/medintel/geocoding-service/internal/cache"
	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
	"github.com/medintel/geocoding-service/internal/pipeline"
	"github.com/medintel/geocoding-service/internal/ratelimit"
)

const (
	testSourceTopic = "test-address-changes"
	testSinkTopic   = "test-geocode-results"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka launches a single-node Kafka broker for the test.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("geocoding-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// fixedProvider resolves every address to the same precise coordinates,
// isolating the test to the Kafka plumbing.
type fixedProvider struct{}

func (fixedProvider) Name() string { return "fixed" }

func (fixedProvider) Geocode(_ context.Context, _ domain.NormalizedAddress) (domain.GeocodeResult, error) {
	return domain.GeocodeResult{
		Lat:        30.2672,
		Lon:        -97.7431,
		Tier:       domain.TierPrecise,
		Confidence: 0.95,
		Provider:   "fixed",
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// newPipeline wires a coordinator with a real Kafka sink and returns the
// coordinator plus the source reader.
func newPipeline(t *testing.T, cfg *config.Config) (*pipeline.Coordinator, *kafka.Reader) {
	t.Helper()

	clk := clockwork.NewRealClock()
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	store := cache.NewMemory(time.Hour, clk, logger, metrics)
	limiter := ratelimit.New(clk, 10*time.Second, metrics)
	limiter.Register("fixed", 100, 100)

	policy := domain.ResolutionPolicy{
		ProviderOrder:   []string{"fixed"},
		RetryPasses:     1,
		AcceptableTiers: map[domain.AccuracyTier]bool{domain.TierPrecise: true},
		CacheTTL:        time.Hour,
		JobDeadline:     time.Minute,
	}
	resolver := pipeline.NewResolver([]domain.Provider{fixedProvider{}}, limiter, store, clk, logger, metrics)

	sink := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = sink.Close() })

	coordinator := pipeline.NewCoordinator(resolver, store, sink, policy, 2, clk, logger, metrics)

	reader := kafka.NewReader(cfg, coordinator, logger)
	t.Cleanup(func() { _ = reader.Close() })

	return coordinator, reader
}

type sinkMessage struct {
	EntityID   string  `json:"entity_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Tier       string  `json:"tier"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

func readSink(ctx context.Context, t *testing.T, consumer *kafkago.Reader) (sinkMessage, map[string]string) {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var out sinkMessage
	require.NoError(t, json.Unmarshal(msg.Value, &out))
	return out, headers
}

// TestAddressChangeRoundTrip publishes an address-change event and verifies
// the resolved coordinates arrive on the results topic.
func TestAddressChangeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaSourceTopic: testSourceTopic,
		KafkaSinkTopic:   testSinkTopic,
		KafkaGroupID:     fmt.Sprintf("test-roundtrip-%d", time.Now().UnixNano()),
	}

	coordinator, reader := newPipeline(t, cfg)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = coordinator.Run(runCtx) }()
	go func() { _ = reader.Run(runCtx) }()

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key: []byte("npi-1001"),
		Value: []byte(`{
			"entity_id": "npi-1001",
			"street1": "1100 Congress Ave",
			"city": "Austin",
			"state": "TX",
			"postal_code": "78701",
			"priority": "high"
		}`),
	}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	result, headers := readSink(ctx, t, consumer)
	assert.Equal(t, "npi-1001", result.EntityID)
	assert.Equal(t, 30.2672, result.Lat)
	assert.Equal(t, -97.7431, result.Lon)
	assert.Equal(t, "PRECISE", result.Tier)
	assert.Equal(t, "fixed", result.Provider)
	assert.Equal(t, "fixed", headers["provider"])
	assert.Equal(t, "PRECISE", headers["tier"])
	_, err := time.Parse(time.RFC3339, headers["resolved_at"])
	assert.NoError(t, err, "resolved_at header should be valid RFC3339")
}

// TestMalformedAddressChangeSkipped publishes a poison pill followed by a
// valid record and verifies only the valid one reaches the sink.
func TestMalformedAddressChangeSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaSourceTopic: testSourceTopic,
		KafkaSinkTopic:   testSinkTopic,
		KafkaGroupID:     fmt.Sprintf("test-poison-%d", time.Now().UnixNano()),
	}

	coordinator, reader := newPipeline(t, cfg)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = coordinator.Run(runCtx) }()
	go func() { _ = reader.Run(runCtx) }()

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{
			Key:   []byte("npi-2002"),
			Value: []byte(`{"entity_id": "npi-2002", "street1": "500 W 2nd St", "city": "Austin", "state": "TX"}`),
		},
	))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	result, _ := readSink(ctx, t, consumer)
	assert.Equal(t, "npi-2002", result.EntityID)

	// The poison pill must not produce a second sink message.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")
}
