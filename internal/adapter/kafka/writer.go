// Package kafka wires the geocoding core to the CRM's Kafka topics: the
// address-change source and the store-of-record results sink.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes resolved geocode results keyed by owning entity id.
// It implements domain.ResultSink: the write contract to the store of
// record, whose schema the core does not own.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// WriteResult serializes and publishes one resolved result.
func (w *Writer) WriteResult(ctx context.Context, entityID string, result domain.GeocodeResult) error {
	msg, err := serializeResult(entityID, result)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// resultRecord is the wire form of the persistence write contract.
type resultRecord struct {
	EntityID    string              `json:"entity_id"`
	Lat         float64             `json:"lat"`
	Lon         float64             `json:"lon"`
	Tier        domain.AccuracyTier `json:"tier"`
	Confidence  float64             `json:"confidence"`
	Provider    string              `json:"provider"`
	LowAccuracy bool                `json:"low_accuracy,omitempty"`
	ResolvedAt  time.Time           `json:"resolved_at"`
}

// serializeResult marshals a geocode result into a Kafka message keyed by
// the owning entity id.
func serializeResult(entityID string, result domain.GeocodeResult) (kafkago.Message, error) {
	data, err := json.Marshal(resultRecord{
		EntityID:    entityID,
		Lat:         result.Lat,
		Lon:         result.Lon,
		Tier:        result.Tier,
		Confidence:  result.Confidence,
		Provider:    result.Provider,
		LowAccuracy: result.LowAccuracy,
		ResolvedAt:  result.ResolvedAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geocode result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(entityID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "provider", Value: []byte(result.Provider)},
			{Key: "tier", Value: []byte(result.Tier)},
			{Key: "resolved_at", Value: []byte(result.ResolvedAt.Format(time.RFC3339))},
		},
	}, nil
}

var _ domain.ResultSink = (*Writer)(nil)
