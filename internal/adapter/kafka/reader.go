package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medintel/geocoding-service/internal/config"
	"github.com/medintel/geocoding-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// BatchSubmitter accepts address batches for resolution; implemented by
// the pipeline coordinator.
type BatchSubmitter interface {
	Submit(addresses []domain.Address, priority domain.Priority, sourceTag string) (string, error)
}

// addressChange is the message the ingestion pipeline publishes when a
// CRM record's address changes.
type addressChange struct {
	EntityID   string `json:"entity_id"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Priority   string `json:"priority,omitempty"`
}

// Reader consumes address-change events and submits each as a geocoding
// job. Offsets are committed only after the coordinator has accepted the
// submission, so a crash never drops an address change.
type Reader struct {
	reader    *kafkago.Reader
	submitter BatchSubmitter
	logger    *slog.Logger
	sourceTag string
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, submitter BatchSubmitter, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaSourceTopic,
		GroupID: cfg.KafkaGroupID,
	})
	return &Reader{
		reader:    r,
		submitter: submitter,
		logger:    logger,
		sourceTag: "kafka:" + cfg.KafkaSourceTopic,
	}
}

// Run consumes until ctx is cancelled. Malformed messages are logged,
// committed, and skipped; they are an ingestion bug, not a reason to
// stall the partition.
func (r *Reader) Run(ctx context.Context) error {
	r.logger.Info("kafka source started", "topic", r.reader.Config().Topic)

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		addr, priority, err := parseAddressChange(msg)
		if err != nil {
			r.logger.Warn("skipping malformed address change",
				"error", err, "partition", msg.Partition, "offset", msg.Offset)
			r.commit(ctx, msg)
			continue
		}

		if _, err := r.submitter.Submit([]domain.Address{addr}, priority, r.sourceTag); err != nil {
			r.logger.Error("submit failed", "entity_id", addr.EntityID, "error", err)
			continue // do not commit; retry on next fetch cycle
		}
		r.commit(ctx, msg)
	}
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func (r *Reader) commit(ctx context.Context, msg kafkago.Message) {
	if err := r.reader.CommitMessages(ctx, msg); err != nil {
		r.logger.Warn("commit offset failed",
			"error", err, "partition", msg.Partition, "offset", msg.Offset)
	}
}

// parseAddressChange deserializes a source message into an Address.
func parseAddressChange(msg kafkago.Message) (domain.Address, domain.Priority, error) {
	var ac addressChange
	if err := json.Unmarshal(msg.Value, &ac); err != nil {
		return domain.Address{}, 0, fmt.Errorf("parse address change: %w", err)
	}
	if ac.EntityID == "" {
		ac.EntityID = string(msg.Key)
	}
	if ac.EntityID == "" {
		return domain.Address{}, 0, errors.New("address change has no entity id")
	}
	return domain.Address{
		EntityID:   ac.EntityID,
		Street1:    ac.Street1,
		Street2:    ac.Street2,
		City:       ac.City,
		State:      ac.State,
		PostalCode: ac.PostalCode,
	}, domain.ParsePriority(ac.Priority), nil
}
