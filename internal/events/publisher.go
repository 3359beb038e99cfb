// Package events publishes recorded deployment outcomes to Kafka for
// downstream consumers (dashboards, alerting, audit).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

// EventTypeOutcomeRecorded identifies outcome events on the wire.
const EventTypeOutcomeRecorded = "outcome.recorded"

// Event is the envelope for all published events.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher is a Kafka outcome event publisher.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a publisher over the given brokers.
func NewPublisher(brokers []string, topic string, log *logger.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      log.WithComponent("event-publisher"),
	}, nil
}

// PublishOutcome publishes an outcome.recorded event keyed by deployment id.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome *models.DeploymentOutcome) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      EventTypeOutcomeRecorded,
		Source:    "negotiator",
		Timestamp: time.Now().UTC(),
		Data:      outcome,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(outcome.DeploymentID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	p.log.Debug("outcome event published",
		"topic", p.topic,
		"deployment_id", outcome.DeploymentID,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
