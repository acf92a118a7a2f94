package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// Signal event types published for downstream consumers.
const (
	EventSignalEntry = "SIGNAL_ENTRY"
	EventSignalExit  = "SIGNAL_EXIT"
)

// SignalEvent mirrors a delivered alert onto the signal events topic.
type SignalEvent struct {
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp string          `json:"timestamp"`
	Data      SignalEventData `json:"data"`
}

// SignalEventData carries the signal details
type SignalEventData struct {
	StreamID    string  `json:"stream_id"`
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	StrategyKey string  `json:"strategy_key"`
	Direction   string  `json:"direction"`
	Fingerprint string  `json:"fingerprint"`
	SignalTime  int64   `json:"signal_time"`
	SignalPrice float64 `json:"signal_price"`
	Reason      string  `json:"reason,omitempty"`
}

// Producer publishes signal events to Kafka
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer for the signal events topic
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

// PublishEntrySignal publishes an entry alert that was just delivered.
func (p *Producer) PublishEntrySignal(ctx context.Context, streamID string, sig *models.EntrySignal) error {
	price, _ := sig.SignalPrice.Float64()
	return p.publish(ctx, streamID, SignalEvent{
		EventType: EventSignalEntry,
		Source:    "signal-alert-service",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: SignalEventData{
			StreamID:    streamID,
			Symbol:      sig.Symbol,
			Interval:    sig.Interval,
			StrategyKey: sig.StrategyKey,
			Direction:   sig.Direction,
			Fingerprint: sig.Fingerprint,
			SignalTime:  sig.SignalTime,
			SignalPrice: price,
			Reason:      sig.Reason,
		},
	})
}

// PublishExitSignal publishes an exit alert that was just delivered.
func (p *Producer) PublishExitSignal(ctx context.Context, streamID string, data SignalEventData) error {
	return p.publish(ctx, streamID, SignalEvent{
		EventType: EventSignalExit,
		Source:    "signal-alert-service",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
}

func (p *Producer) publish(ctx context.Context, key string, event SignalEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal signal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish signal event: %w", err)
	}
	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
