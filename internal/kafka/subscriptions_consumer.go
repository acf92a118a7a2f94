package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// SubscriptionRepository defines the interface for subscription database operations
type SubscriptionRepository interface {
	UpsertSubscription(sub *models.Subscription) error
	DisableSubscription(streamID string) error
}

// SubscriptionEvent represents a subscription command from Kafka
type SubscriptionEvent struct {
	EventType string                `json:"event_type"`
	Source    string                `json:"source"`
	Timestamp string                `json:"timestamp"`
	Data      SubscriptionEventData `json:"data"`
}

// SubscriptionEventData holds the data for different subscription event types
type SubscriptionEventData struct {
	// For SUBSCRIPTION_UPSERTED events
	StreamID         string         `json:"stream_id,omitempty"`
	ConfigName       string         `json:"config_name,omitempty"`
	Symbol           string         `json:"symbol,omitempty"`
	Interval         string         `json:"interval,omitempty"`
	StrategyKey      string         `json:"strategy_key,omitempty"`
	StrategyParams   map[string]any `json:"strategy_params,omitempty"`
	BacktestSettings map[string]any `json:"backtest_settings,omitempty"`
	FreshnessBars    int            `json:"freshness_bars,omitempty"`
	NotifyEntry      *bool          `json:"notify_entry,omitempty"`
	NotifyExit       *bool          `json:"notify_exit,omitempty"`
	CandleLimit      int            `json:"candle_limit,omitempty"`
}

// SubscriptionsConsumer handles consuming subscription commands from Kafka,
// letting upstream systems manage watches without going through the HTTP API
type SubscriptionsConsumer struct {
	reader *kafka.Reader
	repo   SubscriptionRepository
}

// NewSubscriptionsConsumer creates a new Kafka consumer for subscription events
func NewSubscriptionsConsumer(brokers []string, topic, groupID string, repo SubscriptionRepository) *SubscriptionsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-subscriptions",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &SubscriptionsConsumer{
		reader: reader,
		repo:   repo,
	}
}

// Start begins consuming messages from Kafka
func (c *SubscriptionsConsumer) Start(ctx context.Context) error {
	log.Printf("Starting subscriptions consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Subscriptions consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading subscription message: %v", err)
				continue
			}

			if err := c.processMessage(msg); err != nil {
				log.Printf("Error processing subscription message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *SubscriptionsConsumer) processMessage(msg kafka.Message) error {
	log.Printf("Received subscription message from partition %d offset %d: key=%s",
		msg.Partition, msg.Offset, string(msg.Key))

	var event SubscriptionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.EventType {
	case "SUBSCRIPTION_UPSERTED":
		return c.handleUpserted(event)

	case "SUBSCRIPTION_DISABLED":
		return c.handleDisabled(event)

	default:
		log.Printf("Ignoring unknown subscription event type: %s", event.EventType)
		return nil
	}
}

// handleUpserted creates or updates a watch from the event payload
func (c *SubscriptionsConsumer) handleUpserted(event SubscriptionEvent) error {
	d := event.Data

	streamID := d.StreamID
	if streamID == "" {
		streamID = models.DeriveStreamID(d.Symbol, d.Interval, d.StrategyKey, d.ConfigName)
	}

	sub := &models.Subscription{
		StreamID:         streamID,
		Enabled:          true,
		Symbol:           d.Symbol,
		Interval:         d.Interval,
		StrategyKey:      d.StrategyKey,
		StrategyParams:   d.StrategyParams,
		BacktestSettings: d.BacktestSettings,
		FreshnessBars:    d.FreshnessBars,
		NotifyEntry:      true,
		NotifyExit:       true,
		CandleLimit:      models.ClampCandleLimit(d.CandleLimit),
	}
	if d.NotifyEntry != nil {
		sub.NotifyEntry = *d.NotifyEntry
	}
	if d.NotifyExit != nil {
		sub.NotifyExit = *d.NotifyExit
	}

	if err := sub.Validate(); err != nil {
		return fmt.Errorf("invalid subscription event: %w", err)
	}

	if err := c.repo.UpsertSubscription(sub); err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", streamID, err)
	}

	log.Printf("Upserted subscription from event: %s (%s %s %s)",
		streamID, sub.Symbol, sub.Interval, sub.StrategyKey)
	return nil
}

// handleDisabled soft-disables a watch, keeping its history
func (c *SubscriptionsConsumer) handleDisabled(event SubscriptionEvent) error {
	streamID := event.Data.StreamID
	if streamID == "" {
		return fmt.Errorf("subscription disable event missing stream_id")
	}

	if err := c.repo.DisableSubscription(streamID); err != nil {
		return fmt.Errorf("failed to disable subscription %s: %w", streamID, err)
	}

	log.Printf("Disabled subscription from event: %s", streamID)
	return nil
}

// Close closes the Kafka consumer
func (c *SubscriptionsConsumer) Close() error {
	return c.reader.Close()
}
