package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Signal directions as reported by the strategy evaluator.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// EntrySignal is one row of the append-only signal ledger. At most one row
// per DedupeKey ever exists; that uniqueness is the system's only
// notification idempotency guarantee.
type EntrySignal struct {
	ID          int64           `json:"id"`
	ChannelKey  string          `json:"channel_key"`
	DedupeKey   string          `json:"dedupe_key"`
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	StrategyKey string          `json:"strategy_key"`
	Direction   string          `json:"direction"`
	Fingerprint string          `json:"fingerprint"`
	SignalTime  int64           `json:"signal_time"`
	SignalPrice decimal.Decimal `json:"signal_price"`
	Reason      string          `json:"reason,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DedupeKey joins a channel key and a signal fingerprint.
func DedupeKey(channelKey, fingerprint string) string {
	return channelKey + ":" + fingerprint
}
