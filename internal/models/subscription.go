package models

import (
	"fmt"
	"strings"
	"time"
)

// Candle limits requested per tick are clamped into this range.
const (
	MinCandleLimit     = 50
	MaxCandleLimit     = 1000
	DefaultCandleLimit = 300
)

// Subscription is a durable record of one symbol/interval/strategy watch.
type Subscription struct {
	StreamID         string         `json:"stream_id"`
	Enabled          bool           `json:"enabled"`
	Symbol           string         `json:"symbol"`
	Interval         string         `json:"interval"`
	StrategyKey      string         `json:"strategy_key"`
	StrategyParams   map[string]any `json:"strategy_params,omitempty"`
	BacktestSettings map[string]any `json:"backtest_settings,omitempty"`
	FreshnessBars    int            `json:"freshness_bars"`
	NotifyEntry      bool           `json:"notify_entry"`
	NotifyExit       bool           `json:"notify_exit"`
	CandleLimit      int            `json:"candle_limit"`

	// LastProcessedClosedCandleTime is the unix time of the newest closed
	// candle whose evaluation completed successfully. 0 = never run. It only
	// ever advances forward.
	LastProcessedClosedCandleTime int64 `json:"last_processed_closed_candle_time"`

	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`

	// LastExitAlertToken dedupes opposite-direction exit alerts for the
	// current position cycle. Cleared whenever a new entry is notified.
	LastExitAlertToken string `json:"last_exit_alert_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelKey groups a subscription's signals for history queries.
func (s *Subscription) ChannelKey() string {
	return strings.ToLower(s.StreamID)
}

// ClampCandleLimit bounds the per-tick candle request size.
func ClampCandleLimit(limit int) int {
	if limit <= 0 {
		return DefaultCandleLimit
	}
	if limit < MinCandleLimit {
		return MinCandleLimit
	}
	if limit > MaxCandleLimit {
		return MaxCandleLimit
	}
	return limit
}

// DeriveStreamID builds the stable identity of a watch from its defining
// fields when the caller did not supply one explicitly.
func DeriveStreamID(symbol, intervalToken, strategyKey, configName string) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(symbol)),
		strings.ToLower(strings.TrimSpace(intervalToken)),
		strings.ToLower(strings.TrimSpace(strategyKey)),
	}
	if name := strings.TrimSpace(configName); name != "" {
		parts = append(parts, sanitizeIDPart(name))
	}
	return strings.Join(parts, "-")
}

func sanitizeIDPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Validate checks the fields a subscription cannot function without.
func (s *Subscription) Validate() error {
	if s.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Interval == "" {
		return fmt.Errorf("interval is required")
	}
	if s.StrategyKey == "" {
		return fmt.Errorf("strategy_key is required")
	}
	if s.FreshnessBars < 0 {
		return fmt.Errorf("freshness_bars must be >= 0")
	}
	return nil
}
