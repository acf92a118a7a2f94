package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trogers1052/signal-alert-service/internal/models"
)

// maxStatusLen bounds the free-text status column so embedded diagnostic
// detail cannot grow without limit.
const maxStatusLen = 500

// UpsertSubscription inserts or updates a subscription, idempotent on
// stream_id. Cursor and run-status fields are not touched on update.
func (db *DB) UpsertSubscription(sub *models.Subscription) error {
	params, err := marshalOpaque(sub.StrategyParams)
	if err != nil {
		return fmt.Errorf("failed to encode strategy params: %w", err)
	}
	settings, err := marshalOpaque(sub.BacktestSettings)
	if err != nil {
		return fmt.Errorf("failed to encode backtest settings: %w", err)
	}

	query := `
		INSERT INTO signal_subscriptions (
			stream_id, enabled, symbol, interval, strategy_key,
			strategy_params, backtest_settings, freshness_bars,
			notify_entry, notify_exit, candle_limit,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (stream_id)
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			symbol = EXCLUDED.symbol,
			interval = EXCLUDED.interval,
			strategy_key = EXCLUDED.strategy_key,
			strategy_params = EXCLUDED.strategy_params,
			backtest_settings = EXCLUDED.backtest_settings,
			freshness_bars = EXCLUDED.freshness_bars,
			notify_entry = EXCLUDED.notify_entry,
			notify_exit = EXCLUDED.notify_exit,
			candle_limit = EXCLUDED.candle_limit,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = db.conn.QueryRow(query,
		sub.StreamID, sub.Enabled, sub.Symbol, sub.Interval, sub.StrategyKey,
		params, settings, sub.FreshnessBars,
		sub.NotifyEntry, sub.NotifyExit, sub.CandleLimit,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", sub.StreamID, err)
	}
	return nil
}

const subscriptionColumns = `
	stream_id, enabled, symbol, interval, strategy_key,
	strategy_params, backtest_settings, freshness_bars,
	notify_entry, notify_exit, candle_limit,
	last_processed_closed_candle_time, last_run_at, last_status,
	last_exit_alert_token, created_at, updated_at
`

// GetSubscription retrieves a subscription by stream id.
func (db *DB) GetSubscription(streamID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM signal_subscriptions WHERE stream_id = $1`

	sub, err := scanSubscription(db.conn.QueryRow(query, streamID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription not found: %s", streamID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", streamID, err)
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions ordered by stream id.
func (db *DB) ListSubscriptions() ([]*models.Subscription, error) {
	return db.listSubscriptions(`SELECT ` + subscriptionColumns + ` FROM signal_subscriptions ORDER BY stream_id`)
}

// ListEnabledSubscriptions returns subscriptions the scheduler should run.
func (db *DB) ListEnabledSubscriptions() ([]*models.Subscription, error) {
	return db.listSubscriptions(`SELECT ` + subscriptionColumns + ` FROM signal_subscriptions WHERE enabled ORDER BY stream_id`)
}

func (db *DB) listSubscriptions(query string, args ...interface{}) ([]*models.Subscription, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DisableSubscription soft-disables a watch, preserving its history.
func (db *DB) DisableSubscription(streamID string) error {
	result, err := db.conn.Exec(
		`UPDATE signal_subscriptions SET enabled = FALSE, updated_at = NOW() WHERE stream_id = $1`,
		streamID,
	)
	if err != nil {
		return fmt.Errorf("failed to disable subscription %s: %w", streamID, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: %s", streamID)
	}
	return nil
}

// DeleteSubscription hard-deletes a subscription and its signal history in
// one transaction.
func (db *DB) DeleteSubscription(streamID, channelKey string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entry_signals WHERE channel_key = $1`, channelKey); err != nil {
		return fmt.Errorf("failed to delete signal history for %s: %w", streamID, err)
	}

	result, err := tx.Exec(`DELETE FROM signal_subscriptions WHERE stream_id = $1`, streamID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", streamID, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: %s", streamID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordRunResult persists the outcome of one pipeline run. The cursor only
// ever moves forward: GREATEST guards against regression, and callers pass
// closedTime = 0 when the run did not complete an evaluation.
func (db *DB) RecordRunResult(streamID, status string, closedTime int64) error {
	query := `
		UPDATE signal_subscriptions SET
			last_run_at = NOW(),
			last_status = $2,
			last_processed_closed_candle_time = GREATEST(last_processed_closed_candle_time, $3),
			updated_at = NOW()
		WHERE stream_id = $1
	`
	_, err := db.conn.Exec(query, streamID, truncateStatus(status), closedTime)
	if err != nil {
		return fmt.Errorf("failed to record run result for %s: %w", streamID, err)
	}
	return nil
}

// SetExitAlertToken records the dedupe token for the current position
// cycle's exit alert.
func (db *DB) SetExitAlertToken(streamID, token string) error {
	_, err := db.conn.Exec(
		`UPDATE signal_subscriptions SET last_exit_alert_token = $2, updated_at = NOW() WHERE stream_id = $1`,
		streamID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to set exit alert token for %s: %w", streamID, err)
	}
	return nil
}

// ClearExitAlertToken resets the exit dedupe token; a fresh entry starts a
// new position cycle.
func (db *DB) ClearExitAlertToken(streamID string) error {
	_, err := db.conn.Exec(
		`UPDATE signal_subscriptions SET last_exit_alert_token = NULL, updated_at = NOW() WHERE stream_id = $1`,
		streamID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear exit alert token for %s: %w", streamID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var params, settings []byte
	var lastRunAt sql.NullTime
	var lastStatus, exitToken sql.NullString

	err := row.Scan(
		&sub.StreamID, &sub.Enabled, &sub.Symbol, &sub.Interval, &sub.StrategyKey,
		&params, &settings, &sub.FreshnessBars,
		&sub.NotifyEntry, &sub.NotifyExit, &sub.CandleLimit,
		&sub.LastProcessedClosedCandleTime, &lastRunAt, &lastStatus,
		&exitToken, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalOpaque(params, &sub.StrategyParams); err != nil {
		return nil, fmt.Errorf("decoding strategy params: %w", err)
	}
	if err := unmarshalOpaque(settings, &sub.BacktestSettings); err != nil {
		return nil, fmt.Errorf("decoding backtest settings: %w", err)
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sub.LastRunAt = &t
	}
	if lastStatus.Valid {
		sub.LastStatus = lastStatus.String
	}
	if exitToken.Valid {
		sub.LastExitAlertToken = exitToken.String
	}

	return &sub, nil
}

func marshalOpaque(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalOpaque(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func truncateStatus(status string) string {
	if len(status) <= maxStatusLen {
		return status
	}
	return status[:maxStatusLen]
}
