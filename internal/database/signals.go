package database

import (
	"database/sql"
	"fmt"

	"github.com/trogers1052/signal-alert-service/internal/models"
)

// TryInsertEntrySignal appends a signal to the ledger with do-nothing-on-
// conflict semantics keyed on dedupe_key. The returned bool is true only for
// a first-time insert; false means this fingerprint was already recorded.
func (db *DB) TryInsertEntrySignal(sig *models.EntrySignal) (bool, error) {
	query := `
		INSERT INTO entry_signals (
			channel_key, dedupe_key, symbol, interval, strategy_key,
			direction, fingerprint, signal_time, signal_price, reason,
			payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	payload := sig.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	result, err := db.conn.Exec(query,
		sig.ChannelKey, sig.DedupeKey, sig.Symbol, sig.Interval, sig.StrategyKey,
		sig.Direction, sig.Fingerprint, sig.SignalTime, sig.SignalPrice, sig.Reason,
		payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert entry signal %s: %w", sig.DedupeKey, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for %s: %w", sig.DedupeKey, err)
	}
	return rowsAffected > 0, nil
}

// DeleteEntrySignal removes a ledger row. Used only to roll back a fresh
// insert whose downstream notification failed, so the next tick retries with
// the same fingerprint.
func (db *DB) DeleteEntrySignal(dedupeKey string) error {
	_, err := db.conn.Exec(`DELETE FROM entry_signals WHERE dedupe_key = $1`, dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to delete entry signal %s: %w", dedupeKey, err)
	}
	return nil
}

const entrySignalColumns = `
	id, channel_key, dedupe_key, symbol, interval, strategy_key,
	direction, fingerprint, signal_time, signal_price, reason,
	payload, created_at
`

// LatestEntrySignal returns the most recent recorded entry for a channel, or
// nil when the channel has no history.
func (db *DB) LatestEntrySignal(channelKey string) (*models.EntrySignal, error) {
	query := `SELECT ` + entrySignalColumns + `
		FROM entry_signals
		WHERE channel_key = $1
		ORDER BY signal_time DESC, id DESC
		LIMIT 1`

	sig, err := scanEntrySignal(db.conn.QueryRow(query, channelKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest entry signal for %s: %w", channelKey, err)
	}
	return sig, nil
}

// ListEntrySignals returns a channel's signal history, newest first.
func (db *DB) ListEntrySignals(channelKey string, limit int) ([]*models.EntrySignal, error) {
	query := `SELECT ` + entrySignalColumns + `
		FROM entry_signals
		WHERE channel_key = $1
		ORDER BY signal_time DESC, id DESC
		LIMIT $2`

	rows, err := db.conn.Query(query, channelKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry signals for %s: %w", channelKey, err)
	}
	defer rows.Close()

	var signals []*models.EntrySignal
	for rows.Next() {
		sig, err := scanEntrySignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func scanEntrySignal(row rowScanner) (*models.EntrySignal, error) {
	var sig models.EntrySignal
	var reason sql.NullString
	var price sql.NullString

	err := row.Scan(
		&sig.ID, &sig.ChannelKey, &sig.DedupeKey, &sig.Symbol, &sig.Interval,
		&sig.StrategyKey, &sig.Direction, &sig.Fingerprint, &sig.SignalTime,
		&price, &reason, &sig.Payload, &sig.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if price.Valid {
		if err := sig.SignalPrice.UnmarshalText([]byte(price.String)); err != nil {
			return nil, fmt.Errorf("decoding signal price %q: %w", price.String, err)
		}
	}
	if reason.Valid {
		sig.Reason = reason.String
	}

	return &sig, nil
}
