package database

import (
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(conn), mock
}

func TestUpsertSubscription(t *testing.T) {
	db, mock := newMockDB(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO signal_subscriptions").
		WithArgs("btcusdt-1h-ema_cross", true, "BTCUSDT", "1h", "ema_cross",
			[]byte(`{"fast":9}`), []byte("{}"), 2, true, true, 300).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	sub := &models.Subscription{
		StreamID:       "btcusdt-1h-ema_cross",
		Enabled:        true,
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		StrategyKey:    "ema_cross",
		StrategyParams: map[string]any{"fast": 9},
		FreshnessBars:  2,
		NotifyEntry:    true,
		NotifyExit:     true,
		CandleLimit:    300,
	}

	require.NoError(t, db.UpsertSubscription(sub))
	assert.Equal(t, now, sub.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunResult_TruncatesStatus(t *testing.T) {
	db, mock := newMockDB(t)

	longStatus := "error:" + strings.Repeat("x", 2*maxStatusLen)
	mock.ExpectExec("UPDATE signal_subscriptions SET").
		WithArgs("stream-1", longStatus[:maxStatusLen], int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.RecordRunResult("stream-1", longStatus, 1700000000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunResult_CursorGuardUsesGreatest(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("GREATEST").
		WithArgs("stream-1", "no_new_closed_candle", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.RecordRunResult("stream-1", "no_new_closed_candle", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisableSubscription_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE signal_subscriptions SET enabled = FALSE").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.DisableSubscription("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteSubscription_RemovesHistoryInTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM entry_signals WHERE channel_key").
		WithArgs("btcusdt-1h-ema_cross").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM signal_subscriptions WHERE stream_id").
		WithArgs("BTCUSDT-1h-ema_cross").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.DeleteSubscription("BTCUSDT-1h-ema_cross", "btcusdt-1h-ema_cross"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAndClearExitAlertToken(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE signal_subscriptions SET last_exit_alert_token").
		WithArgs("stream-1", "fp1:fp2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE signal_subscriptions SET last_exit_alert_token = NULL").
		WithArgs("stream-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.SetExitAlertToken("stream-1", "fp1:fp2"))
	require.NoError(t, db.ClearExitAlertToken("stream-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEnabledSubscriptions_ScansOpaqueFields(t *testing.T) {
	db, mock := newMockDB(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"stream_id", "enabled", "symbol", "interval", "strategy_key",
		"strategy_params", "backtest_settings", "freshness_bars",
		"notify_entry", "notify_exit", "candle_limit",
		"last_processed_closed_candle_time", "last_run_at", "last_status",
		"last_exit_alert_token", "created_at", "updated_at",
	}).AddRow(
		"btcusdt-1h-ema_cross", true, "BTCUSDT", "1h", "ema_cross",
		[]byte(`{"fast":9,"slow":21}`), []byte(`{"parity":"even"}`), 2,
		true, false, 300,
		int64(1700000000), now, "no_signal",
		nil, now, now,
	)

	mock.ExpectQuery("FROM signal_subscriptions WHERE enabled").WillReturnRows(rows)

	subs, err := db.ListEnabledSubscriptions()
	require.NoError(t, err)
	require.Len(t, subs, 1)

	sub := subs[0]
	assert.Equal(t, "BTCUSDT", sub.Symbol)
	assert.Equal(t, float64(9), sub.StrategyParams["fast"])
	assert.Equal(t, "even", sub.BacktestSettings["parity"])
	assert.Equal(t, int64(1700000000), sub.LastProcessedClosedCandleTime)
	assert.Empty(t, sub.LastExitAlertToken)
	require.NotNil(t, sub.LastRunAt)
}
