package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

func testSignal() *models.EntrySignal {
	return &models.EntrySignal{
		ChannelKey:  "btcusdt-1h-ema_cross",
		DedupeKey:   "btcusdt-1h-ema_cross:fp-abc",
		Symbol:      "BTCUSDT",
		Interval:    "1h",
		StrategyKey: "ema_cross",
		Direction:   models.DirectionLong,
		Fingerprint: "fp-abc",
		SignalTime:  1700000000,
		SignalPrice: decimal.NewFromFloat(43125.5),
		Reason:      "ema cross up",
		Payload:     []byte(`{"direction":"long"}`),
	}
}

func TestTryInsertEntrySignal_FirstInsert(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO entry_signals").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := db.TryInsertEntrySignal(testSignal())
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryInsertEntrySignal_ConflictIsReplay(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO entry_signals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := db.TryInsertEntrySignal(testSignal())
	require.NoError(t, err)
	assert.False(t, inserted, "conflicting dedupe key must report a replay")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEntrySignal(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM entry_signals WHERE dedupe_key").
		WithArgs("btcusdt-1h-ema_cross:fp-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.DeleteEntrySignal("btcusdt-1h-ema_cross:fp-abc"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func signalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "channel_key", "dedupe_key", "symbol", "interval", "strategy_key",
		"direction", "fingerprint", "signal_time", "signal_price", "reason",
		"payload", "created_at",
	})
}

func TestLatestEntrySignal(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM entry_signals").
		WithArgs("btcusdt-1h-ema_cross").
		WillReturnRows(signalRows().AddRow(
			int64(7), "btcusdt-1h-ema_cross", "btcusdt-1h-ema_cross:fp-abc",
			"BTCUSDT", "1h", "ema_cross", "long", "fp-abc",
			int64(1700000000), "43125.5", "ema cross up",
			[]byte(`{}`), time.Now(),
		))

	sig, err := db.LatestEntrySignal("btcusdt-1h-ema_cross")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "fp-abc", sig.Fingerprint)
	assert.Equal(t, models.DirectionLong, sig.Direction)
	assert.True(t, sig.SignalPrice.Equal(decimal.NewFromFloat(43125.5)))
}

func TestLatestEntrySignal_NoHistory(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM entry_signals").
		WithArgs("empty-channel").
		WillReturnRows(signalRows())

	sig, err := db.LatestEntrySignal("empty-channel")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestListEntrySignals(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM entry_signals").
		WithArgs("btcusdt-1h-ema_cross", 50).
		WillReturnRows(signalRows().
			AddRow(int64(2), "btcusdt-1h-ema_cross", "btcusdt-1h-ema_cross:fp2",
				"BTCUSDT", "1h", "ema_cross", "short", "fp2",
				int64(1700003600), "43000", nil, []byte(`{}`), time.Now()).
			AddRow(int64(1), "btcusdt-1h-ema_cross", "btcusdt-1h-ema_cross:fp1",
				"BTCUSDT", "1h", "ema_cross", "long", "fp1",
				int64(1700000000), "42000", "cross", []byte(`{}`), time.Now()))

	signals, err := db.ListEntrySignals("btcusdt-1h-ema_cross", 50)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "fp2", signals[0].Fingerprint)
	assert.Empty(t, signals[0].Reason)
	assert.Equal(t, "cross", signals[1].Reason)
}
