package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

func evaluatorServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluate_DecodesSignal(t *testing.T) {
	var gotReq Request
	srv := evaluatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/evaluate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(evaluateResponse{Signal: &Signal{
			Direction:   models.DirectionLong,
			Fingerprint: "fp1",
			SignalTime:  1700003600,
			SignalPrice: 42000,
			TradeState:  TradeStateOpenLong,
		}})
	})

	e := NewHTTPEvaluator(srv.URL, time.Second)
	sig, err := e.Evaluate(context.Background(), &Request{
		StreamID:    "btcusdt-1h-ema_cross",
		Symbol:      "BTCUSDT",
		Interval:    "1h",
		StrategyKey: "ema_cross",
		Candles:     []models.Candle{{Time: 1700000000, Close: 42000}},
	})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "fp1", sig.Fingerprint)
	assert.True(t, sig.HasOpenPosition())
	assert.Equal(t, "BTCUSDT", gotReq.Symbol)
	assert.Len(t, gotReq.Candles, 1)
}

func TestEvaluate_NullSignalMeansNoSignal(t *testing.T) {
	srv := evaluatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"signal": null}`))
	})

	e := NewHTTPEvaluator(srv.URL, time.Second)
	sig, err := e.Evaluate(context.Background(), &Request{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluate_NonOKStatus(t *testing.T) {
	srv := evaluatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "strategy not found", http.StatusNotFound)
	})

	e := NewHTTPEvaluator(srv.URL, time.Second)
	_, err := e.Evaluate(context.Background(), &Request{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "strategy not found")
}

func TestEvaluate_RejectsInvalidSignal(t *testing.T) {
	srv := evaluatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"signal": {"direction": "sideways", "fingerprint": "fp", "signal_time": 1}}`))
	})

	e := NewHTTPEvaluator(srv.URL, time.Second)
	_, err := e.Evaluate(context.Background(), &Request{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signal")
}

func TestSignalValidate(t *testing.T) {
	valid := &Signal{Direction: models.DirectionShort, Fingerprint: "fp", SignalTime: 1700000000}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Signal{Direction: "up", Fingerprint: "fp", SignalTime: 1}).Validate())
	assert.Error(t, (&Signal{Direction: models.DirectionLong, SignalTime: 1}).Validate())
	assert.Error(t, (&Signal{Direction: models.DirectionLong, Fingerprint: "fp"}).Validate())
}
