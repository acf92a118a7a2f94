package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// klineServer serves Binance-style kline payloads and counts requests.
type klineServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests int
	lastURL  string
}

func newKlineServer(t *testing.T, status int, body func(r *http.Request) string) *klineServer {
	t.Helper()
	ks := &klineServer{}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.mu.Lock()
		ks.requests++
		ks.lastURL = r.URL.String()
		ks.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, body(r))
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *klineServer) Requests() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.requests
}

func (ks *klineServer) LastURL() string {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.lastURL
}

// binanceKlineBody builds an ascending kline array starting at startSec.
func binanceKlineBody(startSec, intervalSec int64, n int) string {
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		openMs := (startSec + int64(i)*intervalSec) * 1000
		rows = append(rows, []any{
			openMs, "100.0", "110.0", "90.0", "105.0", "12.5",
			openMs + intervalSec*1000 - 1,
		})
	}
	b, _ := json.Marshal(rows)
	return string(b)
}

func staticBody(s string) func(*http.Request) string {
	return func(*http.Request) string { return s }
}

func TestFetch_OrderedFallbackStopsAtFirstSuccess(t *testing.T) {
	failing := newKlineServer(t, http.StatusInternalServerError, staticBody("boom"))
	ok := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 3)))
	never := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 3)))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{failing.URL, ok.URL, never.URL},
		RequestTimeout: 2 * time.Second,
	})

	got, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 3, interval.ParityOdd)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1000), got[0].Time)
	assert.Equal(t, 100.0, got[0].Open)

	assert.Equal(t, 1, failing.Requests())
	assert.Equal(t, 1, ok.Requests())
	assert.Equal(t, 0, never.Requests(), "later bases must not be contacted after a success")
}

func TestFetch_AllBasesFailAggregatesReasons(t *testing.T) {
	bad1 := newKlineServer(t, http.StatusBadGateway, staticBody("upstream down"))
	bad2 := newKlineServer(t, http.StatusOK, staticBody("not json"))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{bad1.URL, bad2.URL},
		RequestTimeout: 2 * time.Second,
	})

	_, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 3, interval.ParityOdd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all candle providers failed")
	assert.Contains(t, err.Error(), bad1.URL)
	assert.Contains(t, err.Error(), bad2.URL)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFetch_EmptyPayloadFallsThrough(t *testing.T) {
	empty := newKlineServer(t, http.StatusOK, staticBody("[]"))
	ok := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 2)))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{empty.URL, ok.URL},
		RequestTimeout: 2 * time.Second,
	})

	got, err := src.Fetch(context.Background(), "ETHUSDT", "1h", 2, interval.ParityOdd)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, empty.Requests())
}

func TestFetch_TwoHourEvenSynthesizedFromOneHour(t *testing.T) {
	base := int64(1609459200)
	var sawInterval, sawLimit string
	ok := newKlineServer(t, http.StatusOK, func(r *http.Request) string {
		sawInterval = r.URL.Query().Get("interval")
		sawLimit = r.URL.Query().Get("limit")
		return binanceKlineBody(base, 3600, 9)
	})

	src := NewSource(SourceConfig{
		BinanceBases:   []string{ok.URL},
		RequestTimeout: 2 * time.Second,
	})

	got, err := src.Fetch(context.Background(), "BTCUSDT", "2h", 4, interval.ParityEven)
	require.NoError(t, err)

	assert.Equal(t, "1h", sawInterval, "2h-even must fetch the 1h base interval")
	assert.Equal(t, "9", sawLimit, "requests 2*limit+1 base bars")

	require.NotEmpty(t, got)
	for _, c := range got {
		offset := ((c.Time % int64(interval.TwoHours)) + int64(interval.TwoHours)) % int64(interval.TwoHours)
		assert.Equal(t, int64(3600), offset, "even-parity buckets open on the shifted hour")
	}
}

func TestFetch_TwoHourEvenDropsPartialLeadingBucket(t *testing.T) {
	// 00:00 UTC: on the even-parity grid the first bucket opened at 23:00 the
	// previous day, so the 00:00 bar covers only its second half.
	base := int64(1609459200)
	ok := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(base, 3600, 9)))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{ok.URL},
		RequestTimeout: 2 * time.Second,
	})

	got, err := src.Fetch(context.Background(), "BTCUSDT", "2h", 4, interval.ParityEven)
	require.NoError(t, err)

	require.Len(t, got, 4, "half-covered leading bucket is dropped")
	assert.Equal(t, base+3600, got[0].Time)
	for _, c := range got {
		assert.Equal(t, 25.0, c.Volume, "every returned bucket folds two full base bars")
	}
}

func TestFetch_UntranslatableIntervalSkipsProvider(t *testing.T) {
	// Bybit has no 8h vocabulary entry; only the Binance base may be tried.
	bybit := newKlineServer(t, http.StatusOK, staticBody("{}"))
	binance := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 28800, 2)))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{binance.URL},
		BybitBases:     []string{bybit.URL},
		RequestTimeout: 2 * time.Second,
	})

	_, err := src.Fetch(context.Background(), "BTCUSDT", "8h", 2, interval.ParityOdd)
	require.NoError(t, err)
	assert.Equal(t, 0, bybit.Requests())
}

func TestFetch_NoProviderSupportsInterval(t *testing.T) {
	src := NewSource(SourceConfig{RequestTimeout: time.Second})
	_, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 2, interval.ParityOdd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configured provider")
}

func TestFetch_UnknownIntervalIsConfigError(t *testing.T) {
	src := NewSource(SourceConfig{RequestTimeout: time.Second})
	_, err := src.Fetch(context.Background(), "BTCUSDT", "13q", 2, interval.ParityOdd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "13q")
}

// memPrefs is an in-memory PreferenceCache.
type memPrefs struct {
	mu    sync.Mutex
	prefs map[string]string
}

func (m *memPrefs) PreferredProvider(_ context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[symbol], nil
}

func (m *memPrefs) SetPreferredProvider(_ context.Context, symbol, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		m.prefs = map[string]string{}
	}
	m.prefs[symbol] = provider
	return nil
}

func TestFetch_PreferredProviderTriedFirst(t *testing.T) {
	first := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 2)))
	second := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 2)))

	prefs := &memPrefs{}
	require.NoError(t, prefs.SetPreferredProvider(context.Background(), "BTCUSDT", "binance:"+second.URL))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{first.URL, second.URL},
		RequestTimeout: 2 * time.Second,
		Preferences:    prefs,
	})

	_, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 2, interval.ParityOdd)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Requests())
	assert.Equal(t, 1, second.Requests())
}

// memCandleCache is an in-memory CandleCache.
type memCandleCache struct {
	mu    sync.Mutex
	store map[string][]models.Candle
}

func (m *memCandleCache) key(symbol, interval string) string { return symbol + ":" + interval }

func (m *memCandleCache) GetCandles(_ context.Context, symbol, interval string) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series, ok := m.store[m.key(symbol, interval)]
	if !ok {
		return nil, fmt.Errorf("cache miss")
	}
	return series, nil
}

func (m *memCandleCache) SetCandles(_ context.Context, symbol, interval string, series []models.Candle, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		m.store = map[string][]models.Candle{}
	}
	m.store[m.key(symbol, interval)] = series
	return nil
}

func TestFetch_CachedSeriesSkipsProviders(t *testing.T) {
	ok := newKlineServer(t, http.StatusOK, staticBody(binanceKlineBody(1000, 3600, 3)))

	src := NewSource(SourceConfig{
		BinanceBases:   []string{ok.URL},
		RequestTimeout: 2 * time.Second,
		Cache:          &memCandleCache{},
	})

	_, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 3, interval.ParityOdd)
	require.NoError(t, err)
	require.Equal(t, 1, ok.Requests())

	got, err := src.Fetch(context.Background(), "BTCUSDT", "1h", 3, interval.ParityOdd)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, ok.Requests(), "second fetch within the TTL is served from cache")
}

func TestParseBybitKlines_ReversesDescendingRows(t *testing.T) {
	body := `{"retCode":0,"retMsg":"OK","result":{"list":[` +
		`["7200000","2","4","1","3","20","0"],` +
		`["3600000","1","3","0.5","2","10","0"]]}}`

	got, err := parseBybitKlines([]byte(body))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3600), got[0].Time)
	assert.Equal(t, int64(7200), got[1].Time)
	assert.Equal(t, 2.0, got[1].Open)
}

func TestParseBybitKlines_RetCodeError(t *testing.T) {
	_, err := parseBybitKlines([]byte(`{"retCode":10001,"retMsg":"params error","result":{"list":[]}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10001")
}
