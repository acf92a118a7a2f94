package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/trogers1052/signal-alert-service/internal/models"
)

// Interval tokens Binance-style kline endpoints accept verbatim.
var binanceIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// translateBinanceInterval maps our interval token into the Binance
// vocabulary. ok=false means this provider cannot serve the interval and
// must be skipped without a retry.
func translateBinanceInterval(token string) (string, bool) {
	if binanceIntervals[token] {
		return token, true
	}
	return "", false
}

func fetchBinanceKlines(ctx context.Context, client *http.Client, base, symbol, providerInterval string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", providerInterval)
	q.Set("limit", strconv.Itoa(limit))

	reqURL := base + "/api/v3/klines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 120))
	}

	return parseBinanceKlines(body)
}

// parseBinanceKlines decodes the Binance kline payload: an array of arrays
// [openTimeMs, "open", "high", "low", "close", "volume", closeTimeMs, ...],
// ascending by open time.
func parseBinanceKlines(body []byte) ([]models.Candle, error) {
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("invalid kline payload: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty kline payload")
	}

	out := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d too short", i)
		}
		openTimeMs, err := anyToFloat(row[0])
		if err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}
		c := models.Candle{Time: int64(openTimeMs) / 1000}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for j, dst := range fields {
			v, err := anyToFloat(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j+1, err)
			}
			*dst = v
		}
		out = append(out, c)
	}

	return out, nil
}

func anyToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
