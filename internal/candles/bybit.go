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

// Bybit market categories tried per base, in order.
var bybitCategories = []string{"spot", "linear"}

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

func translateBybitInterval(token string) (string, bool) {
	v, ok := bybitIntervals[token]
	return v, ok
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

func fetchBybitKlines(ctx context.Context, client *http.Client, base, category, symbol, providerInterval string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("interval", providerInterval)
	q.Set("limit", strconv.Itoa(limit))

	reqURL := base + "/v5/market/kline?" + q.Encode()
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

	return parseBybitKlines(body)
}

// parseBybitKlines decodes a Bybit v5 kline payload. Rows are
// [startTimeMs, open, high, low, close, volume, turnover] as strings,
// newest first; the result is reversed into ascending order.
func parseBybitKlines(body []byte) ([]models.Candle, error) {
	var parsed bybitKlineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("invalid kline payload: %w", err)
	}
	if parsed.RetCode != 0 {
		return nil, fmt.Errorf("retCode %d: %s", parsed.RetCode, truncate(parsed.RetMsg, 120))
	}
	if len(parsed.Result.List) == 0 {
		return nil, fmt.Errorf("empty kline payload")
	}

	rows := parsed.Result.List
	out := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d too short", i)
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kline row %d start time: %w", i, err)
		}
		c := models.Candle{Time: startMs / 1000}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for j, dst := range fields {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j+1, err)
			}
			*dst = v
		}
		out = append(out, c)
	}

	return out, nil
}
