package candles

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/metrics"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

const (
	// maxAggregateErrLen bounds the concatenated all-providers-failed message.
	maxAggregateErrLen = 600

	defaultRequestTimeout = 10 * time.Second

	// candleCacheTTL is deliberately shorter than any interval: the cache
	// absorbs run-now bursts without ever serving a window the scheduler
	// hasn't seen.
	candleCacheTTL = 15 * time.Second
)

// PreferenceCache remembers which provider last served a symbol so the next
// fetch tries it first. Implementations may be unavailable; errors are
// treated as a cache miss.
type PreferenceCache interface {
	PreferredProvider(ctx context.Context, symbol string) (string, error)
	SetPreferredProvider(ctx context.Context, symbol, provider string) error
}

// CandleCache holds freshly fetched series for a short window so run-now
// bursts do not hammer the providers. Errors are cache misses.
type CandleCache interface {
	GetCandles(ctx context.Context, symbol, interval string) ([]models.Candle, error)
	SetCandles(ctx context.Context, symbol, interval string, series []models.Candle, ttl time.Duration) error
}

// SourceConfig configures the multi-provider candle source.
type SourceConfig struct {
	// BinanceBases are Binance-compatible API bases, tried in order.
	BinanceBases []string
	// BybitBases are Bybit v5 API bases, tried (per category) after Binance.
	BybitBases []string
	// RequestTimeout bounds each individual provider request.
	RequestTimeout time.Duration
	// Preferences is optional; nil disables provider stickiness.
	Preferences PreferenceCache
	// Cache is optional; nil disables short-lived series caching.
	Cache CandleCache
}

// Source fetches OHLCV candles from an ordered list of redundant upstream
// providers. The fallback is strictly ordered, never a race: the first base
// that returns a usable payload wins and later bases are not contacted.
type Source struct {
	cfg    SourceConfig
	client *http.Client
}

// NewSource creates a candle source over the configured provider bases.
func NewSource(cfg SourceConfig) *Source {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// attempt is one (base, category) combination able to serve a fetch.
type attempt struct {
	name string
	run  func(ctx context.Context) ([]models.Candle, error)
}

// Fetch returns candles for symbol/interval ascending by open time, or an
// error only if every configured base/category combination failed. The
// 2h-even interval is synthesized by fetching 1h bars and resampling.
func (s *Source) Fetch(ctx context.Context, symbol, intervalToken string, limit int, parity interval.Parity) ([]models.Candle, error) {
	intervalSec, err := interval.Seconds(intervalToken)
	if err != nil {
		return nil, err
	}

	fetchToken := intervalToken
	fetchLimit := limit
	resampleNeeded := false
	if intervalSec == interval.TwoHours && parity == interval.ParityEven {
		// Upstreams only serve the native 2h phase; build the shifted phase
		// from 1h bars, with one spare so partial edge buckets can be folded.
		fetchToken = "1h"
		fetchLimit = 2*limit + 1
		resampleNeeded = true
	}

	attempts := s.buildAttempts(symbol, fetchToken, fetchLimit)
	if len(attempts) == 0 {
		return nil, fmt.Errorf("no configured provider supports interval %q", intervalToken)
	}
	s.applyPreference(ctx, symbol, attempts)

	if s.cfg.Cache != nil {
		if cached, err := s.cfg.Cache.GetCandles(ctx, symbol, fetchToken); err == nil && len(cached) >= fetchLimit {
			if resampleNeeded {
				return resampleFullBuckets(cached, intervalSec, parity), nil
			}
			return cached, nil
		}
	}

	var failures []string
	for _, a := range attempts {
		series, err := s.runAttempt(ctx, a)
		if err != nil {
			failures = append(failures, a.name+": "+err.Error())
			metrics.ProviderFailoversTotal.WithLabelValues(a.name).Inc()
			log.Printf("Candle fetch failed for %s %s via %s: %v", symbol, intervalToken, a.name, err)
			continue
		}

		if s.cfg.Preferences != nil {
			if err := s.cfg.Preferences.SetPreferredProvider(ctx, symbol, a.name); err != nil {
				log.Printf("Failed to cache provider preference for %s: %v", symbol, err)
			}
		}
		if s.cfg.Cache != nil {
			if err := s.cfg.Cache.SetCandles(ctx, symbol, fetchToken, series, candleCacheTTL); err != nil {
				log.Printf("Failed to cache candles for %s %s: %v", symbol, fetchToken, err)
			}
		}

		if resampleNeeded {
			series = resampleFullBuckets(series, intervalSec, parity)
		}
		return series, nil
	}

	return nil, fmt.Errorf("all candle providers failed for %s %s: %s",
		symbol, intervalToken, truncate(strings.Join(failures, "; "), maxAggregateErrLen))
}

func (s *Source) runAttempt(ctx context.Context, a attempt) ([]models.Candle, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return a.run(reqCtx)
}

// buildAttempts assembles the ordered fallback list, translating the
// requested interval into each provider's vocabulary. Bases that cannot
// express the interval are skipped without a retry.
func (s *Source) buildAttempts(symbol, token string, limit int) []attempt {
	var attempts []attempt

	if providerToken, ok := translateBinanceInterval(token); ok {
		for _, base := range s.cfg.BinanceBases {
			base := strings.TrimRight(base, "/")
			attempts = append(attempts, attempt{
				name: "binance:" + base,
				run: func(ctx context.Context) ([]models.Candle, error) {
					return fetchBinanceKlines(ctx, s.client, base, symbol, providerToken, limit)
				},
			})
		}
	}

	if providerToken, ok := translateBybitInterval(token); ok {
		for _, base := range s.cfg.BybitBases {
			base := strings.TrimRight(base, "/")
			for _, category := range bybitCategories {
				category := category
				attempts = append(attempts, attempt{
					name: "bybit:" + category + ":" + base,
					run: func(ctx context.Context) ([]models.Candle, error) {
						return fetchBybitKlines(ctx, s.client, base, category, symbol, providerToken, limit)
					},
				})
			}
		}
	}

	return attempts
}

// applyPreference moves the symbol's last-successful provider to the front
// of the attempt order. Cache errors are a miss, never a failure.
func (s *Source) applyPreference(ctx context.Context, symbol string, attempts []attempt) {
	if s.cfg.Preferences == nil {
		return
	}
	preferred, err := s.cfg.Preferences.PreferredProvider(ctx, symbol)
	if err != nil || preferred == "" {
		return
	}
	for i, a := range attempts {
		if a.name == preferred && i > 0 {
			moved := attempts[i]
			copy(attempts[1:i+1], attempts[:i])
			attempts[0] = moved
			return
		}
	}
}

// resampleFullBuckets folds base bars into target buckets and drops a leading
// bucket the series only partially covers: when the first base bar does not
// open its bucket, that bucket's open/high/low would come from a fraction of
// the bucket's real range.
func resampleFullBuckets(series []models.Candle, intervalSec int64, parity interval.Parity) []models.Candle {
	out := Resample(series, intervalSec, parity)
	if len(series) > 0 && len(out) > 0 && series[0].Time != out[0].Time {
		out = out[1:]
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
