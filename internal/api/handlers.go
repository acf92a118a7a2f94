package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/signal-alert-service/internal/candles"
	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/models"
	"github.com/trogers1052/signal-alert-service/internal/notify"
	"github.com/trogers1052/signal-alert-service/internal/pipeline"
	"github.com/trogers1052/signal-alert-service/internal/redis"
	"github.com/trogers1052/signal-alert-service/internal/strategy"
)

// Store is the subset of database operations the HTTP layer needs.
type Store interface {
	Ping() error
	UpsertSubscription(sub *models.Subscription) error
	GetSubscription(streamID string) (*models.Subscription, error)
	ListSubscriptions() ([]*models.Subscription, error)
	DisableSubscription(streamID string) error
	DeleteSubscription(streamID, channelKey string) error
	ListEntrySignals(channelKey string, limit int) ([]*models.EntrySignal, error)
	TryInsertEntrySignal(sig *models.EntrySignal) (bool, error)
	DeleteEntrySignal(dedupeKey string) error
}

// Runner executes the alert pipeline on demand.
type Runner interface {
	Run(ctx context.Context, sub *models.Subscription, opts pipeline.Options) pipeline.Outcome
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store         Store
	runner        Runner
	evaluator     strategy.Evaluator
	notifier      notify.Notifier
	source        pipeline.CandleFetcher
	redis         *redis.Client
	kafkaUp       bool
	minClosedBars int
	now           func() time.Time
}

// HandlerConfig wires the HTTP layer's collaborators. Notifier and redis may
// be nil when those integrations are not configured.
type HandlerConfig struct {
	Store         Store
	Runner        Runner
	Evaluator     strategy.Evaluator
	Notifier      notify.Notifier
	Source        pipeline.CandleFetcher
	Redis         *redis.Client
	KafkaUp       bool
	MinClosedBars int
}

// NewHandler creates a new Handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MinClosedBars < 1 {
		cfg.MinClosedBars = 1
	}
	return &Handler{
		store:         cfg.Store,
		runner:        cfg.Runner,
		evaluator:     cfg.Evaluator,
		notifier:      cfg.Notifier,
		source:        cfg.Source,
		redis:         cfg.Redis,
		kafkaUp:       cfg.KafkaUp,
		minClosedBars: cfg.MinClosedBars,
		now:           time.Now,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  map[string]string{},
	}
	services := health["services"].(map[string]string)
	allHealthy := true

	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.kafkaUp {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	if h.notifier != nil {
		services["telegram"] = "configured"
	} else {
		services["telegram"] = "not configured"
	}

	if !allHealthy {
		health["status"] = "degraded"
	}

	respondJSON(w, http.StatusOK, health)
}

// streamSignalRequest is a one-shot evaluation over caller-supplied candles.
// When candles are omitted they are fetched from the configured providers.
type streamSignalRequest struct {
	StreamID         string          `json:"stream_id"`
	Symbol           string          `json:"symbol"`
	Interval         string          `json:"interval"`
	StrategyKey      string          `json:"strategy_key"`
	StrategyParams   map[string]any  `json:"strategy_params"`
	BacktestSettings map[string]any  `json:"backtest_settings"`
	Candles          []models.Candle `json:"candles"`
	CandleLimit      int             `json:"candle_limit"`
	NotifyTelegram   bool            `json:"notify_telegram"`
}

type streamSignalResponse struct {
	Signal     *strategy.Signal `json:"signal"`
	ClosedTime int64            `json:"closed_time,omitempty"`
	Notified   bool             `json:"notified"`
	Duplicate  bool             `json:"duplicate"`
}

// EvaluateStreamSignal handles POST /api/stream/signal
func (h *Handler) EvaluateStreamSignal(w http.ResponseWriter, r *http.Request) {
	var req streamSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.Interval == "" || req.StrategyKey == "" {
		http.Error(w, "symbol, interval and strategy_key are required", http.StatusBadRequest)
		return
	}

	intervalSec, err := interval.Seconds(req.Interval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.StreamID == "" {
		req.StreamID = models.DeriveStreamID(req.Symbol, req.Interval, req.StrategyKey, "")
	}

	series := req.Candles
	if len(series) == 0 {
		if h.source == nil {
			http.Error(w, "candles are required", http.StatusBadRequest)
			return
		}
		parity := interval.ParityOdd
		if v, ok := req.BacktestSettings["parity"].(string); ok {
			parity = interval.ParseParity(v)
		}
		series, err = h.source.Fetch(r.Context(), req.Symbol, req.Interval, models.ClampCandleLimit(req.CandleLimit), parity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	win := candles.SelectClosedWindow(series, intervalSec, h.now().Unix(), h.minClosedBars)
	if win == nil {
		http.Error(w, "not enough closed candles", http.StatusUnprocessableEntity)
		return
	}

	sig, err := h.evaluator.Evaluate(r.Context(), &strategy.Request{
		StreamID:         req.StreamID,
		Symbol:           req.Symbol,
		Interval:         req.Interval,
		StrategyKey:      req.StrategyKey,
		StrategyParams:   req.StrategyParams,
		BacktestSettings: req.BacktestSettings,
		Candles:          win.Candles,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := streamSignalResponse{Signal: sig, ClosedTime: win.ClosedTime}
	if sig != nil && req.NotifyTelegram {
		resp.Notified, resp.Duplicate = h.deliverOneShot(r.Context(), &req, sig)
	}
	respondJSON(w, http.StatusOK, resp)
}

// deliverOneShot applies the same dedupe rule as the scheduled pipeline so a
// manual evaluation cannot double-send an alert the scheduler already sent.
func (h *Handler) deliverOneShot(ctx context.Context, req *streamSignalRequest, sig *strategy.Signal) (notified, duplicate bool) {
	if h.notifier == nil {
		return false, false
	}

	sub := &models.Subscription{
		StreamID:    req.StreamID,
		Symbol:      req.Symbol,
		Interval:    req.Interval,
		StrategyKey: req.StrategyKey,
	}
	channelKey := sub.ChannelKey()
	row := &models.EntrySignal{
		ChannelKey:  channelKey,
		DedupeKey:   models.DedupeKey(channelKey, sig.Fingerprint),
		Symbol:      req.Symbol,
		Interval:    req.Interval,
		StrategyKey: req.StrategyKey,
		Direction:   sig.Direction,
		Fingerprint: sig.Fingerprint,
		SignalTime:  sig.SignalTime,
		SignalPrice: decimal.NewFromFloat(sig.SignalPrice),
		Reason:      sig.Reason,
	}

	inserted, err := h.store.TryInsertEntrySignal(row)
	if err != nil {
		log.Printf("One-shot dedupe insert failed for %s: %v", req.StreamID, err)
		return false, false
	}
	if !inserted {
		return false, true
	}

	if err := h.notifier.Send(ctx, notify.FormatEntryAlert(row)); err != nil {
		// Same compensation as the scheduled pipeline: the dedupe row only
		// stays when the alert was delivered, so a later attempt with this
		// fingerprint can retry.
		log.Printf("One-shot notification failed for %s: %v", req.StreamID, err)
		if delErr := h.store.DeleteEntrySignal(row.DedupeKey); delErr != nil {
			log.Printf("Failed to roll back entry signal %s: %v", row.DedupeKey, delErr)
		}
		return false, false
	}
	return true, false
}

// GetStreamSignals handles GET /api/stream/signals
func (h *Handler) GetStreamSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	streamID := q.Get("stream_id")
	if streamID == "" {
		symbol, token, strategyKey := q.Get("symbol"), q.Get("interval"), q.Get("strategy_key")
		if symbol == "" || token == "" || strategyKey == "" {
			http.Error(w, "stream_id or symbol+interval+strategy_key is required", http.StatusBadRequest)
			return
		}
		streamID = models.DeriveStreamID(symbol, token, strategyKey, q.Get("config_name"))
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	sub := &models.Subscription{StreamID: streamID}
	signals, err := h.store.ListEntrySignals(sub.ChannelKey(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stream_id": streamID,
		"signals":   signals,
	})
}

type upsertSubscriptionRequest struct {
	StreamID         string         `json:"stream_id"`
	Symbol           string         `json:"symbol"`
	Interval         string         `json:"interval"`
	StrategyKey      string         `json:"strategy_key"`
	ConfigName       string         `json:"config_name"`
	StrategyParams   map[string]any `json:"strategy_params"`
	BacktestSettings map[string]any `json:"backtest_settings"`
	FreshnessBars    *int           `json:"freshness_bars"`
	NotifyEntry      *bool          `json:"notify_entry"`
	NotifyExit       *bool          `json:"notify_exit"`
	CandleLimit      int            `json:"candle_limit"`
	Enabled          *bool          `json:"enabled"`
}

// UpsertSubscription handles POST /api/subscriptions/upsert
func (h *Handler) UpsertSubscription(w http.ResponseWriter, r *http.Request) {
	var req upsertSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub := &models.Subscription{
		StreamID:         req.StreamID,
		Enabled:          true,
		Symbol:           req.Symbol,
		Interval:         req.Interval,
		StrategyKey:      req.StrategyKey,
		StrategyParams:   req.StrategyParams,
		BacktestSettings: req.BacktestSettings,
		FreshnessBars:    1,
		NotifyEntry:      true,
		NotifyExit:       true,
		CandleLimit:      models.ClampCandleLimit(req.CandleLimit),
	}
	if sub.StreamID == "" {
		sub.StreamID = models.DeriveStreamID(req.Symbol, req.Interval, req.StrategyKey, req.ConfigName)
	}
	if req.FreshnessBars != nil {
		sub.FreshnessBars = *req.FreshnessBars
	}
	if req.NotifyEntry != nil {
		sub.NotifyEntry = *req.NotifyEntry
	}
	if req.NotifyExit != nil {
		sub.NotifyExit = *req.NotifyExit
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}

	if err := sub.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := interval.Seconds(sub.Interval); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.UpsertSubscription(sub); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// ListSubscriptions handles GET /api/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

type deleteSubscriptionRequest struct {
	StreamID string `json:"stream_id"`
	Hard     bool   `json:"hard"`
}

// DeleteSubscription handles POST /api/subscriptions/delete. The default is
// a soft delete (disable); hard removes the subscription and its signal
// history.
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req deleteSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StreamID == "" {
		http.Error(w, "stream_id is required", http.StatusBadRequest)
		return
	}

	if req.Hard {
		sub := &models.Subscription{StreamID: req.StreamID}
		if err := h.store.DeleteSubscription(req.StreamID, sub.ChannelKey()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		if err := h.store.DisableSubscription(req.StreamID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stream_id": req.StreamID,
		"deleted":   req.Hard,
		"disabled":  !req.Hard,
	})
}

type runNowRequest struct {
	StreamID string `json:"stream_id"`
}

// RunNow handles POST /api/subscriptions/run-now. It bypasses the processed
// cursor and widens the freshness window so the caller sees what the
// pipeline would do with the current market data.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StreamID == "" {
		http.Error(w, "stream_id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.store.GetSubscription(req.StreamID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	out := h.runner.Run(r.Context(), sub, pipeline.Options{IgnoreCursor: true, WidenFreshness: true})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stream_id":      sub.StreamID,
		"status":         out.Status,
		"closed_time":    out.ClosedTime,
		"entry_notified": out.EntryNotified,
		"exit_notified":  out.ExitNotified,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
