package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trogers1052/signal-alert-service/internal/models"
)

// Trade states the evaluator reports alongside a signal. The pipeline trusts
// this field as the contract for "open position"; it never infers position
// state from candle data itself.
const (
	TradeStateOpenLong  = "open_long"
	TradeStateOpenShort = "open_short"
	TradeStateFlat      = "flat"
)

// Request is the evaluator input: a candle window plus the opaque strategy
// parameters the subscription carries. Params and settings are passed
// through verbatim.
type Request struct {
	StreamID         string          `json:"stream_id,omitempty"`
	Symbol           string          `json:"symbol"`
	Interval         string          `json:"interval"`
	StrategyKey      string          `json:"strategy_key"`
	StrategyParams   map[string]any  `json:"strategy_params,omitempty"`
	BacktestSettings map[string]any  `json:"backtest_settings,omitempty"`
	Candles          []models.Candle `json:"candles"`
}

// Signal is the evaluator's latest directional signal for a window. The
// fingerprint is stable for a specific signal occurrence and is the sole
// deduplication key.
type Signal struct {
	Direction   string  `json:"direction"`
	Fingerprint string  `json:"fingerprint"`
	SignalTime  int64   `json:"signal_time"`
	SignalPrice float64 `json:"signal_price"`
	Reason      string  `json:"reason,omitempty"`
	TradeState  string  `json:"trade_state,omitempty"`
}

// HasOpenPosition reports whether the evaluator considers a position open.
func (s *Signal) HasOpenPosition() bool {
	return s.TradeState == TradeStateOpenLong || s.TradeState == TradeStateOpenShort
}

// Validate rejects signals the pipeline cannot act on.
func (s *Signal) Validate() error {
	if s.Direction != models.DirectionLong && s.Direction != models.DirectionShort {
		return fmt.Errorf("invalid signal direction: %q", s.Direction)
	}
	if s.Fingerprint == "" {
		return fmt.Errorf("signal fingerprint is empty")
	}
	if s.SignalTime <= 0 {
		return fmt.Errorf("invalid signal time: %d", s.SignalTime)
	}
	return nil
}

// Evaluator is the external strategy engine. Evaluate returns (nil, nil)
// when the window produces no signal at all.
type Evaluator interface {
	Evaluate(ctx context.Context, req *Request) (*Signal, error)
}

// HTTPEvaluator calls a remote evaluator service.
type HTTPEvaluator struct {
	baseURL string
	client  *http.Client
}

type evaluateResponse struct {
	Signal *Signal `json:"signal"`
}

// NewHTTPEvaluator creates an evaluator client for the given base URL.
func NewHTTPEvaluator(baseURL string, timeout time.Duration) *HTTPEvaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEvaluator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Evaluate posts the candle window to the evaluator service and decodes its
// latest signal.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, req *Request) (*Signal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding evaluate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building evaluate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("evaluator request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading evaluator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, msg)
	}

	var parsed evaluateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding evaluator response: %w", err)
	}
	if parsed.Signal == nil {
		return nil, nil
	}
	if err := parsed.Signal.Validate(); err != nil {
		return nil, fmt.Errorf("evaluator returned invalid signal: %w", err)
	}

	return parsed.Signal, nil
}
