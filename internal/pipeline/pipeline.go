// Package pipeline runs the per-subscription alert flow: fetch candles,
// select the closed window, evaluate the strategy, dedupe, notify, persist.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/signal-alert-service/internal/candles"
	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/kafka"
	"github.com/trogers1052/signal-alert-service/internal/metrics"
	"github.com/trogers1052/signal-alert-service/internal/models"
	"github.com/trogers1052/signal-alert-service/internal/notify"
	"github.com/trogers1052/signal-alert-service/internal/strategy"
)

// Statuses recorded on the subscription after each run. Error statuses get
// a ":" plus bounded diagnostic detail appended.
const (
	StatusEntryNotified     = "entry_notified"
	StatusEntryRecorded     = "entry_recorded"
	StatusDuplicateSignal   = "duplicate_signal"
	StatusExitNotified      = "exit_notified"
	StatusNoSignal          = "no_signal"
	StatusStaleSignal       = "stale_signal"
	StatusInsufficient      = "insufficient_candles"
	StatusNoNewClosedCandle = "no_new_closed_candle"
)

// Store is the subset of database operations the pipeline needs.
type Store interface {
	RecordRunResult(streamID, status string, closedTime int64) error
	SetExitAlertToken(streamID, token string) error
	ClearExitAlertToken(streamID string) error
	TryInsertEntrySignal(sig *models.EntrySignal) (bool, error)
	DeleteEntrySignal(dedupeKey string) error
	LatestEntrySignal(channelKey string) (*models.EntrySignal, error)
}

// CandleFetcher fetches an ascending candle series for a symbol/interval.
type CandleFetcher interface {
	Fetch(ctx context.Context, symbol, intervalToken string, limit int, parity interval.Parity) ([]models.Candle, error)
}

// EventPublisher mirrors delivered alerts onto the signal events topic.
// Publishing is best-effort; failures are logged, never propagated.
type EventPublisher interface {
	PublishEntrySignal(ctx context.Context, streamID string, sig *models.EntrySignal) error
	PublishExitSignal(ctx context.Context, streamID string, data kafka.SignalEventData) error
}

// Options tune a single run. The scheduler uses the zero value; run-now
// requests bypass the cursor check and widen the freshness window so
// historically stale signals can still be surfaced once.
type Options struct {
	IgnoreCursor   bool
	WidenFreshness bool
}

// Outcome summarizes one pipeline run. ClosedTime is non-zero only when an
// evaluation completed for that closed candle; the stored cursor never moves
// otherwise.
type Outcome struct {
	Status        string
	ClosedTime    int64
	EntryNotified bool
	ExitNotified  bool
}

// Runner executes the alert pipeline for one subscription at a time.
type Runner struct {
	store         Store
	source        CandleFetcher
	evaluator     strategy.Evaluator
	notifier      notify.Notifier
	publisher     EventPublisher
	minClosedBars int
	now           func() time.Time
}

// RunnerConfig wires the pipeline's collaborators. Notifier and Publisher
// may be nil; the pipeline then records signals without delivering them.
type RunnerConfig struct {
	Store         Store
	Source        CandleFetcher
	Evaluator     strategy.Evaluator
	Notifier      notify.Notifier
	Publisher     EventPublisher
	MinClosedBars int
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MinClosedBars < 1 {
		cfg.MinClosedBars = 1
	}
	return &Runner{
		store:         cfg.Store,
		source:        cfg.Source,
		evaluator:     cfg.Evaluator,
		notifier:      cfg.Notifier,
		publisher:     cfg.Publisher,
		minClosedBars: cfg.MinClosedBars,
		now:           time.Now,
	}
}

// Run executes the full pipeline for one subscription and persists the
// outcome as the subscription's status and cursor.
func (r *Runner) Run(ctx context.Context, sub *models.Subscription, opts Options) Outcome {
	start := r.now()
	out := r.run(ctx, sub, opts)

	if err := r.store.RecordRunResult(sub.StreamID, out.Status, out.ClosedTime); err != nil {
		log.Printf("Failed to record run result for %s: %v", sub.StreamID, err)
	}

	metrics.SubscriptionRunsTotal.WithLabelValues(metrics.StatusClass(out.Status)).Inc()
	metrics.RunDurationSeconds.Observe(r.now().Sub(start).Seconds())
	return out
}

func (r *Runner) run(ctx context.Context, sub *models.Subscription, opts Options) Outcome {
	intervalSec, err := interval.Seconds(sub.Interval)
	if err != nil {
		return Outcome{Status: "error:config:" + err.Error()}
	}

	parity := subscriptionParity(sub)
	limit := models.ClampCandleLimit(sub.CandleLimit)

	series, err := r.source.Fetch(ctx, sub.Symbol, sub.Interval, limit, parity)
	if err != nil {
		return Outcome{Status: "error:fetch:" + err.Error()}
	}

	win := candles.SelectClosedWindow(series, intervalSec, r.now().Unix(), r.minClosedBars)
	if win == nil {
		return Outcome{Status: StatusInsufficient}
	}

	if !opts.IgnoreCursor && win.ClosedTime <= sub.LastProcessedClosedCandleTime {
		return Outcome{Status: StatusNoNewClosedCandle}
	}

	sig, err := r.evaluator.Evaluate(ctx, &strategy.Request{
		StreamID:         sub.StreamID,
		Symbol:           sub.Symbol,
		Interval:         sub.Interval,
		StrategyKey:      sub.StrategyKey,
		StrategyParams:   sub.StrategyParams,
		BacktestSettings: sub.BacktestSettings,
		Candles:          win.Candles,
	})
	if err != nil {
		return Outcome{Status: "error:evaluate:" + err.Error()}
	}
	if sig == nil {
		return Outcome{Status: StatusNoSignal, ClosedTime: win.ClosedTime}
	}

	if !r.signalFresh(sub, sig, win, intervalSec, opts) {
		if !r.allowStaleCatchUp(sub, sig) {
			// A stale signal opens no new entry, but a direction flip
			// against the recorded entry still means the position cycle
			// ended; that is exactly what exit alerts are for.
			out := Outcome{Status: StatusStaleSignal, ClosedTime: win.ClosedTime}
			if r.detectExit(ctx, sub, sig) {
				out.Status = StatusExitNotified
				out.ExitNotified = true
			}
			return out
		}
		log.Printf("Allowing one-time stale catch-up for %s (open position, no recorded entry)", sub.StreamID)
	}

	return r.handleFreshSignal(ctx, sub, sig, win)
}

// signalFresh applies the subscription's freshness window: a signal is fresh
// when it sits within freshnessBars trailing closed bars. A widened run
// accepts any signal inside the fetched closed window.
func (r *Runner) signalFresh(sub *models.Subscription, sig *strategy.Signal, win *candles.Window, intervalSec int64, opts Options) bool {
	if opts.WidenFreshness {
		return sig.SignalTime >= win.Candles[0].Time
	}
	return sig.SignalTime >= win.ClosedTime-int64(sub.FreshnessBars)*intervalSec
}

// allowStaleCatchUp lets a stale signal through exactly once when the
// evaluator reports an open position but the ledger has no recorded entry
// for this channel. The dedupe insert makes the catch-up single-shot.
func (r *Runner) allowStaleCatchUp(sub *models.Subscription, sig *strategy.Signal) bool {
	if !sig.HasOpenPosition() {
		return false
	}
	prior, err := r.store.LatestEntrySignal(sub.ChannelKey())
	if err != nil {
		log.Printf("Failed to check recorded entries for %s: %v", sub.StreamID, err)
		return false
	}
	return prior == nil
}

func (r *Runner) handleFreshSignal(ctx context.Context, sub *models.Subscription, sig *strategy.Signal, win *candles.Window) Outcome {
	channelKey := sub.ChannelKey()
	row := buildEntrySignal(sub, sig, channelKey)

	inserted, err := r.store.TryInsertEntrySignal(row)
	if err != nil {
		return Outcome{Status: "error:dedupe:" + err.Error()}
	}

	if !inserted {
		// Replay of a known fingerprint: no new entry this tick, which is
		// exactly when an opposite-direction exit may be due.
		out := Outcome{Status: StatusDuplicateSignal, ClosedTime: win.ClosedTime}
		if r.detectExit(ctx, sub, sig) {
			out.Status = StatusExitNotified
			out.ExitNotified = true
		}
		return out
	}

	if !sub.NotifyEntry || r.notifier == nil {
		// Recorded without delivery; the row stays, marking the signal
		// non-retryable by choice.
		r.clearExitToken(sub)
		return Outcome{Status: StatusEntryRecorded, ClosedTime: win.ClosedTime}
	}

	if err := r.notifier.Send(ctx, notify.FormatEntryAlert(row)); err != nil {
		// Compensate: remove the dedupe row so the next tick retries
		// delivery with the same fingerprint.
		if delErr := r.store.DeleteEntrySignal(row.DedupeKey); delErr != nil {
			log.Printf("Failed to roll back entry signal %s: %v", row.DedupeKey, delErr)
		}
		return Outcome{Status: "error:notify:" + err.Error()}
	}

	metrics.NotificationsSentTotal.WithLabelValues("entry").Inc()
	r.clearExitToken(sub)
	r.publishEntry(ctx, sub.StreamID, row)

	return Outcome{Status: StatusEntryNotified, ClosedTime: win.ClosedTime, EntryNotified: true}
}

// clearExitToken starts a new position cycle after a fresh entry.
func (r *Runner) clearExitToken(sub *models.Subscription) {
	if err := r.store.ClearExitAlertToken(sub.StreamID); err != nil {
		log.Printf("Failed to clear exit alert token for %s: %v", sub.StreamID, err)
	}
	sub.LastExitAlertToken = ""
}

func (r *Runner) publishEntry(ctx context.Context, streamID string, row *models.EntrySignal) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishEntrySignal(ctx, streamID, row); err != nil {
		log.Printf("Failed to publish entry signal event for %s: %v", streamID, err)
	}
}

func buildEntrySignal(sub *models.Subscription, sig *strategy.Signal, channelKey string) *models.EntrySignal {
	payload, err := json.Marshal(sig)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return &models.EntrySignal{
		ChannelKey:  channelKey,
		DedupeKey:   models.DedupeKey(channelKey, sig.Fingerprint),
		Symbol:      sub.Symbol,
		Interval:    sub.Interval,
		StrategyKey: sub.StrategyKey,
		Direction:   sig.Direction,
		Fingerprint: sig.Fingerprint,
		SignalTime:  sig.SignalTime,
		SignalPrice: decimal.NewFromFloat(sig.SignalPrice),
		Reason:      sig.Reason,
		Payload:     payload,
	}
}

// subscriptionParity reads the 2h phase selection out of the opaque backtest
// settings; everything else in that document is passed through untouched.
func subscriptionParity(sub *models.Subscription) interval.Parity {
	if v, ok := sub.BacktestSettings["parity"].(string); ok {
		return interval.ParseParity(v)
	}
	return interval.ParityOdd
}
