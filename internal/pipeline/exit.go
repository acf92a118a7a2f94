package pipeline

import (
	"context"
	"log"

	"github.com/trogers1052/signal-alert-service/internal/kafka"
	"github.com/trogers1052/signal-alert-service/internal/metrics"
	"github.com/trogers1052/signal-alert-service/internal/models"
	"github.com/trogers1052/signal-alert-service/internal/notify"
	"github.com/trogers1052/signal-alert-service/internal/strategy"
)

// detectExit decides whether an opposite-direction exit alert is due and
// sends it. The whole path is best-effort and error-isolated: any failure is
// logged and the tick continues; nothing here ever rolls back entry state,
// since a clean retry happens naturally on the next tick.
func (r *Runner) detectExit(ctx context.Context, sub *models.Subscription, latest *strategy.Signal) bool {
	if !sub.NotifyExit || r.notifier == nil {
		return false
	}

	prior, err := r.store.LatestEntrySignal(sub.ChannelKey())
	if err != nil {
		log.Printf("Exit detection for %s: loading last entry: %v", sub.StreamID, err)
		return false
	}
	if prior == nil {
		return false
	}

	if latest.Direction == prior.Direction {
		return false
	}
	if latest.SignalTime <= prior.SignalTime {
		return false
	}

	// One exit alert per position cycle: the token pairs the entry that
	// opened the cycle with the signal that flipped it.
	token := prior.Fingerprint + ":" + latest.Fingerprint
	if token == sub.LastExitAlertToken {
		return false
	}

	msg := notify.FormatExitAlert(prior, latest.Direction, latest.SignalTime, latest.SignalPrice)
	if err := r.notifier.Send(ctx, msg); err != nil {
		log.Printf("Exit notification for %s failed (will retry next tick): %v", sub.StreamID, err)
		return false
	}

	metrics.NotificationsSentTotal.WithLabelValues("exit").Inc()

	if err := r.store.SetExitAlertToken(sub.StreamID, token); err != nil {
		log.Printf("Failed to persist exit alert token for %s: %v", sub.StreamID, err)
	}
	sub.LastExitAlertToken = token

	if r.publisher != nil {
		err := r.publisher.PublishExitSignal(ctx, sub.StreamID, kafka.SignalEventData{
			StreamID:    sub.StreamID,
			Symbol:      sub.Symbol,
			Interval:    sub.Interval,
			StrategyKey: sub.StrategyKey,
			Direction:   latest.Direction,
			Fingerprint: latest.Fingerprint,
			SignalTime:  latest.SignalTime,
			SignalPrice: latest.SignalPrice,
			Reason:      latest.Reason,
		})
		if err != nil {
			log.Printf("Failed to publish exit signal event for %s: %v", sub.StreamID, err)
		}
	}

	return true
}
