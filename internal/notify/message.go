package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/trogers1052/signal-alert-service/internal/models"
)

// FormatEntryAlert renders an entry signal notification.
func FormatEntryAlert(sig *models.EntrySignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s entry: %s %s (%s)\n",
		strings.ToUpper(sig.Direction), sig.Symbol, sig.Interval, sig.StrategyKey)
	fmt.Fprintf(&b, "Price: %s\n", sig.SignalPrice.String())
	fmt.Fprintf(&b, "Time: %s", formatUnix(sig.SignalTime))
	if sig.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", sig.Reason)
	}
	return b.String()
}

// FormatExitAlert renders an opposite-direction exit notification for a
// previously recorded entry.
func FormatExitAlert(entry *models.EntrySignal, newDirection string, signalTime int64, signalPrice float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 Exit %s: %s %s (%s)\n",
		strings.ToUpper(entry.Direction), entry.Symbol, entry.Interval, entry.StrategyKey)
	fmt.Fprintf(&b, "Signal flipped to %s at %.8g\n", strings.ToUpper(newDirection), signalPrice)
	fmt.Fprintf(&b, "Entered: %s at %s\n", formatUnix(entry.SignalTime), entry.SignalPrice.String())
	fmt.Fprintf(&b, "Time: %s", formatUnix(signalTime))
	return b.String()
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04 MST")
}
