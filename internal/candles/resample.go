package candles

import (
	"github.com/trogers1052/signal-alert-service/internal/interval"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// Resample folds an ascending candle series into intervalSec buckets:
// open = first bar's open, high/low = running max/min, close = last bar's
// close, volume = running sum. Resampling an already-aligned series is a
// no-op.
func Resample(series []models.Candle, intervalSec int64, parity interval.Parity) []models.Candle {
	if len(series) == 0 || intervalSec <= 0 {
		return nil
	}

	out := make([]models.Candle, 0, len(series))
	var cur *models.Candle

	for i := range series {
		c := series[i]
		bucket := interval.BucketStart(c.Time, intervalSec, parity)

		if cur == nil || cur.Time != bucket {
			out = append(out, models.Candle{
				Time:   bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			})
			cur = &out[len(out)-1]
			continue
		}

		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}

	return out
}
