package interval

import (
	"fmt"
	"strconv"
	"strings"
)

// Parity selects which phase a synthesized 2h candle series uses. Upstream
// exchanges only serve one phase natively; the other is built from 1h bars.
type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
	secondsPerWeek   = 604800
	secondsPerMonth  = 2592000 // 30 days, matches exchange "1M" buckets

	// TwoHours is the only interval with a parity variant.
	TwoHours = 2 * secondsPerHour
)

// Seconds parses an interval token like "15m", "4h", "1d", "1w" or "1M" into
// its length in seconds. Unknown tokens are a configuration error for the
// caller, never a retryable one.
func Seconds(token string) (int64, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("invalid interval token: %q", token)
	}

	unit := token[len(token)-1:]
	n, err := strconv.Atoi(token[:len(token)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval token: %q", token)
	}

	switch unit {
	case "m":
		return int64(n) * secondsPerMinute, nil
	case "h":
		return int64(n) * secondsPerHour, nil
	case "d":
		return int64(n) * secondsPerDay, nil
	case "w":
		return int64(n) * secondsPerWeek, nil
	case "M":
		return int64(n) * secondsPerMonth, nil
	default:
		return 0, fmt.Errorf("unknown interval unit in token: %q", token)
	}
}

// ParseParity normalizes a parity string, defaulting to odd (the natively
// available phase).
func ParseParity(s string) Parity {
	if strings.EqualFold(s, string(ParityEven)) {
		return ParityEven
	}
	return ParityOdd
}

// BucketStart floor-aligns a unix timestamp to the start of its interval
// bucket. For the 2h interval under even parity the grid is phase-shifted by
// one hour so candles close on the opposite set of clock hours.
func BucketStart(timeSec, intervalSec int64, parity Parity) int64 {
	if intervalSec <= 0 {
		return timeSec
	}
	if intervalSec == TwoHours && parity == ParityEven {
		shifted := timeSec - secondsPerHour
		return shifted - (shifted % intervalSec) + secondsPerHour
	}
	return timeSec - (timeSec % intervalSec)
}
