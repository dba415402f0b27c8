package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff grows base exponentially with attempt (zero-based), caps it at
// ceiling, and returns a value jittered uniformly between half and the full
// delay.
func Backoff(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if ceiling > 0 && delay > float64(ceiling) {
		delay = float64(ceiling)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(time.Duration(delay)-half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
