package harvest

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RandomSleeper spaces requests out with uniformly random pauses. The jitter
// keeps the request cadence from looking machine-generated.
type RandomSleeper struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSleeper returns a Sleeper seeded from the clock.
func NewRandomSleeper() *RandomSleeper {
	return &RandomSleeper{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Sleep blocks for a random duration in [min, max]. A canceled context ends
// the wait early. Swapped bounds are tolerated.
func (s *RandomSleeper) Sleep(ctx context.Context, min, max time.Duration) {
	if min < 0 {
		min = 0
	}
	if max < min {
		min, max = max, min
	}
	d := min
	if span := max - min; span > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(span) + 1))
		s.mu.Unlock()
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
