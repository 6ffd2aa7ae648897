package window

import (
	"errors"
	"fmt"
)

var ErrInvalidCapacity = errors.New("window capacity must be positive")

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// Window is a fixed-capacity sliding buffer of price samples, oldest first.
// Once primed its length never changes. Not safe for concurrent mutation; the
// hub owns it and publishes copies.
type Window struct {
	samples []float64
}

// New creates a window primed with prime. A short prime is left-padded with
// its oldest sample, a long one keeps the newest samples.
func New(capacity int, prime []float64) (*Window, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	w := &Window{samples: make([]float64, 0, capacity)}
	if len(prime) == 0 {
		return w, nil
	}
	if len(prime) > capacity {
		prime = prime[len(prime)-capacity:]
	}
	for i := len(prime); i < capacity; i++ {
		w.samples = append(w.samples, prime[0])
	}
	w.samples = append(w.samples, prime...)
	return w, nil
}

// Push drops the oldest sample and appends sample. Before priming completes
// the window grows up to capacity.
func (w *Window) Push(sample float64) {
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, sample)
		return
	}
	copy(w.samples, w.samples[1:])
	w.samples[len(w.samples)-1] = sample
}

func (w *Window) Len() int      { return len(w.samples) }
func (w *Window) Capacity() int { return cap(w.samples) }

// Snapshot returns a copy of the samples, oldest first.
func (w *Window) Snapshot() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// Last is the newest sample.
func (w *Window) Last() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.samples[len(w.samples)-1], true
}

func (w *Window) Trend() (Trend, bool) {
	return TrendOf(w.samples)
}

func (w *Window) Range() (lo, hi float64, ok bool) {
	return RangeOf(w.samples)
}

// TrendOf compares the newest sample to the oldest. Fewer than two samples is
// insufficient data.
func TrendOf(samples []float64) (Trend, bool) {
	if len(samples) < 2 {
		return "", false
	}
	if samples[len(samples)-1] >= samples[0] {
		return TrendUp, true
	}
	return TrendDown, true
}

func RangeOf(samples []float64) (lo, hi float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	lo, hi = samples[0], samples[0]
	for _, s := range samples[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	return lo, hi, true
}
