package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrCandleInvariant = errors.New("candle invariant violated")

type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate reports a broken OHLC relationship. A failure here means the fold
// logic is wrong; callers must not patch the candle up.
func (c Candle) Validate() error {
	switch {
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return fmt.Errorf("%w: non-positive price in %s", ErrCandleInvariant, c)
	case c.High < math.Max(c.Open, c.Close):
		return fmt.Errorf("%w: high below body in %s", ErrCandleInvariant, c)
	case c.Low > math.Min(c.Open, c.Close):
		return fmt.Errorf("%w: low above body in %s", ErrCandleInvariant, c)
	case c.Volume < 0:
		return fmt.Errorf("%w: negative volume in %s", ErrCandleInvariant, c)
	}
	return nil
}

// Bullish is true for a close at or above the open.
func (c Candle) Bullish() bool {
	return c.Close >= c.Open
}

func (c Candle) String() string {
	return fmt.Sprintf("%s O:%g H:%g L:%g C:%g V:%g",
		c.OpenTime.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}
