package candles

import (
	"github.com/gregtusar/cryptex/pkg/models"
)

const DefaultMAPeriod = 14

// MAPoint is one overlay value. Valid is false where the average is not
// defined; Value is meaningless then and must not be drawn as zero.
type MAPoint struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// MovingAverage computes MA[i] = mean(close[i-period .. i-1]) for every
// i >= period using a running sum.
func MovingAverage(candles []models.Candle, period int) []MAPoint {
	out := make([]MAPoint, len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	for i := period; i < len(candles); i++ {
		out[i] = MAPoint{Value: sum / float64(period), Valid: true}
		sum += candles[i].Close - candles[i-period].Close
	}
	return out
}

// Change is the percentage move from the first open to the last close.
func Change(candles []models.Candle) (float64, bool) {
	if len(candles) == 0 || candles[0].Open <= 0 {
		return 0, false
	}
	first, last := candles[0], candles[len(candles)-1]
	return (last.Close - first.Open) / first.Open * 100, true
}
