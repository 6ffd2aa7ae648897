package pricegen

import (
	"time"

	"github.com/gregtusar/cryptex/pkg/models"
)

const (
	sparklineBias       = 0.49
	sparklineVolatility = 0.012

	barBias       = 0.48
	barVolatility = 0.025
	barWick       = 0.008
	barVolumeBase = 100.0
	barVolumeSpan = 1000.0
)

// Sparkline builds n priming samples for a rolling window. The walk is laid
// out backwards so the newest sample is exactly base.
func Sparkline(src Source, base float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	price := Clamp(base)
	for i := n - 1; i >= 0; i-- {
		out[i] = price
		price = step(src, price, sparklineBias, sparklineVolatility)
	}
	return out
}

// Backfill synthesizes n closed bars in the buckets immediately before
// openBucket, oldest first. The newest bar closes at base so the seeded open
// candle continues from it.
func Backfill(src Source, base float64, n int, tf models.Timeframe, openBucket time.Time) []models.Candle {
	if n <= 0 {
		return nil
	}
	bars := make([]models.Candle, n)
	closePrice := Clamp(base)
	for i := n - 1; i >= 0; i-- {
		change := (src.Float64() - barBias) * barVolatility
		open := Clamp(closePrice / (1 + change))
		high := max(open, closePrice) * (1 + src.Float64()*barWick)
		low := Clamp(min(open, closePrice) * (1 - src.Float64()*barWick))
		bars[i] = models.Candle{
			OpenTime: openBucket.Add(-time.Duration(n-i) * tf.Duration),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   src.Float64()*barVolumeSpan + barVolumeBase,
		}
		closePrice = open
	}
	return bars
}
