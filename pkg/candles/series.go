package candles

import (
	"errors"
	"fmt"

	"github.com/gregtusar/cryptex/pkg/models"
)

var (
	ErrInvalidRetention = errors.New("candle retention must be positive")
	ErrOutOfOrder       = errors.New("tick precedes the open candle")
)

// Series is the ordered bar history of one instrument on one timeframe,
// oldest first. Only the last candle is open; everything before it is frozen.
type Series struct {
	tf        models.Timeframe
	retention int
	bars      []models.Candle
}

func NewSeries(tf models.Timeframe, retention int) (*Series, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRetention, retention)
	}
	if tf.Duration <= 0 {
		return nil, fmt.Errorf("%w: %q has no duration", models.ErrUnknownTimeframe, tf.Name)
	}
	return &Series{
		tf:        tf,
		retention: retention,
		bars:      make([]models.Candle, 0, retention+1),
	}, nil
}

// Seed installs history bars, oldest first. Bars beyond retention are dropped
// from the old end.
func (s *Series) Seed(bars []models.Candle) error {
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return fmt.Errorf("seed bar %d: %w", i, err)
		}
		if i > 0 && bar.OpenTime.Before(bars[i-1].OpenTime) {
			return fmt.Errorf("seed bar %d: %w", i, ErrOutOfOrder)
		}
	}
	s.bars = append(s.bars[:0], bars...)
	s.trim()
	return nil
}

// Fold applies one tick. volume is the synthetic size credited to the open
// candle. The returned error is either ErrOutOfOrder or an invariant
// violation, which is never corrected here.
func (s *Series) Fold(tick models.Tick, volume float64) error {
	bucket := s.tf.Bucket(tick.Time)
	price := tick.Price

	if len(s.bars) == 0 {
		s.bars = append(s.bars, models.Candle{
			OpenTime: bucket,
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
		})
		return s.bars[0].Validate()
	}

	open := &s.bars[len(s.bars)-1]
	switch {
	case bucket.Before(open.OpenTime):
		return fmt.Errorf("%w: tick at %s, open candle at %s",
			ErrOutOfOrder, tick.Time.UTC(), open.OpenTime)
	case bucket.After(open.OpenTime):
		prevClose := open.Close
		s.bars = append(s.bars, models.Candle{
			OpenTime: bucket,
			Open:     prevClose,
			High:     prevClose,
			Low:      prevClose,
			Close:    prevClose,
		})
		s.trim()
		open = &s.bars[len(s.bars)-1]
	}

	open.Close = price
	open.High = max(open.High, price)
	open.Low = min(open.Low, price)
	if volume > 0 {
		open.Volume += volume
	}
	return open.Validate()
}

// trim evicts from the oldest end only, so the open candle always survives.
func (s *Series) trim() {
	if over := len(s.bars) - s.retention; over > 0 {
		n := copy(s.bars, s.bars[over:])
		s.bars = s.bars[:n]
	}
}

func (s *Series) Timeframe() models.Timeframe { return s.tf }
func (s *Series) Retention() int              { return s.retention }
func (s *Series) Len() int                    { return len(s.bars) }

// Open returns the in-progress candle.
func (s *Series) Open() (models.Candle, bool) {
	if len(s.bars) == 0 {
		return models.Candle{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Candles returns a copy of the series, oldest first.
func (s *Series) Candles() []models.Candle {
	out := make([]models.Candle, len(s.bars))
	copy(out, s.bars)
	return out
}
