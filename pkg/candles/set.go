package candles

import (
	"fmt"

	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
)

// VolumeStep bounds the synthetic volume credited per tick.
const VolumeStep = 10.0

// Set holds one series per timeframe for a single instrument.
type Set struct {
	order  []string
	series map[string]*Series
}

func NewSet(timeframes []models.Timeframe, retention int) (*Set, error) {
	set := &Set{series: make(map[string]*Series, len(timeframes))}
	for _, tf := range timeframes {
		if _, dup := set.series[tf.Name]; dup {
			return nil, fmt.Errorf("duplicate timeframe %q", tf.Name)
		}
		s, err := NewSeries(tf, retention)
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf.Name, err)
		}
		set.order = append(set.order, tf.Name)
		set.series[tf.Name] = s
	}
	return set, nil
}

func (s *Set) Series(name string) (*Series, bool) {
	series, ok := s.series[name]
	return series, ok
}

// Timeframes returns the timeframe names in configuration order.
func (s *Set) Timeframes() []string {
	return append([]string(nil), s.order...)
}

// Fold applies tick to every timeframe, each with its own volume draw. All
// series are folded even when one fails; the first error is returned.
func (s *Set) Fold(tick models.Tick, src pricegen.Source) error {
	var first error
	for _, name := range s.order {
		if err := s.series[name].Fold(tick, src.Float64()*VolumeStep); err != nil && first == nil {
			first = fmt.Errorf("timeframe %s: %w", name, err)
		}
	}
	return first
}

// Snapshot copies every series, keyed by timeframe name.
func (s *Set) Snapshot() map[string][]models.Candle {
	out := make(map[string][]models.Candle, len(s.series))
	for name, series := range s.series {
		out[name] = series.Candles()
	}
	return out
}
