package depth

import (
	"errors"
	"fmt"
	"math"

	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
)

const (
	DefaultLevels     = 16
	DefaultSpreadStep = 0.0003
	DefaultMinSize    = 0.1
	DefaultMaxSize    = 5.1
)

var ErrInvalidSpreadStep = errors.New("spread step must be in (0, 0.5)")

// Synthesizer derives a plausible two-sided ladder from a mid price. It keeps
// no state between calls.
type Synthesizer struct {
	SpreadStep float64
	MinSize    float64
	MaxSize    float64
}

func NewSynthesizer(spreadStep float64) (Synthesizer, error) {
	if !(spreadStep > 0 && spreadStep < 0.5) {
		return Synthesizer{}, fmt.Errorf("%w: got %g", ErrInvalidSpreadStep, spreadStep)
	}
	return Synthesizer{SpreadStep: spreadStep, MinSize: DefaultMinSize, MaxSize: DefaultMaxSize}, nil
}

// MaxLevels is the deepest ladder whose bids all stay above zero and strictly
// descend: levels*SpreadStep < 1.
func (s Synthesizer) MaxLevels() int {
	return MaxLevelsFor(s.SpreadStep)
}

func MaxLevelsFor(spreadStep float64) int {
	if spreadStep <= 0 {
		return 0
	}
	return max(int(math.Floor(1/spreadStep))-1, 1)
}

// Synthesize builds levels per side around mid. Cumulative sizes grow outward
// from the best price and PercentOfMax shares one denominator across both
// sides so the two ladders compare visually.
func (s Synthesizer) Synthesize(mid float64, levels int, src pricegen.Source) models.Ladder {
	ladder := models.Ladder{Mid: mid}
	if mid <= 0 || levels <= 0 {
		return ladder
	}

	ladder.Asks = make([]models.DepthLevel, levels)
	ladder.Bids = make([]models.DepthLevel, levels)
	for i := 0; i < levels; i++ {
		offset := s.SpreadStep * float64(i+1)
		ladder.Asks[i] = models.DepthLevel{Price: mid * (1 + offset), Size: s.size(src)}
		ladder.Bids[i] = models.DepthLevel{Price: pricegen.Clamp(mid * (1 - offset)), Size: s.size(src)}
	}

	askTotal := accumulate(ladder.Asks)
	bidTotal := accumulate(ladder.Bids)
	ladder.MaxTotal = max(askTotal, bidTotal)
	if ladder.MaxTotal > 0 {
		for i := range ladder.Asks {
			ladder.Asks[i].PercentOfMax = ladder.Asks[i].Cumulative / ladder.MaxTotal * 100
		}
		for i := range ladder.Bids {
			ladder.Bids[i].PercentOfMax = ladder.Bids[i].Cumulative / ladder.MaxTotal * 100
		}
	}
	return ladder
}

func (s Synthesizer) size(src pricegen.Source) float64 {
	return s.MinSize + src.Float64()*(s.MaxSize-s.MinSize)
}

func accumulate(levels []models.DepthLevel) float64 {
	total := 0.0
	for i := range levels {
		total += levels[i].Size
		levels[i].Cumulative = total
	}
	return total
}

// Spread is (bestAsk - bestBid) / mid * 100. It is unavailable for a
// non-positive mid or a one-sided ladder.
func Spread(l models.Ladder) (float64, bool) {
	ask, okAsk := l.BestAsk()
	bid, okBid := l.BestBid()
	if l.Mid <= 0 || !okAsk || !okBid {
		return 0, false
	}
	return (ask.Price - bid.Price) / l.Mid * 100, true
}
