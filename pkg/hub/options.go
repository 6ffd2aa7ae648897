package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/cryptex/pkg/candles"
	"github.com/gregtusar/cryptex/pkg/depth"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
)

var ErrInvalidOptions = errors.New("invalid hub options")

const (
	DefaultTickInterval    = 800 * time.Millisecond
	DefaultWindowCapacity  = 20
	DefaultCandleRetention = 60
	DefaultCandleBackfill  = 60
	DefaultTradeCapacity   = 30
)

type Options struct {
	TickInterval     time.Duration
	WindowCapacity   int
	CandleRetention  int
	CandleBackfill   int
	Timeframes       []models.Timeframe
	DepthLevels      int
	SpreadStep       float64
	TradeCapacity    int
	Seed             uint64
	TickBias         float64
	TickVolatility   float64
	MAPeriod         int
	StrictInvariants bool

	// Generator overrides the seeded random walk.
	Generator pricegen.Generator
	Clock     Clock
}

// DefaultOptions returns the reference cadence and sizes. The default backfill is one
// short of retention so the open candle fits.
func DefaultOptions() Options {
	return Options{
		TickInterval:    DefaultTickInterval,
		WindowCapacity:  DefaultWindowCapacity,
		CandleRetention: DefaultCandleRetention,
		CandleBackfill:  DefaultCandleBackfill - 1,
		Timeframes:      append([]models.Timeframe(nil), models.Timeframes...),
		DepthLevels:     depth.DefaultLevels,
		SpreadStep:      depth.DefaultSpreadStep,
		TradeCapacity:   DefaultTradeCapacity,
		TickBias:        pricegen.DefaultTickBias,
		TickVolatility:  pricegen.DefaultTickVolatility,
		MAPeriod:        candles.DefaultMAPeriod,
	}
}

func (o Options) Validate() error {
	var problems []string
	if o.TickInterval <= 0 {
		problems = append(problems, fmt.Sprintf("tick interval %s", o.TickInterval))
	}
	if o.WindowCapacity <= 0 {
		problems = append(problems, fmt.Sprintf("window capacity %d", o.WindowCapacity))
	}
	if o.CandleRetention <= 0 {
		problems = append(problems, fmt.Sprintf("candle retention %d", o.CandleRetention))
	}
	if o.CandleBackfill < 0 || (o.CandleRetention > 0 && o.CandleBackfill >= o.CandleRetention) {
		problems = append(problems, fmt.Sprintf("candle backfill %d (retention %d)", o.CandleBackfill, o.CandleRetention))
	}
	if len(o.Timeframes) == 0 {
		problems = append(problems, "no timeframes")
	}
	for _, tf := range o.Timeframes {
		if tf.Duration <= 0 {
			problems = append(problems, fmt.Sprintf("timeframe %q duration %s", tf.Name, tf.Duration))
		}
	}
	if o.DepthLevels <= 0 {
		problems = append(problems, fmt.Sprintf("depth levels %d", o.DepthLevels))
	}
	if o.SpreadStep <= 0 || o.SpreadStep >= 0.5 {
		problems = append(problems, fmt.Sprintf("spread step %g", o.SpreadStep))
	} else if limit := depth.MaxLevelsFor(o.SpreadStep); o.DepthLevels > limit {
		problems = append(problems, fmt.Sprintf("depth levels %d exceed %d for spread step %g", o.DepthLevels, limit, o.SpreadStep))
	}
	if o.TradeCapacity <= 0 {
		problems = append(problems, fmt.Sprintf("trade capacity %d", o.TradeCapacity))
	}
	if o.Generator == nil {
		if o.TickBias < 0 || o.TickBias > 1 {
			problems = append(problems, fmt.Sprintf("tick bias %g", o.TickBias))
		}
		if o.TickVolatility < 0 {
			problems = append(problems, fmt.Sprintf("tick volatility %g", o.TickVolatility))
		}
	}
	if o.MAPeriod <= 0 {
		problems = append(problems, fmt.Sprintf("ma period %d", o.MAPeriod))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, problems)
	}
	return nil
}
