package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownTimeframe  = errors.New("unknown timeframe")
)

// Instrument is immutable reference data, set at process start.
type Instrument struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Precision     int     `json:"precision"`
	BasePrice     float64 `json:"base_price"`
	PreviousClose float64 `json:"previous_close,omitempty"`
	Volume24h     float64 `json:"volume_24h,omitempty"`
}

// FormatPrice renders p with the instrument's display precision.
func (i Instrument) FormatPrice(p float64) string {
	precision := i.Precision
	if precision < 0 {
		precision = 0
	}
	return decimal.NewFromFloat(p).StringFixed(int32(precision))
}

// Pair is the display pair against the quote currency, e.g. BTC/USDT.
func (i Instrument) Pair() string {
	return strings.ToUpper(i.Symbol) + "/USDT"
}

type Tick struct {
	InstrumentID string    `json:"instrument_id"`
	Price        float64   `json:"price"`
	Time         time.Time `json:"time"`
}

// PriceState holds the canonical price of one instrument. PreviousClose24h and
// Volume24h are anchored at session start and never roll.
type PriceState struct {
	Current          float64   `json:"current"`
	PreviousClose24h float64   `json:"previous_close_24h"`
	Volume24h        float64   `json:"volume_24h"`
	LastUpdate       time.Time `json:"last_update"`
}

// ChangePercent is the move against the session baseline.
func (p PriceState) ChangePercent() (float64, bool) {
	if p.PreviousClose24h <= 0 {
		return 0, false
	}
	return (p.Current - p.PreviousClose24h) / p.PreviousClose24h * 100, true
}

type Timeframe struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

var (
	Timeframe1m  = Timeframe{Name: "1m", Duration: time.Minute}
	Timeframe5m  = Timeframe{Name: "5m", Duration: 5 * time.Minute}
	Timeframe15m = Timeframe{Name: "15m", Duration: 15 * time.Minute}
	Timeframe1h  = Timeframe{Name: "1h", Duration: time.Hour}
	Timeframe4h  = Timeframe{Name: "4h", Duration: 4 * time.Hour}
	Timeframe1D  = Timeframe{Name: "1D", Duration: 24 * time.Hour}
)

// Timeframes is the reference selector set, shortest first.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1D,
}

var timeframeRegistry = make(map[string]Timeframe)

func init() {
	for _, tf := range Timeframes {
		timeframeRegistry[tf.Name] = tf
	}
}

// ParseTimeframe looks up a reference timeframe by name.
func ParseTimeframe(name string) (Timeframe, error) {
	tf, ok := timeframeRegistry[name]
	if !ok {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, name)
	}
	return tf, nil
}

// Bucket returns the start of the bucket containing t. A timestamp exactly on
// a boundary starts the new bucket.
func (tf Timeframe) Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration)
}

// SameBucket reports whether a and b fall into one bucket.
func (tf Timeframe) SameBucket(a, b time.Time) bool {
	return tf.Bucket(a).Equal(tf.Bucket(b))
}

func (tf Timeframe) String() string {
	return tf.Name
}
