package hub

import (
	"fmt"
	"time"

	"github.com/gregtusar/cryptex/pkg/models"
)

type Status string

const StatusStreaming Status = "streaming"

// InstrumentSnapshot is one instrument as of a single publish. Its slices are
// shared with every other reader and must be treated as read-only.
type InstrumentSnapshot struct {
	Instrument models.Instrument          `json:"instrument"`
	Price      models.PriceState          `json:"price"`
	Window     []float64                  `json:"window"`
	Candles    map[string][]models.Candle `json:"candles"`
	Trades     []models.TradeEvent        `json:"trades"`
	Seq        uint64                     `json:"seq"`
	Status     Status                     `json:"status"`
}

// Series returns the candles of one timeframe.
func (s InstrumentSnapshot) Series(timeframe string) ([]models.Candle, error) {
	series, ok := s.Candles[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTimeframe, timeframe)
	}
	return series, nil
}

// State is the immutable result of one publish. The hub swaps whole States,
// so a reader holding one sees every instrument at the same seq.
type State struct {
	Seq  uint64
	Time time.Time

	order       []string
	instruments map[string]*InstrumentSnapshot
}

func emptyState() *State {
	return &State{instruments: make(map[string]*InstrumentSnapshot)}
}

func (s *State) Get(id string) (InstrumentSnapshot, bool) {
	snap, ok := s.instruments[id]
	if !ok {
		return InstrumentSnapshot{}, false
	}
	return *snap, true
}

// Price reports the current price of id.
func (s *State) Price(id string) (float64, bool) {
	snap, ok := s.instruments[id]
	if !ok {
		return 0, false
	}
	return snap.Price.Current, true
}

// ChangePercent reports the session change of id.
func (s *State) ChangePercent(id string) (float64, bool) {
	snap, ok := s.instruments[id]
	if !ok {
		return 0, false
	}
	return snap.Price.ChangePercent()
}

// IDs lists instruments in registration order.
func (s *State) IDs() []string {
	return append([]string(nil), s.order...)
}

func (s *State) All() []InstrumentSnapshot {
	out := make([]InstrumentSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.instruments[id])
	}
	return out
}
