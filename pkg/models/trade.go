package models

import (
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is a synthetic print for the trade feed. It is not the result
// of any matching.
type TradeEvent struct {
	ID           string    `json:"id"`
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Price        float64   `json:"price"`
	Size         float64   `json:"size"`
	Time         time.Time `json:"time"`
}

type DepthLevel struct {
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	Cumulative   float64 `json:"cumulative"`
	PercentOfMax float64 `json:"percent_of_max"`
}

// Ladder is a two-sided synthetic book around Mid. Asks ascend from the mid,
// bids descend from it.
type Ladder struct {
	Mid      float64      `json:"mid"`
	Asks     []DepthLevel `json:"asks"`
	Bids     []DepthLevel `json:"bids"`
	MaxTotal float64      `json:"max_total"`
}

func (l Ladder) BestAsk() (DepthLevel, bool) {
	if len(l.Asks) == 0 {
		return DepthLevel{}, false
	}
	return l.Asks[0], true
}

func (l Ladder) BestBid() (DepthLevel, bool) {
	if len(l.Bids) == 0 {
		return DepthLevel{}, false
	}
	return l.Bids[0], true
}
