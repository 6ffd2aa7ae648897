package models

import "time"

// SnapshotView is the read API rendering of one instrument for one timeframe.
// Pointer fields are null when the value is unavailable.
type SnapshotView struct {
	Instrument   Instrument   `json:"instrument"`
	Pair         string       `json:"pair"`
	Price        float64      `json:"price"`
	PriceDisplay string       `json:"price_display"`
	Change24h    *float64     `json:"change_24h"`
	Volume24h    float64      `json:"volume_24h"`
	Window       []float64    `json:"window"`
	Trend        *string      `json:"trend"`
	Timeframe    string       `json:"timeframe"`
	Candles      []Candle     `json:"candles"`
	MA           []*float64   `json:"ma"`
	MAPeriod     int          `json:"ma_period"`
	SeriesChange *float64     `json:"series_change"`
	Trades       []TradeEvent `json:"trades"`
	Seq          uint64       `json:"seq"`
	Status       string       `json:"status"`
	LastUpdate   time.Time    `json:"last_update"`
}

type DepthView struct {
	Instrument string       `json:"instrument"`
	Mid        float64      `json:"mid"`
	Asks       []DepthLevel `json:"asks"`
	Bids       []DepthLevel `json:"bids"`
	MaxTotal   float64      `json:"max_total"`
	Spread     *float64     `json:"spread"`
}

// MarketUpdate is one stream frame: the instruments that moved and their
// prices as of Seq.
type MarketUpdate struct {
	Seq         uint64             `json:"seq"`
	Instruments []string           `json:"instruments"`
	Prices      map[string]float64 `json:"prices"`
	Time        time.Time          `json:"time"`
}
