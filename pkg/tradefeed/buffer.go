package tradefeed

import (
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/cryptex/pkg/id"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
)

var ErrInvalidCapacity = errors.New("trade buffer capacity must be positive")

const (
	priceJitter = 0.001
	sizeBase    = 0.01
	sizeSpan    = 2.0
)

// Buffer holds the most recent trades, newest at index 0.
type Buffer struct {
	trades   []models.TradeEvent
	capacity int
}

func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer{
		trades:   make([]models.TradeEvent, 0, capacity),
		capacity: capacity,
	}, nil
}

// Record prepends ev and drops whatever falls past capacity.
func (b *Buffer) Record(ev models.TradeEvent) {
	if len(b.trades) < b.capacity {
		b.trades = append(b.trades, models.TradeEvent{})
	}
	copy(b.trades[1:], b.trades[:len(b.trades)-1])
	b.trades[0] = ev
}

func (b *Buffer) Len() int      { return len(b.trades) }
func (b *Buffer) Capacity() int { return b.capacity }

// Snapshot returns a copy, newest first.
func (b *Buffer) Snapshot() []models.TradeEvent {
	out := make([]models.TradeEvent, len(b.trades))
	copy(out, b.trades)
	return out
}

// Derive fabricates a print near price. The side is a fair coin and has no
// relation to the tick direction.
func Derive(src pricegen.Source, ids *id.Minter, instrumentID string, price float64, ts time.Time) models.TradeEvent {
	side := models.SideSell
	if src.Float64() > 0.5 {
		side = models.SideBuy
	}
	return models.TradeEvent{
		ID:           ids.At(ts),
		InstrumentID: instrumentID,
		Side:         side,
		Price:        pricegen.Clamp(price * (1 + (src.Float64()-0.5)*priceJitter)),
		Size:         src.Float64()*sizeSpan + sizeBase,
		Time:         ts,
	}
}
