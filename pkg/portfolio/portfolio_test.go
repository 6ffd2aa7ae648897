package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prices map[string]float64

func (p prices) Price(id string) (float64, bool) {
	v, ok := p[id]
	return v, ok
}

func (p prices) ChangePercent(id string) (float64, bool) {
	if _, ok := p[id]; !ok {
		return 0, false
	}
	return 1.5, true
}

func TestValue(t *testing.T) {
	holdings := []Holding{
		{InstrumentID: "btc", Amount: 2, CostBasis: 50},
		{InstrumentID: "eth", Amount: 10, CostBasis: 20},
	}
	sum := Value(holdings, prices{"btc": 100, "eth": 10}, nil)

	require.Len(t, sum.Positions, 2)
	btc := sum.Positions[0]
	assert.Equal(t, 200.0, btc.Value)
	assert.Equal(t, 100.0, btc.Cost)
	assert.Equal(t, 100.0, btc.PnL)
	assert.True(t, btc.PnLPercentOK)
	assert.InDelta(t, 100.0, btc.PnLPercent, 1e-9)
	assert.InDelta(t, 200.0/300*100, btc.Allocation, 1e-9)
	assert.True(t, btc.Change24hOK)
	assert.False(t, btc.Stale)

	eth := sum.Positions[1]
	assert.InDelta(t, -50.0, eth.PnLPercent, 1e-9)

	assert.Equal(t, 300.0, sum.TotalValue)
	assert.Equal(t, 300.0, sum.TotalCost)
	assert.Equal(t, 0.0, sum.TotalPnL)
	assert.True(t, sum.PnLPercentOK)

	var alloc float64
	for _, p := range sum.Positions {
		alloc += p.Allocation
	}
	assert.InDelta(t, 100.0, alloc, 1e-9)
}

func TestValueFallsBackToBase(t *testing.T) {
	sum := Value([]Holding{{InstrumentID: "sol", Amount: 4, CostBasis: 100}}, prices{}, map[string]float64{"sol": 150})

	pos := sum.Positions[0]
	assert.True(t, pos.Stale)
	assert.Equal(t, 150.0, pos.Price)
	assert.Equal(t, 600.0, pos.Value)
	assert.False(t, pos.Change24hOK)
}

func TestValueDegenerate(t *testing.T) {
	empty := Value(nil, prices{}, nil)
	assert.Empty(t, empty.Positions)
	assert.False(t, empty.PnLPercentOK)

	free := Value([]Holding{{InstrumentID: "btc", Amount: 1}}, prices{"btc": 0}, nil)
	assert.False(t, free.PnLPercentOK)
	assert.False(t, free.Positions[0].PnLPercentOK)
	assert.False(t, free.Positions[0].AllocationOK)
}
