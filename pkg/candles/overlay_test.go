package candles

import (
	"testing"
	"time"

	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closes(vals ...float64) []models.Candle {
	out := make([]models.Candle, len(vals))
	for i, v := range vals {
		out[i] = models.Candle{Open: v, High: v, Low: v, Close: v}
	}
	return out
}

func TestMovingAverage(t *testing.T) {
	ma := MovingAverage(closes(1, 2, 3, 4, 5, 6), 3)
	require.Len(t, ma, 6)

	for i := 0; i < 3; i++ {
		assert.False(t, ma[i].Valid, "index %d has no average", i)
	}
	// MA[i] averages the P closes before i.
	assert.Equal(t, MAPoint{Value: 2, Valid: true}, ma[3])
	assert.Equal(t, MAPoint{Value: 3, Valid: true}, ma[4])
	assert.Equal(t, MAPoint{Value: 4, Valid: true}, ma[5])
}

func TestMovingAverageDegenerate(t *testing.T) {
	for _, ma := range [][]MAPoint{
		MovingAverage(closes(1, 2), 14),
		MovingAverage(closes(1, 2, 3), 0),
		MovingAverage(closes(1, 2, 3), 3),
	} {
		for _, p := range ma {
			assert.False(t, p.Valid)
		}
	}
	assert.Empty(t, MovingAverage(nil, 3))
}

func TestChange(t *testing.T) {
	c := []models.Candle{{Open: 100, Close: 101}, {Open: 101, Close: 110}}
	change, ok := Change(c)
	require.True(t, ok)
	assert.InDelta(t, 10.0, change, 1e-9)

	_, ok = Change(nil)
	assert.False(t, ok)
}

func TestSetFoldsEveryTimeframe(t *testing.T) {
	set, err := NewSet([]models.Timeframe{models.Timeframe1m, models.Timeframe1h}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1m", "1h"}, set.Timeframes())

	src := pricegen.NewSource(5)
	for i := 0; i < 120; i++ {
		require.NoError(t, set.Fold(tick(100+float64(i), t0.Add(time.Duration(i)*time.Minute)), src))
	}

	snap := set.Snapshot()
	assert.Len(t, snap["1m"], 10)
	assert.Len(t, snap["1h"], 2)
	assert.Equal(t, 159.0, snap["1h"][0].Close)
	assert.Equal(t, 219.0, snap["1h"][1].Close)

	_, ok := set.Series("4h")
	assert.False(t, ok)
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	_, err := NewSet([]models.Timeframe{models.Timeframe1m, models.Timeframe1m}, 10)
	assert.Error(t, err)
}
