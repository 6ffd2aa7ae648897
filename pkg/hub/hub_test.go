package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gregtusar/cryptex/pkg/candles"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testHub(t *testing.T, mutate func(*Options)) (*Hub, *ManualClock, *test.Hook) {
	t.Helper()
	clock := NewManualClock(start)
	opts := DefaultOptions()
	opts.Seed = 42
	opts.Clock = clock
	if mutate != nil {
		mutate(&opts)
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h, err := New(opts, logger)
	require.NoError(t, err)
	return h, clock, hook
}

func btc() models.Instrument {
	return models.Instrument{ID: "btc", Symbol: "BTC", Name: "Bitcoin", BasePrice: 100}
}

func TestStepScenario(t *testing.T) {
	h, clock, _ := testHub(t, func(o *Options) {
		o.Timeframes = []models.Timeframe{models.Timeframe1h}
		o.CandleBackfill = 0
		o.WindowCapacity = 3
		o.Generator = pricegen.Step(1)
	})
	require.NoError(t, h.RegisterInstrument(btc()))

	for i := 0; i < 5; i++ {
		clock.Add(time.Second)
		h.Advance()
	}

	snap, err := h.Snapshot("btc")
	require.NoError(t, err)
	assert.InDelta(t, 105.0, snap.Price.Current, 1e-9)
	assert.InDeltaSlice(t, []float64{103, 104, 105}, snap.Window, 1e-9)
	assert.Equal(t, uint64(5), snap.Seq)
	assert.Equal(t, StatusStreaming, snap.Status)
	assert.Len(t, snap.Trades, 5)

	series, err := snap.Series("1h")
	require.NoError(t, err)
	require.Len(t, series, 1)
	c := series[0]
	assert.Equal(t, start, c.OpenTime)
	assert.InDelta(t, 100.0, c.Open, 1e-9)
	assert.InDelta(t, 105.0, c.High, 1e-9)
	assert.InDelta(t, 100.0, c.Low, 1e-9)
	assert.InDelta(t, 105.0, c.Close, 1e-9)

	_, err = snap.Series("3m")
	assert.ErrorIs(t, err, models.ErrUnknownTimeframe)
}

func TestRegisterPrimesViews(t *testing.T) {
	h, _, hook := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))

	snap, err := h.Snapshot("btc")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.Price.Current)
	assert.Len(t, snap.Window, DefaultWindowCapacity)
	assert.Equal(t, 100.0, snap.Window[len(snap.Window)-1])
	assert.Empty(t, snap.Trades)
	assert.Greater(t, snap.Price.PreviousClose24h, 0.0)

	for _, tf := range models.Timeframes {
		series, err := snap.Series(tf.Name)
		require.NoError(t, err)
		require.Len(t, series, DefaultCandleBackfill, tf.Name)
		open := series[len(series)-1]
		assert.Equal(t, tf.Bucket(start), open.OpenTime)
		assert.Equal(t, 100.0, open.Open)
		assert.Equal(t, 100.0, series[len(series)-2].Close, "history ends where the open candle starts")
	}

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Registered instrument", hook.LastEntry().Message)
}

func TestRegisterUsesConfiguredPreviousClose(t *testing.T) {
	h, _, _ := testHub(t, nil)
	meta := btc()
	meta.PreviousClose = 80
	require.NoError(t, h.RegisterInstrument(meta))

	change, ok := h.Current().ChangePercent("btc")
	require.True(t, ok)
	assert.InDelta(t, 25.0, change, 1e-9)
}

func TestVolume24hIsSessionAnchored(t *testing.T) {
	h, _, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))
	eth := models.Instrument{ID: "eth", Symbol: "ETH", BasePrice: 50, Volume24h: 2.5e9}
	require.NoError(t, h.RegisterInstrument(eth))

	snap, err := h.Snapshot("btc")
	require.NoError(t, err)
	volume := snap.Price.Volume24h
	assert.GreaterOrEqual(t, volume, 1e9)
	assert.Less(t, volume, 9e9)

	for i := 0; i < 10; i++ {
		h.Advance()
	}
	snap, err = h.Snapshot("btc")
	require.NoError(t, err)
	assert.Equal(t, volume, snap.Price.Volume24h)

	snap, err = h.Snapshot("eth")
	require.NoError(t, err)
	assert.Equal(t, 2.5e9, snap.Price.Volume24h)
}

func TestRegisterIsIdempotent(t *testing.T) {
	h, _, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))
	h.Advance()
	before, _ := h.Snapshot("btc")

	again := btc()
	again.BasePrice = 5
	require.NoError(t, h.RegisterInstrument(again))

	after, _ := h.Snapshot("btc")
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"btc"}, h.Instruments())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	h, _, _ := testHub(t, nil)
	assert.ErrorIs(t, h.RegisterInstrument(models.Instrument{BasePrice: 1}), ErrInvalidInstrument)
	assert.ErrorIs(t, h.RegisterInstrument(models.Instrument{ID: "x", BasePrice: 0}), ErrInvalidInstrument)
	assert.Empty(t, h.Instruments())
}

func TestSnapshotUnknownInstrument(t *testing.T) {
	h, _, _ := testHub(t, nil)
	_, err := h.Snapshot("doge")
	assert.ErrorIs(t, err, models.ErrUnknownInstrument)
	_, err = h.DepthLadder("doge", 4)
	assert.ErrorIs(t, err, models.ErrUnknownInstrument)
}

func TestSnapshotIsStableBetweenAdvances(t *testing.T) {
	h, clock, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))
	clock.Add(time.Second)
	h.Advance()

	a, err := h.Snapshot("btc")
	require.NoError(t, err)
	b, err := h.Snapshot("btc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAdvanceIsDeterministicForSeed(t *testing.T) {
	run := func() []float64 {
		h, clock, _ := testHub(t, nil)
		require.NoError(t, h.RegisterInstrument(btc()))
		for i := 0; i < 50; i++ {
			clock.Add(time.Second)
			h.Advance()
		}
		snap, _ := h.Snapshot("btc")
		return snap.Window
	}
	assert.Equal(t, run(), run())
}

func TestAdvanceKeepsViewsConsistent(t *testing.T) {
	h, clock, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))
	require.NoError(t, h.RegisterInstrument(models.Instrument{ID: "ada", Symbol: "ADA", BasePrice: 0.58, Precision: 3}))

	for i := 0; i < 200; i++ {
		clock.Add(17 * time.Second)
		h.Advance()

		for _, snap := range h.Snapshots() {
			assert.Greater(t, snap.Price.Current, 0.0)
			assert.Equal(t, snap.Price.Current, snap.Window[len(snap.Window)-1])
			assert.InEpsilon(t, snap.Price.Current, snap.Trades[0].Price, 0.001)
			for name, series := range snap.Candles {
				require.LessOrEqual(t, len(series), DefaultCandleRetention, name)
				open := series[len(series)-1]
				assert.Equal(t, snap.Price.Current, open.Close, name)
				for j, c := range series {
					require.NoError(t, c.Validate(), "%s[%d]", name, j)
					if j > 0 {
						assert.True(t, c.OpenTime.After(series[j-1].OpenTime))
					}
				}
			}
		}
	}
}

func TestAdvanceSkipsOutOfOrderTick(t *testing.T) {
	h, clock, hook := testHub(t, func(o *Options) {
		o.Timeframes = []models.Timeframe{models.Timeframe1m}
		o.StrictInvariants = true
	})
	require.NoError(t, h.RegisterInstrument(btc()))
	before, _ := h.Snapshot("btc")

	clock.Add(-2 * time.Hour)
	assert.NotPanics(t, func() { h.Advance() })

	after, _ := h.Snapshot("btc")
	assert.Equal(t, before.Candles, after.Candles)
	assert.Equal(t, uint64(1), after.Seq)
	assert.Equal(t, after.Price.Current, after.Window[len(after.Window)-1])

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestStrictInvariantsPanic(t *testing.T) {
	h, _, _ := testHub(t, func(o *Options) { o.StrictInvariants = true })
	assert.Panics(t, func() { h.foldFailed("btc", models.ErrCandleInvariant) })
	assert.NotPanics(t, func() { h.foldFailed("btc", candles.ErrOutOfOrder) })

	lenient, _, hook := testHub(t, nil)
	assert.NotPanics(t, func() { lenient.foldFailed("btc", models.ErrCandleInvariant) })
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestConcurrentReadersSeeOneSeq(t *testing.T) {
	h, clock, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))
	require.NoError(t, h.RegisterInstrument(models.Instrument{ID: "eth", Symbol: "ETH", BasePrice: 3580, Precision: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				st := h.Current()
				for _, snap := range st.All() {
					if snap.Seq != st.Seq {
						t.Errorf("snapshot seq %d in state %d", snap.Seq, st.Seq)
						return
					}
					if snap.Window[len(snap.Window)-1] != snap.Price.Current {
						t.Errorf("torn read for %s", snap.Instrument.ID)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		clock.Add(time.Second)
		h.Advance()
	}
	cancel()
	wg.Wait()
}

func TestSubscribe(t *testing.T) {
	h, _, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))

	var got []Update
	id := h.Subscribe(func(u Update) { got = append(got, u) })
	h.Advance()
	h.Advance()

	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, []string{"btc"}, got[1].Instruments)

	assert.True(t, h.Unsubscribe(id))
	assert.False(t, h.Unsubscribe(id))
	h.Advance()
	assert.Len(t, got, 2)
}

func TestSubscriberCanRead(t *testing.T) {
	h, _, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))

	var seen uint64
	h.Subscribe(func(u Update) {
		snap, err := h.Snapshot("btc")
		require.NoError(t, err)
		seen = snap.Seq
	})
	h.Advance()
	assert.Equal(t, uint64(1), seen)
}

func TestDepthLadderPerSeq(t *testing.T) {
	h, _, _ := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))

	a, err := h.DepthLadder("btc", 0)
	require.NoError(t, err)
	b, err := h.DepthLadder("btc", 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a.Asks, h.Options().DepthLevels)
	assert.Equal(t, 100.0, a.Mid)

	h.Advance()
	c, err := h.DepthLadder("btc", 4)
	require.NoError(t, err)
	assert.Len(t, c.Bids, 4)
	assert.NotEqual(t, a.Asks[0].Size, c.Asks[0].Size)
}

func TestDepthLadderCapsLevelsAboveSpreadLimit(t *testing.T) {
	h, _, hook := testHub(t, nil)
	require.NoError(t, h.RegisterInstrument(btc()))

	l, err := h.DepthLadder("btc", 4000)
	require.NoError(t, err)
	require.Len(t, l.Bids, 3332)
	require.Len(t, l.Asks, 3332)
	for i, lvl := range l.Bids {
		require.Greater(t, lvl.Price, pricegen.Epsilon, "bid %d", i)
		if i > 0 {
			require.Less(t, lvl.Price, l.Bids[i-1].Price, "bid %d", i)
		}
	}

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, 3332, entry.Data["capped_to"])
	assert.Equal(t, 4000, entry.Data["levels"])
}

func TestStartStop(t *testing.T) {
	h, _, _ := testHub(t, func(o *Options) { o.TickInterval = time.Millisecond })
	require.NoError(t, h.RegisterInstrument(btc()))

	var ticks atomic.Int64
	h.Subscribe(func(Update) { ticks.Add(1) })

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	stopped := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())

	require.NoError(t, h.Start(context.Background()))
	h.Stop()
}

func TestStartStopsOnContext(t *testing.T) {
	h, _, _ := testHub(t, func(o *Options) { o.TickInterval = time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return h.Start(context.Background()) == nil
	}, time.Second, time.Millisecond)
	h.Stop()
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"interval", func(o *Options) { o.TickInterval = 0 }},
		{"window", func(o *Options) { o.WindowCapacity = 0 }},
		{"retention", func(o *Options) { o.CandleRetention = 0 }},
		{"backfill fills retention", func(o *Options) { o.CandleBackfill = o.CandleRetention }},
		{"negative backfill", func(o *Options) { o.CandleBackfill = -1 }},
		{"no timeframes", func(o *Options) { o.Timeframes = nil }},
		{"depth", func(o *Options) { o.DepthLevels = 0 }},
		{"spread", func(o *Options) { o.SpreadStep = 0 }},
		{"spread too wide", func(o *Options) { o.SpreadStep = 0.5 }},
		{"depth beyond spread", func(o *Options) { o.SpreadStep = 0.01; o.DepthLevels = 100 }},
		{"trades", func(o *Options) { o.TradeCapacity = 0 }},
		{"bias", func(o *Options) { o.TickBias = 2 }},
		{"volatility", func(o *Options) { o.TickVolatility = -1 }},
		{"ma", func(o *Options) { o.MAPeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
			_, err := New(opts, nil)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	custom := DefaultOptions()
	custom.TickBias = 5
	custom.Generator = pricegen.Step(1)
	assert.NoError(t, custom.Validate(), "bias is ignored with a custom generator")
}
