package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gregtusar/cryptex/pkg/candles"
	"github.com/gregtusar/cryptex/pkg/depth"
	"github.com/gregtusar/cryptex/pkg/id"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/pricegen"
	"github.com/gregtusar/cryptex/pkg/tradefeed"
	"github.com/gregtusar/cryptex/pkg/window"
	"github.com/sirupsen/logrus"
)

// Synthetic quote-currency 24h volume range, drawn once per instrument.
const (
	volumeBase = 1e9
	volumeSpan = 8e9
)

var (
	ErrAlreadyRunning    = errors.New("hub already running")
	ErrInvalidInstrument = errors.New("invalid instrument")
)

// Hub is the single writer of canonical prices. Advance folds one tick into
// every derived view and publishes the result as one immutable State; readers
// only ever load that pointer.
type Hub struct {
	opts   Options
	logger *logrus.Logger
	clock  Clock
	gen    pricegen.Generator
	rng    *rand.Rand
	ids    *id.Minter
	seed   uint64
	synth  depth.Synthesizer

	writeMu     sync.Mutex
	instruments map[string]*instrument
	order       []string
	seq         uint64

	state atomic.Pointer[State]

	subsMu  sync.RWMutex
	subs    map[uint64]Subscriber
	nextSub uint64

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// instrument is the writer-side machinery. Nothing here is reachable from a
// published State.
type instrument struct {
	meta    models.Instrument
	price   models.PriceState
	window  *window.Window
	candles *candles.Set
	trades  *tradefeed.Buffer
}

// Update tells subscribers which instruments moved in one advance.
type Update struct {
	Seq         uint64    `json:"seq"`
	Instruments []string  `json:"instruments"`
	Time        time.Time `json:"time"`
}

// Subscriber runs on the driver goroutine after each publish. It must return
// quickly and must not call Advance or RegisterInstrument.
type Subscriber func(Update)

func New(opts Options, logger *logrus.Logger) (*Hub, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		logger.WithField("seed", seed).Info("No seed configured, using a time-based seed")
	}
	rng := pricegen.NewSource(seed)
	synth, err := depth.NewSynthesizer(opts.SpreadStep)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	h := &Hub{
		opts:        opts,
		logger:      logger,
		clock:       opts.Clock,
		gen:         opts.Generator,
		rng:         rng,
		ids:         id.NewMinter(seed),
		seed:        seed,
		synth:       synth,
		instruments: make(map[string]*instrument),
		subs:        make(map[uint64]Subscriber),
	}
	if h.clock == nil {
		h.clock = systemClock{}
	}
	if h.gen == nil {
		h.gen = pricegen.NewRandomWalk(rng, opts.TickBias, opts.TickVolatility)
	}
	h.state.Store(emptyState())
	return h, nil
}

func (h *Hub) Options() Options {
	return h.opts
}

// RegisterInstrument primes an instrument and moves it straight to streaming.
// Registering an id twice is a no-op.
func (h *Hub) RegisterInstrument(meta models.Instrument) error {
	if meta.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInstrument)
	}
	if meta.BasePrice <= 0 {
		return fmt.Errorf("%w: %s base price %g", ErrInvalidInstrument, meta.ID, meta.BasePrice)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if _, exists := h.instruments[meta.ID]; exists {
		h.logger.WithField("instrument", meta.ID).Debug("Instrument already registered")
		return nil
	}

	now := h.clock.Now()
	inst, err := h.prime(meta, now)
	if err != nil {
		return fmt.Errorf("prime %s: %w", meta.ID, err)
	}

	h.instruments[meta.ID] = inst
	h.order = append(h.order, meta.ID)
	h.publish([]string{meta.ID}, now)

	h.logger.WithFields(logrus.Fields{
		"instrument": meta.ID,
		"base_price": meta.BasePrice,
		"baseline":   inst.price.PreviousClose24h,
	}).Info("Registered instrument")
	return nil
}

func (h *Hub) prime(meta models.Instrument, now time.Time) (*instrument, error) {
	base := meta.BasePrice

	w, err := window.New(h.opts.WindowCapacity, pricegen.Sparkline(h.rng, base, h.opts.WindowCapacity))
	if err != nil {
		return nil, err
	}

	set, err := candles.NewSet(h.opts.Timeframes, h.opts.CandleRetention)
	if err != nil {
		return nil, err
	}
	seedTick := models.Tick{InstrumentID: meta.ID, Price: base, Time: now}
	for _, tf := range h.opts.Timeframes {
		series, _ := set.Series(tf.Name)
		if err := series.Seed(pricegen.Backfill(h.rng, base, h.opts.CandleBackfill, tf, tf.Bucket(now))); err != nil {
			return nil, err
		}
		if err := series.Fold(seedTick, 0); err != nil {
			return nil, err
		}
	}

	trades, err := tradefeed.New(h.opts.TradeCapacity)
	if err != nil {
		return nil, err
	}

	baseline := meta.PreviousClose
	if baseline <= 0 {
		// Session-anchored synthetic 24h move in roughly [-5.4%, +6.6%].
		change := (h.rng.Float64() - 0.45) * 12
		baseline = base / (1 + change/100)
	}
	volume := meta.Volume24h
	if volume <= 0 {
		volume = h.rng.Float64()*volumeSpan + volumeBase
	}

	return &instrument{
		meta: meta,
		price: models.PriceState{
			Current:          base,
			PreviousClose24h: baseline,
			Volume24h:        volume,
			LastUpdate:       now,
		},
		window:  w,
		candles: set,
		trades:  trades,
	}, nil
}

// Advance computes the next tick for every instrument, publishes the new
// State and then notifies subscribers.
func (h *Hub) Advance() Update {
	h.writeMu.Lock()

	now := h.clock.Now()
	h.seq++
	updated := make([]string, 0, len(h.order))
	for _, id := range h.order {
		h.advanceInstrument(h.instruments[id], now)
		updated = append(updated, id)
	}
	h.publish(updated, now)
	update := Update{Seq: h.seq, Instruments: updated, Time: now}

	h.writeMu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"seq":         update.Seq,
		"instruments": len(updated),
	}).Debug("Advanced market")

	h.notify(update)
	return update
}

func (h *Hub) advanceInstrument(inst *instrument, now time.Time) {
	next := pricegen.Clamp(h.gen.Next(inst.price.Current))

	inst.price.Current = next
	inst.price.LastUpdate = now
	inst.window.Push(next)

	tick := models.Tick{InstrumentID: inst.meta.ID, Price: next, Time: now}
	if err := inst.candles.Fold(tick, h.rng); err != nil {
		h.foldFailed(inst.meta.ID, err)
	}

	inst.trades.Record(tradefeed.Derive(h.rng, h.ids, inst.meta.ID, next, now))
}

func (h *Hub) foldFailed(id string, err error) {
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"instrument": id,
		"seq":        h.seq,
	})
	if errors.Is(err, candles.ErrOutOfOrder) {
		entry.Warn("Clock moved backwards, tick not folded into candles")
		return
	}
	entry.Error("Candle invariant violated")
	if h.opts.StrictInvariants {
		panic(err)
	}
}

// publish rebuilds the snapshots of changed instruments, reuses the rest and
// swaps the State in one store. Must hold writeMu.
func (h *Hub) publish(changed []string, now time.Time) {
	prev := h.state.Load()
	next := &State{
		Seq:         h.seq,
		Time:        now,
		order:       append([]string(nil), h.order...),
		instruments: make(map[string]*InstrumentSnapshot, len(h.order)),
	}
	for id, snap := range prev.instruments {
		next.instruments[id] = snap
	}
	for _, id := range changed {
		inst := h.instruments[id]
		next.instruments[id] = &InstrumentSnapshot{
			Instrument: inst.meta,
			Price:      inst.price,
			Window:     inst.window.Snapshot(),
			Candles:    inst.candles.Snapshot(),
			Trades:     inst.trades.Snapshot(),
			Seq:        h.seq,
			Status:     StatusStreaming,
		}
	}
	h.state.Store(next)
}

// Current returns the latest published State.
func (h *Hub) Current() *State {
	return h.state.Load()
}

// Snapshot is a point-in-time read of one instrument. Two calls without an
// Advance in between return identical values.
func (h *Hub) Snapshot(id string) (InstrumentSnapshot, error) {
	snap, ok := h.state.Load().Get(id)
	if !ok {
		return InstrumentSnapshot{}, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, id)
	}
	return snap, nil
}

func (h *Hub) Snapshots() []InstrumentSnapshot {
	return h.state.Load().All()
}

func (h *Hub) Instruments() []string {
	return h.state.Load().IDs()
}

// DepthLadder synthesizes a book around the published price of id. Sizes are
// drawn from a source keyed on the publish seq, so one State always yields the
// same ladder. levels <= 0 selects the configured depth.
func (h *Hub) DepthLadder(id string, levels int) (models.Ladder, error) {
	st := h.state.Load()
	snap, ok := st.instruments[id]
	if !ok {
		return models.Ladder{}, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, id)
	}
	if levels <= 0 {
		levels = h.opts.DepthLevels
	}
	if limit := h.synth.MaxLevels(); levels > limit {
		h.logger.WithFields(logrus.Fields{
			"instrument": id,
			"levels":     levels,
			"capped_to":  limit,
		}).Warn("Depth levels would push bids to zero, capping")
		levels = limit
	}
	return h.synth.Synthesize(snap.Price.Current, levels, h.ladderSource(id, st.Seq)), nil
}

func (h *Hub) ladderSource(id string, seq uint64) *rand.Rand {
	hash := fnv.New64a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], h.seed)
	binary.LittleEndian.PutUint64(buf[8:], seq)
	hash.Write(buf[:])
	hash.Write([]byte(id))
	return pricegen.NewSource(hash.Sum64() | 1)
}

func (h *Hub) Subscribe(fn Subscriber) uint64 {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	h.nextSub++
	h.subs[h.nextSub] = fn
	h.logger.WithField("subscriber", h.nextSub).Debug("Added subscriber")
	return h.nextSub
}

func (h *Hub) Unsubscribe(id uint64) bool {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	h.logger.WithField("subscriber", id).Debug("Removed subscriber")
	return true
}

func (h *Hub) notify(update Update) {
	h.subsMu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.subsMu.RUnlock()

	for _, fn := range subs {
		fn(update)
	}
}

// Start launches the fixed-cadence driver. The ticker drops ticks the loop
// could not keep up with.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.doneCh != nil {
		select {
		case <-h.doneCh:
		default:
			return ErrAlreadyRunning
		}
	}

	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.run(ctx, h.stopCh, h.doneCh)

	h.logger.WithFields(logrus.Fields{
		"interval":    h.opts.TickInterval.String(),
		"instruments": len(h.Instruments()),
	}).Info("Starting market hub")
	return nil
}

func (h *Hub) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			h.Advance()
		}
	}
}

// Stop halts the driver and waits for any in-flight Advance to finish. Safe
// to call more than once.
func (h *Hub) Stop() {
	h.runMu.Lock()
	stop, done := h.stopCh, h.doneCh
	h.stopCh, h.doneCh = nil, nil
	h.runMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	h.logger.Info("Stopped market hub")
}
