package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/cryptex/pkg/candles"
	"github.com/gregtusar/cryptex/pkg/depth"
	"github.com/gregtusar/cryptex/pkg/hub"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/portfolio"
	"github.com/gregtusar/cryptex/pkg/window"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	maxDepthLevels = 200
	writeWait      = 10 * time.Second
)

type Options struct {
	Port             int
	RateLimit        float64
	RateBurst        int
	StreamPing       time.Duration
	DefaultTimeframe string
	Holdings         []portfolio.Holding
	BasePrices       map[string]float64
}

type Server struct {
	hub      *hub.Hub
	logger   *logrus.Logger
	opts     Options
	limiter  *rate.Limiter
	upgrader websocket.Upgrader

	mu      sync.Mutex
	srv     *http.Server
	closing chan struct{}
}

const defaultStreamPing = 30 * time.Second

func NewServer(h *hub.Hub, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.StreamPing <= 0 {
		logger.WithFields(logrus.Fields{
			"stream_ping": opts.StreamPing,
			"default":     defaultStreamPing,
		}).Warn("Stream ping interval not set, using default")
		opts.StreamPing = defaultStreamPing
	}
	if opts.DefaultTimeframe == "" {
		logger.WithField("default", models.Timeframe1h.Name).Warn("Default timeframe not set, using default")
		opts.DefaultTimeframe = models.Timeframe1h.Name
	}
	return &Server{
		hub:     h,
		logger:  logger,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

// Handler returns the full middleware chain. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/instruments", s.handleInstruments)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/depth", s.handleDepth)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/stream", s.handleStream)

	return corsMiddleware(s.rateLimitMiddleware(mux))
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Infof("Starting API server on port %d", s.opts.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes open streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.WithField("path", r.URL.Path).Warn("Rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	st := s.hub.Current()
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"seq":         st.Seq,
		"instruments": len(st.IDs()),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	snaps := s.hub.Snapshots()
	out := make([]models.Instrument, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Instrument)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	id := r.URL.Query().Get("instrument")
	if id == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = s.opts.DefaultTimeframe
	}

	snap, err := s.hub.Snapshot(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	view, err := BuildSnapshotView(snap, timeframe, s.hub.Options().MAPeriod)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// BuildSnapshotView renders snap for one timeframe with an MA overlay of the
// given period.
func BuildSnapshotView(snap hub.InstrumentSnapshot, timeframe string, period int) (models.SnapshotView, error) {
	series, err := snap.Series(timeframe)
	if err != nil {
		return models.SnapshotView{}, err
	}

	overlay := candles.MovingAverage(series, period)
	ma := make([]*float64, len(overlay))
	for i, p := range overlay {
		if p.Valid {
			ma[i] = floatPtr(p.Value)
		}
	}

	view := models.SnapshotView{
		Instrument:   snap.Instrument,
		Pair:         snap.Instrument.Pair(),
		Price:        snap.Price.Current,
		PriceDisplay: snap.Instrument.FormatPrice(snap.Price.Current),
		Volume24h:    snap.Price.Volume24h,
		Window:       snap.Window,
		Timeframe:    timeframe,
		Candles:      series,
		MA:           ma,
		MAPeriod:     period,
		Trades:       snap.Trades,
		Seq:          snap.Seq,
		Status:       string(snap.Status),
		LastUpdate:   snap.Price.LastUpdate,
	}
	if change, ok := snap.Price.ChangePercent(); ok {
		view.Change24h = floatPtr(change)
	}
	if trend, ok := window.TrendOf(snap.Window); ok {
		t := string(trend)
		view.Trend = &t
	}
	if change, ok := candles.Change(series); ok {
		view.SeriesChange = floatPtr(change)
	}
	return view, nil
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	id := r.URL.Query().Get("instrument")
	if id == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}
	levels := 0
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDepthLevels {
			http.Error(w, fmt.Sprintf("levels must be between 1 and %d", maxDepthLevels), http.StatusBadRequest)
			return
		}
		levels = n
	}

	ladder, err := s.hub.DepthLadder(id, levels)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, BuildDepthView(id, ladder))
}

func BuildDepthView(id string, ladder models.Ladder) models.DepthView {
	view := models.DepthView{
		Instrument: id,
		Mid:        ladder.Mid,
		Asks:       ladder.Asks,
		Bids:       ladder.Bids,
		MaxTotal:   ladder.MaxTotal,
	}
	if spread, ok := depth.Spread(ladder); ok {
		view.Spread = floatPtr(spread)
	}
	return view
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	st := s.hub.Current()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"seq":     st.Seq,
		"summary": portfolio.Value(s.opts.Holdings, st, s.opts.BasePrices),
	})
}

// handleStream pushes one frame per advance. Frames coalesce to the newest
// when the client reads slower than the hub ticks.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade stream connection")
		return
	}
	defer conn.Close()

	updates := make(chan hub.Update, 1)
	sub := s.hub.Subscribe(func(u hub.Update) {
		select {
		case updates <- u:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- u:
		default:
		}
	})
	defer s.hub.Unsubscribe(sub)

	logger := s.logger.WithFields(logrus.Fields{"subscriber": sub, "remote": r.RemoteAddr})
	logger.Info("Stream client connected")
	defer logger.Info("Stream client disconnected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := s.hub.Current()
	if err := s.writeFrame(conn, hub.Update{Seq: st.Seq, Instruments: st.IDs(), Time: st.Time}); err != nil {
		logger.WithError(err).Debug("Failed to write initial frame")
		return
	}

	ping := time.NewTicker(s.opts.StreamPing)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case u := <-updates:
			if err := s.writeFrame(conn, u); err != nil {
				logger.WithError(err).Debug("Failed to write frame")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.WithError(err).Debug("Failed to ping")
				return
			}
		}
	}
}

// writeFrame prices u against the latest State, which may be newer than u.
func (s *Server) writeFrame(conn *websocket.Conn, u hub.Update) error {
	st := s.hub.Current()
	prices := make(map[string]float64, len(u.Instruments))
	for _, id := range u.Instruments {
		if p, ok := st.Price(id); ok {
			prices[id] = p
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.MarketUpdate{
		Seq:         st.Seq,
		Instruments: u.Instruments,
		Prices:      prices,
		Time:        st.Time,
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
