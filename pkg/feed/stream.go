package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/sirupsen/logrus"
)

const defaultPingInterval = 30 * time.Second

type UpdateHandler func(models.MarketUpdate) error

// Stream follows /api/stream on a cryptex server.
type Stream struct {
	url          string
	pingInterval time.Duration
	logger       *logrus.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	handlers  []UpdateHandler
	done      chan struct{}
}

// NewStream accepts either the server base URL or a full ws:// URL.
func NewStream(baseURL string, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Stream{
		url:          streamURL(baseURL),
		pingInterval: defaultPingInterval,
		logger:       logger,
	}
}

func streamURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if !strings.HasSuffix(base, "/api/stream") {
		base += "/api/stream"
	}
	return base
}

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.done = make(chan struct{})

	go s.readLoop(ctx, conn, s.done)
	go s.keepAlive(ctx, conn, s.done)

	s.logger.WithField("url", s.url).Info("Connected to market stream")
	return nil
}

func (s *Stream) RegisterHandler(handler UpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer s.handleDisconnect(conn)

	for {
		var msg models.MarketUpdate
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			live := s.connected && s.conn == conn
			s.mu.Unlock()
			if live && ctx.Err() == nil && !isNormalClose(err) {
				s.logger.WithError(err).Error("Failed to read stream message")
			}
			return
		}

		s.mu.Lock()
		handlers := append([]UpdateHandler(nil), s.handlers...)
		s.mu.Unlock()

		for _, handler := range handlers {
			if err := handler(msg); err != nil {
				s.logger.WithError(err).WithField("seq", msg.Seq).Error("Handler error")
			}
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.WithError(err).Error("Failed to send ping")
				s.handleDisconnect(conn)
				return
			}
		}
	}
}

func (s *Stream) handleDisconnect(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return
	}
	s.connected = false
	s.conn.Close()
}

// Close sends a close frame and tears the connection down.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn, connected := s.conn, s.connected
	s.connected = false
	s.mu.Unlock()

	if !connected {
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent)
}
