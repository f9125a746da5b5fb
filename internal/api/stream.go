package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// Clients never send payloads; anything larger than this closes the stream.
const maxClientMessage = 512

// wsSink is the registry's view of one status stream. Send may be called
// from any pipeline goroutine; writes are serialized by writeMu.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	open         atomic.Bool
}

func newWSSink(conn *websocket.Conn, writeTimeout time.Duration) *wsSink {
	s := &wsSink{conn: conn, writeTimeout: writeTimeout}
	s.open.Store(true)
	return s
}

func (s *wsSink) IsOpen() bool { return s.open.Load() }

// Send writes event as one text frame, waiting at most writeTimeout.
func (s *wsSink) Send(event types.StatusEvent) error {
	if !s.open.Load() {
		return types.ErrBaseSinkClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(event); err != nil {
		s.open.Store(false)
		return err
	}
	return nil
}

func (s *wsSink) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// closeWith sends a close frame and drops the connection, which ends the
// read loop.
func (s *wsSink) closeWith(code int, reason string) {
	s.open.Store(false)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	_ = s.conn.Close()
}

// handleOrderStream attaches a receive-only status stream for the order
// in the path. The order does not need to exist yet.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if _, err := uuid.Parse(orderID); err != nil {
		s.writeError(w, types.NewError(types.ErrMalformedRequest, "order id must be a UUID", err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug().Err(err).Str("orderId", orderID).Msg("websocket upgrade failed")
		return
	}
	sink := newWSSink(conn, s.wsCfg.WriteTimeout)
	s.registry.Attach(orderID, sink)
	s.logger.Info().Str("orderId", orderID).Str("remote", r.RemoteAddr).Msg("status stream opened")

	done := make(chan struct{})
	go s.keepAlive(sink, done)

	s.readUntilClosed(sink)
	close(done)
	sink.open.Store(false)
	_ = conn.Close()
	s.registry.Release(orderID, sink)
	s.logger.Info().Str("orderId", orderID).Msg("status stream closed")
}

// readUntilClosed discards client frames and returns once the connection
// fails, is closed, or misses its pong deadline.
func (s *Server) readUntilClosed(sink *wsSink) {
	conn := sink.conn
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("status stream read error")
			}
			return
		}
	}
}

// keepAlive pings until done is closed. On server shutdown it closes the
// stream itself.
func (s *Server) keepAlive(sink *wsSink, done <-chan struct{}) {
	ticker := time.NewTicker(s.wsCfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.streamCtx.Done():
			sink.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}
