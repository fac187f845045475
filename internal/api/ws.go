package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialcore/dialcore/internal/bus"
)

const (
	// wsWriteWait is the time allowed to write an event to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong from the peer.
	wsPongWait = 60 * time.Second

	// wsPingPeriod is how often pings are sent. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
)

// handleEvents upgrades the connection to a websocket and streams call
// lifecycle events as JSON, one message per event. The stream starts from
// the moment of subscription; there is no replay. A client that cannot keep
// up is disconnected rather than allowed to stall other subscribers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Info("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	sub := s.bus.Subscribe()
	s.logger.Info("event stream opened", "remote_addr", r.RemoteAddr)

	// Reader goroutine: the client never sends application data, but reads
	// must be drained for close frames and pong handling.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		conn.Close()
		s.logger.Info("event stream closed", "remote_addr", r.RemoteAddr)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				// Subscription closed by the publisher, typically overrun.
				if err := sub.Err(); err != nil && errors.Is(err, bus.ErrSubscriberOverrun) {
					s.logger.Info("event stream dropped, client too slow", "remote_addr", r.RemoteAddr)
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream overrun"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
