package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// writeTimeout bounds a single event frame write.
const writeTimeout = 5 * time.Second

// handleEvents streams session events until the client disconnects or the
// session is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	// Subscribe before the handshake completes so that no event published
	// after the client sees the upgrade is missed.
	events, cancel := c.Subscribe(s.eventBuffer)
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the error response.
		observe.Logger(r.Context()).Debug("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	s.metrics.EventSubscribers.Add(ctx, 1)
	defer s.metrics.EventSubscribers.Add(context.WithoutCancel(ctx), -1)

	// The stream is write-only; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx = conn.CloseRead(ctx)

	log := observe.Logger(ctx).With("key", c.Key())
	log.Debug("api: event stream opened")

	for {
		select {
		case <-ctx.Done():
			log.Debug("api: event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("api: event write failed", "err", err)
				}
				return
			}
		}
	}
}
