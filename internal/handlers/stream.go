package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// StreamFeed upgrades to a websocket and pushes each newly persisted audit
// record as one JSON text message. A reader that falls too far behind misses
// events; the pipeline is never slowed by a subscriber.
func StreamFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("feed websocket accept failed")
		return
	}
	defer conn.CloseNow()

	sub, cancel := Hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case line, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, line); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}
