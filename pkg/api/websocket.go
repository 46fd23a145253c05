package api

import (
	"net/http"
	"time"

	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/master"
	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the event stream carries no secrets beyond
// what an already-authenticated operator connection sees, and CORS policy
// for browser-based dashboards is a deployment concern, not this package's.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
)

// eventsHandler upgrades to a websocket and streams every published cluster
// event to the caller until the connection closes.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("event stream: upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	s.writeSnapshot(conn)

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	// A read goroutine exists solely to notice the client closing the
	// connection; this stream is write-only from the server's side.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// eventsSnapshot is sent as the first message on every new subscription so a
// client doesn't have to separately poll the list endpoints to learn the
// cluster's current state.
type eventsSnapshot struct {
	Type       events.EventType           `json:"type"`
	Agents     []master.AgentSnapshot     `json:"agents"`
	Frameworks []master.FrameworkSnapshot `json:"frameworks"`
}

func (s *Server) writeSnapshot(conn *websocket.Conn) {
	snap := eventsSnapshot{
		Type:       "snapshot",
		Agents:     s.master.ListAgents(),
		Frameworks: s.master.ListFrameworks(),
	}
	conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	_ = conn.WriteJSON(snap)
}
