package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signalist/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams engine events to the client. Delivery is best-effort:
// a slow client drops events rather than backing up the bus. The optional
// ?session= query narrows the stream to one session.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	sessionFilter := c.Query("session")

	merged := make(chan events.Event, 256)
	clientGone := make(chan struct{})

	for _, t := range events.All() {
		stream, unsub := s.Bus.Subscribe(t, 64)
		defer unsub()
		go func(ch <-chan events.Event) {
			for ev := range ch {
				select {
				case merged <- ev:
				case <-clientGone:
					return
				default:
					// merged full: drop rather than block the bus
				}
			}
		}(stream)
	}

	// Read pump: we never expect client messages, but reading detects close.
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-merged:
			if sessionFilter != "" && ev.Session != sessionFilter {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
