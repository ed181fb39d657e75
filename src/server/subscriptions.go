package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The endpoint is token-gated; origin policy is left to deployments.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeMessage is the client's opening frame on the websocket.
type subscribeMessage struct {
	Type string `json:"type"` // "subscribe"
	Node string `json:"node"` // node type name, e.g. "Post"
}

// handleSubscription upgrades the connection and streams per-node change
// events for one node type. Batch mutations never show up here.
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	// The gate runs before the upgrade; browsers can pass the token as a
	// query parameter since websocket clients cannot always set headers.
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.URL.Query().Get("token")
	}
	if err := s.gate.Admit(header); err != nil {
		s.logger.Infow("Subscription rejected at auth gate", "remoteAddr", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	var msg subscribeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return
	}
	if msg.Type != "subscribe" {
		conn.WriteJSON(map[string]string{"error": "first frame must be a subscribe message"})
		return
	}
	if _, ok := s.sm.Schema.Types[msg.Node]; !ok {
		conn.WriteJSON(map[string]string{"error": "unknown node type '" + msg.Node + "'"})
		return
	}

	sub := s.bus.Subscribe(msg.Node)
	defer s.bus.Unsubscribe(sub)

	s.logger.Infow("Subscription opened", "remoteAddr", r.RemoteAddr, "node", msg.Node)

	// Reader goroutine: its only job is noticing the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
