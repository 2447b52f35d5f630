// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"mrvpn.dev/routeengine/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dnsMessage is the wire shape of one A-record observation.
type dnsMessage struct {
	Query   string `json:"query"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    int    `json:"type"`
	TTL     *int   `json:"ttl,omitempty"`
}

// DNSListener accepts WebSocket connections carrying A-record observations
// and feeds each one to an EventHandler, one goroutine per connection.
type DNSListener struct {
	Handler *EventHandler
	Logger  *logging.Logger
}

// NewDNSListener builds a listener over handler.
func NewDNSListener(handler *EventHandler) *DNSListener {
	return &DNSListener{
		Handler: handler,
		Logger:  logging.New(logging.DefaultConfig()).WithComponent("dns-listener"),
	}
}

// ServeHTTP upgrades the connection and reads text frames until the client
// disconnects. A malformed frame gets a literal error string reply and the
// connection stays open, matching the wire contract exactly.
func (l *DNSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg dnsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte("Error: Invalid JSON"))
			continue
		}

		if msg.Type != 1 {
			conn.WriteMessage(websocket.TextMessage, []byte("{}"))
			continue
		}

		record, err := ParseARecord(msg.Query, msg.Name, msg.Content, msg.Type, msg.TTL)
		if err != nil {
			l.Logger.Debug("dropping malformed a-record", "error", err)
			conn.WriteMessage(websocket.TextMessage, []byte("Error: Invalid JSON"))
			continue
		}

		resp := l.Handler.Handle(record)
		body, _ := json.Marshal(struct {
			TTL *int `json:"ttl"`
		}{TTL: resp.TTL})
		conn.WriteMessage(websocket.TextMessage, body)
	}
}
