package app

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// ProtocolRouter is the process entry point: WebSocket handshakes go to the
// WebSocket chain, everything else to the HTTP chain.
type ProtocolRouter struct {
	HTTP      http.Handler
	WebSocket http.Handler
}

// ServeHTTP dispatches r by protocol.
func (p ProtocolRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.WebSocket != nil && websocket.IsWebSocketUpgrade(r) {
		p.WebSocket.ServeHTTP(w, r)
		return
	}
	p.HTTP.ServeHTTP(w, r)
}
