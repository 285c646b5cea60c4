package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader is shared across connections; origin checking is left to
// whatever reverse proxy/auth layer fronts the listener, matching the
// teacher's websocket_server.go.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn to the Conn interface HandleConn expects.
type wsConn struct {
	*websocket.Conn
}

func (w wsConn) ReadJSON(v interface{}) error  { return w.Conn.ReadJSON(v) }
func (w wsConn) WriteJSON(v interface{}) error { return w.Conn.WriteJSON(v) }

// Handler upgrades an HTTP request to a websocket and runs the full
// connection lifecycle, blocking until the connection closes.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		if err := s.HandleConn(r.Context(), wsConn{conn}); err != nil {
			s.log.Debug().Err(err).Msg("connection closed")
		}
	}
}
