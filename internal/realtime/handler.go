package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openteams/pulse/internal/auth"
	"github.com/openteams/pulse/internal/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the router
	},
}

// HandleWebSocket upgrades the request and starts the connection pumps.
// The identity layer has already authenticated the caller; the signed token
// only carries the resolved user ID.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	userID, err := auth.Subject(s.jwtSecret, token)
	if err != nil {
		log.Debug("realtime: identity token rejected", "error", err.Error())
		http.Error(w, "Invalid identity token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("realtime: upgrade failed", "error", err.Error())
		return
	}

	conn := s.hub.Connect(ws, userID)
	log.Debug("realtime: new connection", "conn_id", conn.ID(), "user_id", userID)

	go conn.WritePump()
	go conn.ReadPump()
}
