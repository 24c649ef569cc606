package events

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Dashboard feeds are long-lived and one-way; clients that stop
// answering pings within pongWait are dropped so the hub never writes
// to dead connections.
const (
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator API sits behind the network boundary
	},
}

func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		hub.AddWS(ws)
		log.Println("[ws] dashboard client connected")

		_ = ws.WriteMessage(
			websocket.TextMessage,
			[]byte(`{"type":"welcome","transport":"websocket"}`+"\n"),
		)

		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		// WriteControl is safe alongside the hub's broadcast writes.
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := ws.WriteControl(websocket.PingMessage, nil,
						time.Now().Add(wsWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		// The read loop only services pongs and the close handshake;
		// incoming data frames are ignored but still count as liveness.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("[ws] dashboard client dropped: %v", err)
				}
				break
			}
			_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		}
		close(done)

		hub.RemoveWS(ws)
		log.Println("[ws] dashboard client disconnected")
	}
}
