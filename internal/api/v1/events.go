package v1

import (
	"net/http"
	"time"

	"ipwatch/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Any origin is accepted
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and pushes display and change events
// until the client goes away
func (api *API) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan app.Event, sendBuffer)
	done := make(chan struct{})
	unsubscribe := api.service.Subscribe(func(ev app.Event) {
		select {
		case send <- ev:
		case <-done:
		default:
			api.logger.Warn("WebSocket client too slow, dropping event",
				zap.String("client_addr", conn.RemoteAddr().String()))
		}
	})

	api.logger.Info("WebSocket client connected", zap.String("client_addr", conn.RemoteAddr().String()))
	go api.writePump(conn, send, done)
	api.readPump(conn)

	unsubscribe()
	close(done)
	api.logger.Info("WebSocket client disconnected", zap.String("client_addr", conn.RemoteAddr().String()))
}

// readPump discards client messages and returns once the connection closes
func (api *API) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				api.logger.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
	}
}

func (api *API) writePump(conn *websocket.Conn, send <-chan app.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
