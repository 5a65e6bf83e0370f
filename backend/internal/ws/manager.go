package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lekhaflow/backend/internal/cache"
	"lekhaflow/backend/internal/events"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager owns the per-connection lifecycle: the auth middleware has already
// resolved the bearer token by the time WebSocketConnect runs, so a request
// without identity never reaches the upgrade.
type Manager struct {
	hub       *Hub
	presence  cache.PresenceCache
	heartbeat time.Duration
	// sem bounds concurrent merge work across all connections.
	sem *events.Semaphore
}

func NewManager(hub *Hub, presence cache.PresenceCache, heartbeat time.Duration) *Manager {
	return &Manager{
		hub:       hub,
		presence:  presence,
		heartbeat: heartbeat,
		sem:       events.NewSemaphore(100),
	}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	email := c.GetString("email")
	if userID == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHENTICATED",
			"message": "missing identity",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	wsConn := NewConn(conn, m.hub, m.presence, m.sem, userID, username, email, m.heartbeat)

	// Start the write loop first so frames enqueued during join are flushed.
	go wsConn.writeLoop()
	// A room id in the path query joins immediately; otherwise the client
	// sends a join-room frame itself.
	if roomID := c.Query("roomId"); roomID != "" {
		wsConn.handleJoin(c.Request.Context(), ClientMessage{Type: TypeJoinRoom, RoomID: roomID})
	}
	wsConn.readLoop(c.Request.Context())
}
