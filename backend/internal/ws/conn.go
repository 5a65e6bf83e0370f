package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lekhaflow/backend/internal/cache"
	"lekhaflow/backend/internal/events"
)

const (
	writeWait = 10 * time.Second
	// mergeWait bounds how long a sync-update frame may wait for the merge
	// semaphore before the client gets an error frame instead.
	mergeWait = 200 * time.Millisecond
	// presenceTTL is the logical expiry of a roster entry; heartbeat pongs
	// refresh it well before it runs out.
	presenceTTL = 10 * time.Minute
)

// Conn is one authenticated client connection. Frames arrive in order on a
// single stream and leave in order through the send channel; the write loop
// owns the socket for writes, the read loop for reads.
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	presence cache.PresenceCache
	sem      *events.Semaphore

	roomID   string
	userID   uint64
	username string
	email    string

	// sendMu serializes enqueue against closeSend: a room broadcast may
	// still hold a reference to this connection after it has left.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan OutboundMessage

	heartbeat time.Duration
}

func NewConn(ws *websocket.Conn, hub *Hub, presence cache.PresenceCache, sem *events.Semaphore, userID uint64, username, email string, heartbeat time.Duration) *Conn {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Conn{
		ws:        ws,
		hub:       hub,
		presence:  presence,
		sem:       sem,
		userID:    userID,
		username:  username,
		email:     email,
		send:      make(chan OutboundMessage, 32),
		heartbeat: heartbeat,
	}
}

// enqueue hands a frame to the write loop without blocking the caller; a
// slow consumer whose queue is full loses the frame rather than stalling
// the whole room. Frames for a connection that already tore down are
// discarded.
func (c *Conn) enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("ws: send queue full, dropping %s frame for user=%d", msg.MessageType(), c.userID)
	}
}

// closeSend stops the write loop. A broadcast that snapshotted this
// connection's room membership before the leave may still call enqueue
// afterwards; the flag turns those into no-ops instead of sends on a
// closed channel.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// pongWait is the deadline for a heartbeat response: one interval plus slack.
func (c *Conn) pongWait() time.Duration {
	return c.heartbeat + c.heartbeat/2
}

// readLoop relays inbound frames until the socket dies or the heartbeat
// deadline passes. Closing the send channel on the way out stops the write
// loop; in-flight broadcasts to other connections are unaffected.
func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.leaveRoom()
		c.closeSend()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		if c.presence != nil && c.roomID != "" {
			if err := c.presence.AddMember(ctx, c.roomID, c.userID, c.username, presenceTTL); err != nil {
				log.Printf("ws: refresh presence user=%d room=%s: %v", c.userID, c.roomID, err)
			}
		}
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			log.Printf("ws: read error (user=%d, room=%s): %v", c.userID, c.roomID, err)
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed frame: drop it, keep the connection.
			log.Printf("ws: malformed frame from user=%d dropped: %v", c.userID, err)
			continue
		}

		switch msg.Type {
		case TypeJoinRoom:
			c.handleJoin(ctx, msg)
		case TypeLeaveRoom:
			c.leaveRoom()
		case TypeSyncUpdate:
			c.handleSyncUpdate(ctx, msg, raw)
		case TypeAwareness:
			c.handleAwareness(ctx, msg)
		default:
			c.enqueue(ServerMessage{Type: TypeError, Reason: "unknown frame type"})
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.RoomID == "" {
		c.enqueue(ServerMessage{Type: TypeError, Reason: "join-room requires roomId"})
		return
	}
	if c.roomID != "" && c.roomID != msg.RoomID {
		c.leaveRoom()
	}
	c.roomID = msg.RoomID
	c.hub.Join(ctx, c.roomID, c)
	if c.presence != nil {
		if err := c.presence.AddMember(ctx, c.roomID, c.userID, c.username, presenceTTL); err != nil {
			log.Printf("ws: add presence user=%d room=%s: %v", c.userID, c.roomID, err)
		}
	}

	// Full snapshot, sent exactly once on join; after this the client only
	// receives deltas.
	state, err := c.hub.RoomState(c.roomID)
	if err != nil {
		c.enqueue(ServerMessage{Type: TypeError, Reason: err.Error()})
		return
	}
	c.enqueue(ServerMessage{
		Type:      TypeRoomState,
		RoomID:    c.roomID,
		Timestamp: time.Now().UnixMilli(),
		Update:    state,
	})
	c.hub.Broadcast(c.roomID, ServerMessage{
		Type:      TypeJoinRoom,
		RoomID:    c.roomID,
		Timestamp: time.Now().UnixMilli(),
		UserID:    c.userID,
		UserName:  c.username,
	}, c)
}

func (c *Conn) handleSyncUpdate(ctx context.Context, msg ClientMessage, raw []byte) {
	if c.roomID == "" {
		c.enqueue(ServerMessage{Type: TypeError, Reason: ErrRoomNotJoined.Error()})
		return
	}
	mergeCtx, cancel := context.WithTimeout(ctx, mergeWait)
	defer cancel()
	if c.sem != nil {
		if err := c.sem.Acquire(mergeCtx); err != nil {
			c.enqueue(ServerMessage{Type: TypeError, Reason: err.Error()})
			return
		}
		defer func() { _ = c.sem.Release() }()
	}
	// Apply locally, then hand the same bytes to the room for fan-out. Both
	// steps happen before the next frame of this connection is read, so they
	// form one unit with respect to this stream; no cross-connection lock is
	// needed because the merge is commutative.
	if err := c.hub.MergeUpdate(mergeCtx, c.roomID, c.userID, msg.Update); err != nil {
		c.enqueue(ServerMessage{Type: TypeError, Reason: err.Error()})
		return
	}
	c.hub.Broadcast(c.roomID, ServerMessage{
		Type:      TypeSyncUpdate,
		RoomID:    c.roomID,
		Timestamp: time.Now().UnixMilli(),
		UserID:    c.userID,
		Update:    msg.Update,
	}, c)
}

// handleAwareness relays presence state to the room. Awareness is never
// merged into the document; the room-mates' copies die with this connection.
func (c *Conn) handleAwareness(ctx context.Context, msg ClientMessage) {
	if c.roomID == "" {
		return
	}
	c.hub.Broadcast(c.roomID, ServerMessage{
		Type:      TypeAwareness,
		RoomID:    c.roomID,
		Timestamp: time.Now().UnixMilli(),
		UserID:    c.userID,
		UserName:  c.username,
		Awareness: msg.Awareness,
	}, c)
	if c.presence != nil && len(msg.Awareness) > 0 {
		if err := c.presence.SetCursor(ctx, c.roomID, c.userID, msg.Awareness, presenceTTL); err != nil {
			log.Printf("ws: cache cursor user=%d room=%s: %v", c.userID, c.roomID, err)
		}
	}
}

// leaveRoom removes the connection from its room and discards its awareness
// entry immediately, broadcasting the departure.
func (c *Conn) leaveRoom() {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	c.hub.Leave(c)
	c.roomID = ""
	if c.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.presence.RemoveMember(ctx, roomID, c.userID); err != nil {
			log.Printf("ws: remove presence user=%d room=%s: %v", c.userID, roomID, err)
		}
		cancel()
	}
	c.hub.Broadcast(roomID, ServerMessage{
		Type:      TypeLeaveRoom,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
		UserID:    c.userID,
		UserName:  c.username,
	}, nil)
}

// writeLoop drains the send queue and pings on the heartbeat interval. A
// missed pong surfaces as a read deadline error in readLoop, which tears
// the connection down and shrinks the room.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("ws: write error (user=%d): %v", c.userID, err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Printf("ws: ping error (user=%d): %v", c.userID, err)
				return
			}
		}
	}
}
