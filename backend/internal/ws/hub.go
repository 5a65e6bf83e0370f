package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"lekhaflow/backend/internal/element"
	"lekhaflow/backend/internal/events"
	"lekhaflow/backend/internal/store"
)

var ErrRoomNotJoined = errors.New("room not joined")

// room groups the connections collaborating on one canvas together with the
// server-side replica of its document. Rooms are created lazily on first
// join and reaped only after sitting empty past the cleanup timeout.
type room struct {
	clients      map[*Conn]struct{}
	doc          *element.Store
	createdAt    time.Time
	lastActivity time.Time
	// dirty marks unsaved merges since the last snapshot persist.
	dirty bool
}

type HubOptions struct {
	ReapInterval   time.Duration
	CleanupTimeout time.Duration
}

// Hub routes updates between the connections of each room. The rooms map and
// each room's client set are the only state mutated by multiple connection
// goroutines, so every touch goes through mu.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	gateway    store.Gateway
	canvases   *store.CanvasStore
	dispatcher *events.Dispatcher

	reapInterval   time.Duration
	cleanupTimeout time.Duration
}

func NewHub(gateway store.Gateway, canvases *store.CanvasStore, dispatcher *events.Dispatcher, opt HubOptions) *Hub {
	if opt.ReapInterval <= 0 {
		opt.ReapInterval = time.Minute
	}
	if opt.CleanupTimeout <= 0 {
		opt.CleanupTimeout = 5 * time.Minute
	}
	return &Hub{
		rooms:          make(map[string]*room),
		gateway:        gateway,
		canvases:       canvases,
		dispatcher:     dispatcher,
		reapInterval:   opt.ReapInterval,
		cleanupTimeout: opt.CleanupTimeout,
	}
}

// getOrCreateRoom returns the room, hydrating a new one from the persistence
// gateway. A fetch failure is logged and the room starts empty; it is never
// fatal to the session.
func (h *Hub) getOrCreateRoom(ctx context.Context, roomID string) *room {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r != nil {
		return r
	}

	doc := element.NewStore()
	if h.gateway != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		data, err := h.gateway.Fetch(fetchCtx, roomID)
		cancel()
		if err != nil {
			log.Printf("hub: hydrate room=%s failed, starting empty: %v", roomID, err)
		} else if data != nil {
			if _, err := doc.Merge(data); err != nil {
				log.Printf("hub: corrupt snapshot for room=%s, starting empty: %v", roomID, err)
			}
		}
	}
	if h.canvases != nil {
		if err := h.canvases.EnsureExists(ctx, roomID); err != nil {
			log.Printf("hub: register canvas=%s failed: %v", roomID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing := h.rooms[roomID]; existing != nil {
		return existing
	}
	now := time.Now()
	r = &room{
		clients:      make(map[*Conn]struct{}),
		doc:          doc,
		createdAt:    now,
		lastActivity: now,
	}
	h.rooms[roomID] = r
	return r
}

// Join adds the connection to the room's client set.
func (h *Hub) Join(ctx context.Context, roomID string, c *Conn) {
	r := h.getOrCreateRoom(ctx, roomID)
	h.mu.Lock()
	r.clients[c] = struct{}{}
	r.lastActivity = time.Now()
	h.mu.Unlock()
}

// Leave removes the connection from its room. The room itself is kept for
// the reaper's grace period so a reconnecting client finds its document
// still hot; when the room empties, its state is persisted best-effort.
func (h *Hub) Leave(c *Conn) {
	if c.roomID == "" {
		return
	}
	h.mu.Lock()
	r := h.rooms[c.roomID]
	var persist bool
	if r != nil {
		delete(r.clients, c)
		r.lastActivity = time.Now()
		persist = len(r.clients) == 0 && r.dirty
	}
	h.mu.Unlock()
	if persist {
		h.persistRoom(c.roomID, r)
	}
}

// Broadcast sends msg to every member of the room except exclude. The sender
// already reflects its own change locally; echoing it back would only feed
// redundant re-application.
func (h *Hub) Broadcast(roomID string, msg OutboundMessage, exclude *Conn) {
	h.mu.RLock()
	r := h.rooms[roomID]
	if r == nil {
		h.mu.RUnlock()
		return
	}
	conns := make([]*Conn, 0, len(r.clients))
	for c := range r.clients {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(msg)
	}
}

// MergeUpdate applies an inbound document delta to the room's replica and
// feeds the applied-update event stream. Merge errors mean the whole frame
// was undecodable; per-element problems are skipped inside the store.
func (h *Hub) MergeUpdate(ctx context.Context, roomID string, actorID uint64, update []byte) error {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return ErrRoomNotJoined
	}
	applied, err := r.doc.Merge(update)
	if err != nil {
		return err
	}
	h.mu.Lock()
	r.lastActivity = time.Now()
	if applied > 0 {
		r.dirty = true
	}
	h.mu.Unlock()
	if applied > 0 && h.dispatcher != nil {
		evt := events.BoardEvent{
			EventType: events.EventElementsMerged,
			CanvasID:  roomID,
			ActorID:   actorID,
			Applied:   applied,
			At:        time.Now(),
		}
		if err := h.dispatcher.Enqueue(ctx, evt); err != nil {
			log.Printf("hub: drop board event room=%s: %v", roomID, err)
		}
	}
	return nil
}

// RoomState encodes the room's full document, tombstones included, for the
// room-state frame sent once on join.
func (h *Hub) RoomState(roomID string) ([]byte, error) {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return nil, ErrRoomNotJoined
	}
	return r.doc.EncodeState()
}

// ClientCount reports the size of a room's client set; 0 when absent.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[roomID]; r != nil {
		return len(r.clients)
	}
	return 0
}

// StartReaper runs the periodic eviction of empty, idle rooms until ctx is
// cancelled.
func (h *Hub) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(h.reapInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.reapOnce(now)
			}
		}
	}()
}

// reapOnce deletes rooms that have had zero clients for longer than the
// cleanup timeout, persisting their state first. Rooms with members are
// never reaped regardless of how old their last activity is.
func (h *Hub) reapOnce(now time.Time) {
	type victim struct {
		id string
		r  *room
	}
	h.mu.Lock()
	var victims []victim
	for id, r := range h.rooms {
		if len(r.clients) == 0 && now.Sub(r.lastActivity) > h.cleanupTimeout {
			victims = append(victims, victim{id: id, r: r})
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()
	for _, v := range victims {
		if v.r.dirty {
			h.persistRoom(v.id, v.r)
		}
		log.Printf("hub: reaped idle room=%s", v.id)
	}
}

// persistRoom saves the room's document through the gateway. Best-effort:
// failures are logged and the in-memory state stays authoritative.
func (h *Hub) persistRoom(roomID string, r *room) {
	if h.gateway == nil {
		return
	}
	data, err := r.doc.EncodeState()
	if err != nil {
		log.Printf("hub: encode snapshot room=%s failed: %v", roomID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.gateway.Store(ctx, roomID, data); err != nil {
		log.Printf("hub: persist room=%s failed: %v", roomID, err)
		return
	}
	h.mu.Lock()
	if cur := h.rooms[roomID]; cur == r {
		r.dirty = false
	}
	h.mu.Unlock()
}
