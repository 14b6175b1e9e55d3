// Package realtime keeps the per-process registry of live websocket
// connections and their room-topic subscriptions. It is the local half of
// message fan-out; cross-process delivery goes through the bridge.
package realtime

import "sync"

// Hub tracks connections and room subscriptions for one server instance.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection         // connection ID -> connection
	rooms     map[string]map[string]struct{} // room ID -> connection IDs
	connRooms map[string]map[string]struct{} // connection ID -> room IDs
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers the connection and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()
	conn.Start()
}

// Detach removes the connection and all of its subscriptions.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	delete(h.conns, conn.ID)
	for roomID := range h.connRooms[conn.ID] {
		h.leaveLocked(roomID, conn.ID)
	}
	delete(h.connRooms, conn.ID)
}

// Subscribe adds the connection to the room topic.
func (h *Hub) Subscribe(roomID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[string]struct{})
		h.rooms[roomID] = room
	}
	room[conn.ID] = struct{}{}
	h.connRooms[conn.ID][roomID] = struct{}{}
}

// Unsubscribe removes the connection from the room topic.
func (h *Hub) Unsubscribe(roomID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(roomID, conn.ID)
}

// Broadcast delivers payload to every connection subscribed to the room and
// returns how many sends succeeded. Failed connections are dropped by their
// own read/write loops.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	h.mu.RLock()
	ids := h.rooms[roomID]
	targets := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := h.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount reports the number of attached connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]struct{})
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "server shutdown")
	}
}

func (h *Hub) leaveLocked(roomID, connID string) {
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
	if memberships, ok := h.connRooms[connID]; ok {
		delete(memberships, roomID)
	}
}
