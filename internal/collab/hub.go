package collab

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Kundan10424/loom/internal/auth"
	"github.com/Kundan10424/loom/internal/metrics"
	"github.com/Kundan10424/loom/internal/presence"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// session is one attached connection: an opaque id, the identity decoded at
// handshake time (immutable from then on), the writer that owns all frames
// to the peer, and the set of rooms the connection has joined. Sessions are
// owned exclusively by the hub goroutine.
type session struct {
	id       uuid.UUID
	identity auth.Identity
	writer   *clientWriter
	rooms    map[string]struct{}
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type attachCmd struct {
	baseHubCmd
	connection   *websocket.Conn
	identity     auth.Identity
	replyChannel chan uuid.UUID
}

type detachCmd struct {
	baseHubCmd
	connID uuid.UUID
}

type joinCmd struct {
	baseHubCmd
	connID uuid.UUID
	roomID string
}

type cursorCmd struct {
	baseHubCmd
	connID   uuid.UUID
	roomID   string
	fileID   string
	position json.RawMessage
}

type contentCmd struct {
	baseHubCmd
	connID  uuid.UUID
	roomID  string
	fileID  string
	content string
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type roomClientCountCmd struct {
	baseHubCmd
	roomID       string
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub routes collaboration events between connections sharing a room.
//
// It is a single-goroutine actor: all session and room mutation happens in
// the command loop, which is what serializes access to the presence registry
// without per-operation locking at the call sites. The per-connection
// lifecycle is Attach (authenticated) -> Join* -> Detach (disconnecting,
// cleanup per joined room) -> closed; a connection that fails the handshake
// is never attached at all.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	sessions map[uuid.UUID]*session
	rooms    map[string]map[uuid.UUID]*session
	registry *presence.Registry
	done     chan struct{}
}

// NewHub creates a hub over the given presence registry and starts its
// command loop. The registry must not be shared with another hub.
func NewHub(registry *presence.Registry, clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		clock:    clock,
		sessions: make(map[uuid.UUID]*session),
		rooms:    make(map[string]map[uuid.UUID]*session),
		registry: registry,
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Attach admits an authenticated connection and returns its connection id.
// The id is the handle for all subsequent events from the read pump.
func (h *Hub) Attach(connection *websocket.Conn, identity auth.Identity) (uuid.UUID, error) {
	replyCh := make(chan uuid.UUID, 1)
	h.cmdCh <- attachCmd{connection: connection, identity: identity, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-replyCh:
		return id, nil
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("attach command timed out after %v", commandTimeout)
	}
}

// Detach begins the disconnect cleanup for a connection: every joined room
// gets its presence entry decremented and, when the identity's last
// connection leaves, a user_left broadcast. Safe to call more than once.
func (h *Hub) Detach(connID uuid.UUID) {
	h.cmdCh <- detachCmd{connID: connID}
}

// HandleMessage decodes one inbound wire message from the given connection
// and dispatches it. Malformed events are counted, logged, and dropped.
func (h *Hub) HandleMessage(connID uuid.UUID, data []byte) {
	ev, err := ParseInbound(data)
	if err != nil {
		metrics.HubEventsTotal.WithLabelValues(ev.Type, "malformed").Inc()
		slog.Warn("Dropping malformed event", "connection_id", connID.String(), "error", err)
		return
	}

	switch ev.Type {
	case EventJoinRoom:
		h.cmdCh <- joinCmd{connID: connID, roomID: ev.RoomID}
	case EventCursorUpdate:
		h.cmdCh <- cursorCmd{connID: connID, roomID: ev.RoomID, fileID: ev.FileID, position: ev.Position}
	case EventContentUpdate:
		h.cmdCh <- contentCmd{connID: connID, roomID: ev.RoomID, fileID: ev.FileID, content: ev.Content}
	default:
		metrics.HubEventsTotal.WithLabelValues(ev.Type, "unknown").Inc()
		slog.Warn("Dropping unknown event type", "connection_id", connID.String(), "type", ev.Type)
	}
}

// ClientCount returns the number of attached connections.
// Returns -1 if the command times out.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{replyChannel: replyCh}
	return h.awaitCount(replyCh)
}

// RoomClientCount returns the number of connections joined to a room.
// Returns -1 if the command times out.
func (h *Hub) RoomClientCount(roomID string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- roomClientCountCmd{roomID: roomID, replyChannel: replyCh}
	return h.awaitCount(replyCh)
}

func (h *Hub) awaitCount(replyCh chan int) int {
	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("Hub count query timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the hub, closing all client connections.
// Blocks until the hub goroutine has exited or timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", stopTimeout)
		metrics.HubStopTimeoutsTotal.Inc()
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.closeAllSessions("hub panic")
		}
	}()

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > 200 { // 80% of 256
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case attachCmd:
				h.handleAttach(c)
			case detachCmd:
				h.handleDetach(c.connID)
			case joinCmd:
				h.handleJoin(c)
			case cursorCmd:
				h.handleCursor(c)
			case contentCmd:
				h.handleContent(c)
			case clientCountCmd:
				c.replyChannel <- len(h.sessions)
			case roomClientCountCmd:
				c.replyChannel <- len(h.rooms[c.roomID])
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleAttach(c attachCmd) {
	s := &session{
		id:       uuid.New(),
		identity: c.identity,
		writer:   newClientWriter(c.connection, h.clock),
		rooms:    make(map[string]struct{}),
	}
	h.sessions[s.id] = s

	metrics.HubConnectedClients.Set(float64(len(h.sessions)))
	slog.Info("Connection attached",
		"connection_id", s.id.String(),
		"user", s.identity.Key(),
		"total_clients", len(h.sessions),
	)
	c.replyChannel <- s.id
}

func (h *Hub) handleJoin(c joinCmd) {
	s, ok := h.sessions[c.connID]
	if !ok {
		return
	}
	s.writer.recordActivity()

	var active []string
	if _, already := s.rooms[c.roomID]; already {
		// Duplicate join from the same connection: no membership or refcount
		// change, but the join is still announced to the room.
		active = h.registry.Snapshot(c.roomID)
	} else {
		s.rooms[c.roomID] = struct{}{}
		members, ok := h.rooms[c.roomID]
		if !ok {
			members = make(map[uuid.UUID]*session)
			h.rooms[c.roomID] = members
		}
		members[s.id] = s
		active = h.registry.Join(c.roomID, s.identity.Key())
	}

	metrics.HubEventsTotal.WithLabelValues(EventJoinRoom, "ok").Inc()
	slog.Info("User joined room", "user", s.identity.Key(), "room_id", c.roomID, "active_users", len(active))

	data, err := marshalPresence(EventUserJoined, s.identity.Key(), active)
	if err != nil {
		slog.Error("Failed to marshal presence message", "error", err)
		return
	}
	h.broadcastToRoom(c.roomID, data, uuid.Nil, EventUserJoined)
}

func (h *Hub) handleCursor(c cursorCmd) {
	s, ok := h.memberSession(c.connID, c.roomID, EventCursorUpdate)
	if !ok {
		return
	}
	s.writer.recordActivity()

	data, err := marshalCursor(s.identity.Key(), c.fileID, c.position)
	if err != nil {
		slog.Error("Failed to marshal cursor message", "error", err)
		return
	}

	metrics.HubEventsTotal.WithLabelValues(EventCursorUpdate, "ok").Inc()
	h.broadcastToRoom(c.roomID, data, s.id, EventCursorUpdate)
}

func (h *Hub) handleContent(c contentCmd) {
	s, ok := h.memberSession(c.connID, c.roomID, EventContentUpdate)
	if !ok {
		return
	}
	s.writer.recordActivity()

	data, err := marshalContent(s.identity.Key(), c.fileID, c.content)
	if err != nil {
		slog.Error("Failed to marshal content message", "error", err)
		return
	}

	metrics.HubEventsTotal.WithLabelValues(EventContentUpdate, "ok").Inc()
	h.broadcastToRoom(c.roomID, data, s.id, EventReceiveContentChange)
}

// memberSession resolves a connection and checks it has joined the room.
// Events from non-members are dropped silently.
func (h *Hub) memberSession(connID uuid.UUID, roomID, event string) (*session, bool) {
	s, ok := h.sessions[connID]
	if !ok {
		return nil, false
	}
	if _, joined := s.rooms[roomID]; !joined {
		metrics.HubEventsTotal.WithLabelValues(event, "not_member").Inc()
		slog.Warn("Dropping event from non-member",
			"event", event,
			"user", s.identity.Key(),
			"room_id", roomID,
		)
		return nil, false
	}
	return s, true
}

func (h *Hub) handleDetach(connID uuid.UUID) {
	s, ok := h.sessions[connID]
	if !ok {
		return
	}

	// Cleanup runs while other members' writers are still live, so the
	// user_left frames below remain deliverable.
	for roomID := range s.rooms {
		h.removeFromRoom(s, roomID)

		active, departed := h.registry.Leave(roomID, s.identity.Key())
		if !departed {
			// Another connection of the same identity is still in the room.
			continue
		}

		data, err := marshalPresence(EventUserLeft, s.identity.Key(), active)
		if err != nil {
			slog.Error("Failed to marshal presence message", "error", err)
			continue
		}
		h.broadcastToRoom(roomID, data, uuid.Nil, EventUserLeft)
	}

	s.writer.stop()
	delete(h.sessions, connID)

	metrics.HubConnectedClients.Set(float64(len(h.sessions)))
	slog.Info("Connection detached", "connection_id", connID.String(), "user", s.identity.Key())
}

func (h *Hub) removeFromRoom(s *session, roomID string) {
	delete(s.rooms, roomID)
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// broadcastToRoom fans data out to every connection joined to the room,
// skipping exclude (uuid.Nil excludes nobody). Sends are fire-and-forget;
// clients whose buffers are full get evicted after the loop.
func (h *Hub) broadcastToRoom(roomID string, data []byte, exclude uuid.UUID, event string) {
	members := h.rooms[roomID]

	var slow []uuid.UUID
	for id, member := range members {
		if id == exclude {
			continue
		}
		if !member.writer.enqueue(data) {
			slow = append(slow, id)
		}
	}
	metrics.HubBroadcastsTotal.WithLabelValues(event).Inc()

	for _, id := range slow {
		slog.Warn("Disconnecting slow client", "connection_id", id.String(), "room_id", roomID)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleDetach(id)
	}
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "rooms", len(h.rooms), "total_clients", len(h.sessions))
	h.closeAllSessions("Server shutting down")
	slog.Info("Hub shutdown complete")
}

// closeAllSessions closes every client connection with the given reason.
// Used during panic recovery and graceful shutdown.
func (h *Hub) closeAllSessions(reason string) {
	for connID, s := range h.sessions {
		for roomID := range s.rooms {
			h.removeFromRoom(s, roomID)
			h.registry.Leave(roomID, s.identity.Key())
		}
		s.writer.stopGraceful(reason)
		delete(h.sessions, connID)
	}
	metrics.HubConnectedClients.Set(0)
}
