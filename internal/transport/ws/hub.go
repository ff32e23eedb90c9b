package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"zoneserver.ai/internal/protocol"
	"zoneserver.ai/internal/sim/world"
)

// Hub routes world notifications to connected sessions. Each session owns a bounded
// outbound queue and is disconnected when the queue overflows.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[world.SessionID]*session

	sent    atomic.Uint64
	dropped atomic.Uint64
	kicked  atomic.Uint64
}

type session struct {
	id   world.SessionID
	out  chan []byte
	kick func()
	once sync.Once
}

type HubStats struct {
	Sessions         int    `json:"sessions"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesDropped  uint64 `json:"messages_dropped"`
	SessionsOverflow uint64 `json:"sessions_overflow"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{log: logger, sessions: map[world.SessionID]*session{}}
}

func (h *Hub) register(id world.SessionID, out chan []byte, kick func()) {
	h.mu.Lock()
	h.sessions[id] = &session{id: id, out: out, kick: kick}
	h.mu.Unlock()
}

func (h *Hub) unregister(id world.SessionID) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()
	return HubStats{
		Sessions:         n,
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
		SessionsOverflow: h.kicked.Load(),
	}
}

func (h *Hub) send(id world.SessionID, v any) {
	h.mu.RLock()
	s := h.sessions[id]
	h.mu.RUnlock()
	if s == nil {
		h.dropped.Add(1)
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal notification", "session", id, "err", err)
		return
	}
	select {
	case s.out <- b:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
		s.once.Do(func() {
			h.kicked.Add(1)
			h.log.Warn("session outbound queue full; disconnecting", "session", id, "queue", cap(s.out))
			if s.kick != nil {
				s.kick()
			}
		})
	}
}

func (h *Hub) SendCreate(s world.SessionID, v world.ObjectView) {
	h.send(s, protocol.SceneCreateMsg{Type: protocol.TypeSceneCreate, ProtocolVersion: protocol.Version, Object: v})
}

func (h *Hub) SendDestroy(s world.SessionID, id world.ObjectID) {
	h.send(s, protocol.SceneDestroyMsg{Type: protocol.TypeSceneDestroy, ProtocolVersion: protocol.Version, ObjectID: uint64(id)})
}

func (h *Hub) SendContainmentUpdate(s world.SessionID, id, container world.ObjectID, arrangement int) {
	h.send(s, protocol.UpdateContainmentMsg{
		Type:            protocol.TypeUpdateContainment,
		ProtocolVersion: protocol.Version,
		ObjectID:        uint64(id),
		ContainerID:     uint64(container),
		Arrangement:     arrangement,
	})
}

func (h *Hub) SendStackUpdate(s world.SessionID, id world.ObjectID, counter int) {
	h.send(s, protocol.StackUpdateMsg{Type: protocol.TypeStackUpdate, ProtocolVersion: protocol.Version, ObjectID: uint64(id), Counter: counter})
}

var _ world.Notifier = (*Hub)(nil)
