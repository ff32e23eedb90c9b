package worldtest

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/terrains"
	world "zoneserver.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() spawns an avatar for a session via the template factory
// - Move()/Give()/Drop() issue requests on behalf of a session
// - every notification is applied to a per-session client scene
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World
	F    *world.Factory

	mu      sync.Mutex
	clients map[world.SessionID]*Client
}

// Client mirrors what a connected game client would know about the world.
type Client struct {
	Session world.SessionID
	Avatar  world.ObjectID
	Scene   map[world.ObjectID]world.ObjectView

	// Violations collects notifications that contradict the client's scene.
	Violations []string
}

func NewHarness(t *testing.T, cats *catalogs.Catalogs, cfg world.Config) *Harness {
	t.Helper()
	if len(cfg.Terrains.Terrains) == 0 {
		cfg.Terrains = terrains.Defaults()
	}
	h := &Harness{T: t, Cats: cats, clients: map[world.SessionID]*Client{}}
	w, err := world.New(cfg, world.WithNotifier(h))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	h.W = w
	h.F = world.NewFactory(cats, w.NextID)
	return h
}

// LoadCatalogs reads configs/ relative to this package.
func LoadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func (h *Harness) client(s world.SessionID) *Client {
	c := h.clients[s]
	if c == nil {
		c = &Client{Session: s, Scene: map[world.ObjectID]world.ObjectView{}}
		h.clients[s] = c
	}
	return c
}

func (h *Harness) SendCreate(s world.SessionID, v world.ObjectView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.client(s)
	if _, dup := c.Scene[v.ID]; dup {
		c.Violations = append(c.Violations, fmt.Sprintf("duplicate create %d", v.ID))
	}
	c.Scene[v.ID] = v
}

func (h *Harness) SendDestroy(s world.SessionID, id world.ObjectID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.client(s)
	if _, ok := c.Scene[id]; !ok {
		c.Violations = append(c.Violations, fmt.Sprintf("destroy of unknown %d", id))
	}
	delete(c.Scene, id)
}

func (h *Harness) SendContainmentUpdate(s world.SessionID, id, container world.ObjectID, arrangement int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.client(s)
	v, ok := c.Scene[id]
	if !ok {
		c.Violations = append(c.Violations, fmt.Sprintf("containment update for unknown %d", id))
		return
	}
	v.Parent = container
	v.Arrangement = arrangement
	c.Scene[id] = v
}

func (h *Harness) SendStackUpdate(s world.SessionID, id world.ObjectID, counter int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.client(s)
	v, ok := c.Scene[id]
	if !ok {
		c.Violations = append(c.Violations, fmt.Sprintf("stack update for unknown %d", id))
		return
	}
	v.Counter = counter
	c.Scene[id] = v
}

// Join spawns a player avatar for session s at loc.
func (h *Harness) Join(s world.SessionID, loc world.Location) world.ObjectID {
	h.T.Helper()
	o, err := h.F.Create("object/creature/player/human_male")
	if err != nil {
		h.T.Fatalf("create avatar: %v", err)
	}
	if res := h.W.Place(o, 0, loc, s); res != world.ResultOK {
		h.T.Fatalf("place avatar for %s: %s", s, res)
	}
	h.mu.Lock()
	h.client(s).Avatar = o.ID
	h.mu.Unlock()
	return o.ID
}

// Leave destroys the session's avatar and forgets the client.
func (h *Harness) Leave(s world.SessionID) {
	h.T.Helper()
	h.mu.Lock()
	c := h.clients[s]
	h.mu.Unlock()
	if c == nil || c.Avatar == 0 {
		return
	}
	if res := h.W.Destroy(c.Avatar); res != world.ResultOK {
		h.T.Fatalf("destroy avatar of %s: %s", s, res)
	}
	h.mu.Lock()
	delete(h.clients, s)
	h.mu.Unlock()
}

// Spawn creates template inside parent (0 for the world).
func (h *Harness) Spawn(template string, parent world.ObjectID, loc world.Location) world.ObjectID {
	h.T.Helper()
	o, err := h.F.Create(template)
	if err != nil {
		h.T.Fatalf("create %s: %v", template, err)
	}
	if res := h.W.Place(o, parent, loc, ""); res != world.ResultOK {
		h.T.Fatalf("place %s: %s", template, res)
	}
	return o.ID
}

func (h *Harness) Avatar(s world.SessionID) world.ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.clients[s]; c != nil {
		return c.Avatar
	}
	return 0
}

func (h *Harness) Requester(s world.SessionID) world.Requester {
	return world.Requester{Session: s, Avatar: h.Avatar(s)}
}

// Move repositions the session's avatar.
func (h *Harness) Move(s world.SessionID, loc world.Location) world.Result {
	return h.W.Reposition(h.Requester(s), h.Avatar(s), loc)
}

// Give transfers id into container on behalf of s.
func (h *Harness) Give(s world.SessionID, id, container world.ObjectID) world.Result {
	return h.W.Transfer(h.Requester(s), id, container, nil)
}

// Drop puts id into the world at loc on behalf of s.
func (h *Harness) Drop(s world.SessionID, id world.ObjectID, loc world.Location) world.Result {
	return h.W.Transfer(h.Requester(s), id, 0, &loc)
}

// Scene returns the ids the session's client currently knows, ascending.
func (h *Harness) Scene(s world.SessionID) []world.ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clients[s]
	if c == nil {
		return nil
	}
	out := make([]world.ObjectID, 0, len(c.Scene))
	for id := range c.Scene {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Known returns the client's copy of id.
func (h *Harness) Known(s world.SessionID, id world.ObjectID) (world.ObjectView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clients[s]
	if c == nil {
		return world.ObjectView{}, false
	}
	v, ok := c.Scene[id]
	return v, ok
}

// CheckScenes fails the test when any client's scene differs from what the world says the
// session sees, or when a client received a contradictory notification.
func (h *Harness) CheckScenes() {
	h.T.Helper()
	h.mu.Lock()
	sessions := make([]world.SessionID, 0, len(h.clients))
	for s, c := range h.clients {
		if c.Avatar != 0 {
			sessions = append(sessions, s)
		}
		for _, v := range c.Violations {
			h.T.Errorf("session %s: %s", s, v)
		}
		c.Violations = nil
	}
	h.mu.Unlock()
	slices.Sort(sessions)

	for _, s := range sessions {
		want := h.W.VisibleTo(s)
		got := h.Scene(s)
		if !slices.Equal(want, got) {
			h.T.Errorf("session %s scene mismatch:\n world:  %v\n client: %v", s, want, got)
		}
	}
	if err := h.W.CheckInvariants(); err != nil {
		h.T.Errorf("invariants: %v", err)
	}
}
