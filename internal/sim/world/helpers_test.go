package world

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/sim/terrains"
)

// recorder captures notifications in dispatch order.
type recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recorder) SendCreate(s SessionID, v ObjectView) {
	r.add(Notification{Kind: NotifyCreate, Session: s, ID: v.ID, View: v})
}

func (r *recorder) SendDestroy(s SessionID, id ObjectID) {
	r.add(Notification{Kind: NotifyDestroy, Session: s, ID: id})
}

func (r *recorder) SendContainmentUpdate(s SessionID, id, container ObjectID, arrangement int) {
	r.add(Notification{Kind: NotifyContainment, Session: s, ID: id, ContainerID: container, Arrangement: arrangement})
}

func (r *recorder) SendStackUpdate(s SessionID, id ObjectID, counter int) {
	r.add(Notification{Kind: NotifyStack, Session: s, ID: id, Counter: counter})
}

func (r *recorder) add(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// take returns and clears everything recorded so far.
func (r *recorder) take() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

func only(items []Notification, s SessionID) []Notification {
	var out []Notification
	for _, n := range items {
		if n.Session == s {
			out = append(out, n)
		}
	}
	return out
}

func ids(items []Notification, kind NotificationKind) []ObjectID {
	var out []ObjectID
	for _, n := range items {
		if n.Kind == kind {
			out = append(out, n.ID)
		}
	}
	return out
}

func newTestWorld(t *testing.T, opts ...Option) (*World, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := Config{
		Terrains:        terrains.Defaults(),
		DiscoveryRadius: 1024,
		NodeCapacity:    4,
	}
	w, err := New(cfg, append([]Option{WithNotifier(rec)}, opts...)...)
	require.NoError(t, err)
	return w, rec
}

func at(x, z float64) Location {
	return Location{Terrain: "tatooine", X: x, Z: z}
}

func newAvatar(id ObjectID) *Object {
	o := NewObject(id, "object/creature/player/human_male", KindPlayer,
		"inventory", "datapad", "right_hand", "left_hand", "hat", "back")
	o.Volume = 1
	return o
}

func newBag(id ObjectID, capacity int, arrangements ...[]string) *Object {
	o := NewObject(id, "object/tangible/wearables/backpack/backpack_s01", KindTangible)
	o.Volume = 1
	o.Capacity = capacity
	o.Arrangements = arrangements
	return o
}

func newItem(id ObjectID, volume int, arrangements ...[]string) *Object {
	o := NewObject(id, "object/tangible/item", KindTangible)
	o.Volume = volume
	o.Arrangements = arrangements
	return o
}

func newStack(id ObjectID, counter, max int) *Object {
	o := NewObject(id, "object/tangible/medicine/crafted/medpack_damage_a", KindTangible)
	o.Volume = 1
	o.Counter = counter
	o.MaxCounter = max
	return o
}

func place(t *testing.T, w *World, o *Object, parent ObjectID, loc Location, owner SessionID) {
	t.Helper()
	require.Equal(t, ResultOK, w.Place(o, parent, loc, owner), "place %d", o.ID)
}

func requireInvariants(t *testing.T, w *World) {
	t.Helper()
	require.NoError(t, w.CheckInvariants())
}

func sortedCopy(in []ObjectID) []ObjectID {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
