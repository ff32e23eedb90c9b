package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/sim/catalogs"
)

func TestFactory_PlayerComesWithEquipment(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	require.NoError(t, err)
	w, rec := newTestWorld(t)
	f := NewFactory(cats, w.NextID)

	player, err := f.Create("object/creature/player/human_male")
	require.NoError(t, err)
	require.Equal(t, ResultOK, w.Place(player, 0, at(0, 0), "s"))

	kids := w.Children(player.ID)
	require.Len(t, kids, 2)
	inv, _ := w.Get(kids[0])
	pad, _ := w.Get(kids[1])
	assert.Equal(t, "object/tangible/inventory/character_inventory", inv.Template)
	assert.Equal(t, PermInventory, inv.Permissions)
	assert.Equal(t, []string{"inventory"}, w.Slots(inv.ID))
	assert.Equal(t, []string{"datapad"}, w.Slots(pad.ID))

	got := rec.take()
	assert.Equal(t, []ObjectID{player.ID, inv.ID, pad.ID}, ids(only(got, "s"), NotifyCreate))
	requireInvariants(t, w)

	t.Run("rifle takes both hands", func(t *testing.T) {
		rifle, err := f.Create("object/weapon/ranged/rifle/rifle_e11")
		require.NoError(t, err)
		require.Equal(t, ResultOK, w.Place(rifle, player.ID, at(0, 0), ""))
		assert.Equal(t, []string{"left_hand", "right_hand"}, w.Slots(rifle.ID))
	})
	t.Run("stacks", func(t *testing.T) {
		s, err := f.CreateStack("object/tangible/medicine/crafted/medpack_damage_a", 5)
		require.NoError(t, err)
		assert.Equal(t, 5, s.Counter)
		_, err = f.CreateStack("object/tangible/medicine/crafted/medpack_damage_a", 500)
		assert.Error(t, err)
		_, err = f.CreateStack("object/weapon/ranged/rifle/rifle_e11", 1)
		assert.Error(t, err)
	})
	t.Run("unknown template", func(t *testing.T) {
		_, err := f.Create("object/nope")
		assert.Error(t, err)
	})
}

func TestFactory_BuildingCells(t *testing.T) {
	cats, err := catalogs.FromDefs(
		catalogs.TemplateDef{ID: "object/building/hut", Kind: "building", LoadRange: 256, Cells: 3},
		catalogs.TemplateDef{ID: cellTemplate, Kind: "cell"},
	)
	require.NoError(t, err)
	w, _ := newTestWorld(t)
	hut, err := NewFactory(cats, w.NextID).Create("object/building/hut")
	require.NoError(t, err)
	require.Equal(t, ResultOK, w.Place(hut, 0, at(100, 100), ""))

	cells := w.Contents(hut.ID)
	require.Len(t, cells, 3)
	c, _ := w.Get(cells[0])
	assert.Equal(t, KindCell, c.Kind)
	assert.Equal(t, "cell1", c.Name)
	assert.Equal(t, 4, w.Len())
	assert.InDelta(t, 256, w.Bubble(hut.ID), 1e-9)
}

func TestInvariants_DetectCorruption(t *testing.T) {
	w, _ := newTestWorld(t)
	place(t, w, newBag(1, 2), 0, at(0, 0), "")
	place(t, w, newItem(2, 0), 1, at(0, 0), "")
	place(t, w, newItem(3, 0), 0, at(1, 0), "")
	requireInvariants(t, w)

	w.mu.Lock()
	w.objects[3].aware.Add(3)
	w.objects[1].aware.Delete(3)
	w.objects[2].Volume = 10
	w.mu.Unlock()

	err := w.CheckInvariants()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "aware of itself")
	assert.Contains(t, msg, "not mirrored")
	assert.Contains(t, msg, "over capacity")
}

func TestContainerGate(t *testing.T) {
	g := ContainerGate{}
	alice := Requester{Session: "alice"}
	cases := []struct {
		name string
		perm PermissionType
		own  SessionID
		move bool
		view bool
	}{
		{"default unowned", PermDefault, "", true, true},
		{"default owned by me", PermDefault, "alice", true, true},
		{"default owned by other", PermDefault, "bob", false, true},
		{"inventory mine", PermInventory, "alice", true, true},
		{"inventory other", PermInventory, "bob", false, false},
		{"world", PermWorld, "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ObjectView{Permissions: tc.perm, Owner: tc.own}
			assert.Equal(t, tc.move, g.CanMove(alice, v))
			assert.Equal(t, tc.view, g.CanView(alice.Session, v))
			assert.True(t, g.CanMove(SystemRequester, v))
		})
	}
}

func TestResult(t *testing.T) {
	assert.NoError(t, ResultOK.Err())
	assert.ErrorIs(t, ResultContainerFull.Err(), ErrContainerFull)
	assert.ErrorIs(t, ResultOrphanedReference.Err(), ErrOrphanedReference)
	assert.Equal(t, "permission_denied", ResultPermissionDenied.String())
	assert.Equal(t, "unknown", Result(99).String())
}
