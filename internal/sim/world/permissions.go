package world

// PermissionGate decides who may move or see what. CanView is consulted while the world
// derives observers, so it must be a pure function of its arguments and must not call
// back into the World.
type PermissionGate interface {
	CanMove(requester Requester, target ObjectView) bool
	CanView(viewer SessionID, target ObjectView) bool
}

// ContainerGate applies the per-container permission types:
//
//   - default: anyone may look; an object owned by a session may only be moved by it
//   - inventory: only the owning session may look inside or move it
//   - world: visible to all, movable only by the server
type ContainerGate struct{}

func (ContainerGate) CanMove(r Requester, t ObjectView) bool {
	if r.IsSystem() {
		return true
	}
	switch t.Permissions {
	case PermWorld:
		return false
	case PermInventory:
		return t.Owner == r.Session
	default:
		return t.Owner == "" || t.Owner == r.Session
	}
}

func (ContainerGate) CanView(viewer SessionID, t ObjectView) bool {
	if t.Permissions == PermInventory {
		return t.Owner == viewer
	}
	return true
}

// AllowAll is a gate without restrictions. Tests and offline tools use it.
type AllowAll struct{}

func (AllowAll) CanMove(Requester, ObjectView) bool { return true }
func (AllowAll) CanView(SessionID, ObjectView) bool { return true }
