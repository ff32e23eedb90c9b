package protocol

import "zoneserver.ai/internal/sim/world"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrNotJoined       = "E_NOT_JOINED"

	// World operations.
	ErrNoPermission    = "E_NO_PERMISSION"
	ErrContainerFull   = "E_CONTAINER_FULL"
	ErrInvalidLocation = "E_INVALID_LOCATION"
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrNotFound        = "E_NOT_FOUND"
	ErrOrphanedRef     = "E_ORPHANED_REFERENCE"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNotJoined:       {},
	ErrNoPermission:    {},
	ErrContainerFull:   {},
	ErrInvalidLocation: {},
	ErrInvalidTarget:   {},
	ErrNotFound:        {},
	ErrOrphanedRef:     {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeForResult maps a world operation outcome to its wire code ("" on success).
func CodeForResult(res world.Result) string {
	switch res {
	case world.ResultOK:
		return ""
	case world.ResultNotFound:
		return ErrNotFound
	case world.ResultInvalidLocation:
		return ErrInvalidLocation
	case world.ResultPermissionDenied:
		return ErrNoPermission
	case world.ResultContainerFull:
		return ErrContainerFull
	case world.ResultInvalidTarget:
		return ErrInvalidTarget
	case world.ResultOrphanedReference:
		return ErrOrphanedRef
	default:
		return ErrInternal
	}
}
