package world

import "errors"

// Result is the typed outcome of a world operation.
type Result int

const (
	ResultOK Result = iota
	ResultNotFound
	ResultInvalidLocation
	ResultPermissionDenied
	ResultContainerFull
	ResultInvalidTarget
	ResultOrphanedReference

	resultCount
)

var (
	ErrNotFound          = errors.New("object not found")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrContainerFull     = errors.New("container full")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrOrphanedReference = errors.New("orphaned reference")
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not_found"
	case ResultInvalidLocation:
		return "invalid_location"
	case ResultPermissionDenied:
		return "permission_denied"
	case ResultContainerFull:
		return "container_full"
	case ResultInvalidTarget:
		return "invalid_target"
	case ResultOrphanedReference:
		return "orphaned_reference"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for r, or nil for ResultOK.
func (r Result) Err() error {
	switch r {
	case ResultOK:
		return nil
	case ResultNotFound:
		return ErrNotFound
	case ResultInvalidLocation:
		return ErrInvalidLocation
	case ResultPermissionDenied:
		return ErrPermissionDenied
	case ResultContainerFull:
		return ErrContainerFull
	case ResultInvalidTarget:
		return ErrInvalidTarget
	case ResultOrphanedReference:
		return ErrOrphanedReference
	default:
		return errors.New(r.String())
	}
}
