package protocol

import "zoneserver.ai/internal/sim/world"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	// Terrain picks the spawn partition; empty means the server default.
	Terrain string `json:"terrain,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AvatarID        uint64      `json:"avatar_id"`
	ZoneParams      ZoneParams  `json:"zone_params"`
	Catalogs        CatalogRefs `json:"catalogs"`
}

type ZoneParams struct {
	ZoneID          string  `json:"zone_id"`
	Terrain         string  `json:"terrain"`
	DiscoveryRadius float64 `json:"discovery_radius"`
	HalfExtent      float64 `json:"half_extent"`
}

type CatalogRefs struct {
	Templates    DigestRef `json:"templates"`
	TuningDigest string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// SCENE_CREATE (server -> client)
type SceneCreateMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Object          world.ObjectView `json:"object"`
}

// SCENE_DESTROY (server -> client)
type SceneDestroyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObjectID        uint64 `json:"object_id"`
}

// UPDATE_CONTAINMENT (server -> client); container_id 0 means the object is in the world.
type UpdateContainmentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObjectID        uint64 `json:"object_id"`
	ContainerID     uint64 `json:"container_id"`
	Arrangement     int    `json:"arrangement"`
}

// STACK_UPDATE (server -> client)
type StackUpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObjectID        uint64 `json:"object_id"`
	Counter         int    `json:"counter"`
}

// MOVE (client -> server): repositions the session's avatar, or the cell-relative position
// when the avatar is inside a building.
type MoveMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y,omitempty"`
	Z               float64 `json:"z"`
	Heading         float64 `json:"heading,omitempty"`
}

// TRANSFER (client -> server): container_id 0 drops the object into the world at location,
// or at the root position of the object when location is absent.
type TransferMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	ObjectID        uint64    `json:"object_id"`
	ContainerID     uint64    `json:"container_id"`
	Location        *Location `json:"location,omitempty"`
}

type Location struct {
	Terrain string  `json:"terrain,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y,omitempty"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading,omitempty"`
}

// RESULT (server -> client) answers MOVE and TRANSFER, and reports rejected frames.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

func NewResult(reqID string, res world.Result) ResultMsg {
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Accepted:        res == world.ResultOK,
		Code:            CodeForResult(res),
		Message:         messageForResult(res),
	}
}

func NewError(reqID, code, msg string) ResultMsg {
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Code:            code,
		Message:         msg,
	}
}

func messageForResult(res world.Result) string {
	if res == world.ResultOK {
		return ""
	}
	return res.String()
}
