package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/protocol"
	"zoneserver.ai/internal/sim/world"
)

func TestValidate_InboundSamples(t *testing.T) {
	cases := []struct {
		name  string
		typ   string
		raw   string
		valid bool
	}{
		{"hello", protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","name":"bot1"}`, true},
		{"hello with terrain", protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","name":"bot1","terrain":"naboo"}`, true},
		{"hello without name", protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0"}`, false},
		{"hello extra field", protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","name":"a","token":"x"}`, false},
		{"move", protocol.TypeMove, `{"type":"MOVE","protocol_version":"1.0","req_id":"m1","x":1.5,"z":-20}`, true},
		{"move string coord", protocol.TypeMove, `{"type":"MOVE","protocol_version":"1.0","req_id":"m1","x":"1","z":0}`, false},
		{"transfer", protocol.TypeTransfer, `{"type":"TRANSFER","protocol_version":"1.0","req_id":"t1","object_id":7,"container_id":3}`, true},
		{"drop", protocol.TypeTransfer, `{"type":"TRANSFER","protocol_version":"1.0","req_id":"t1","object_id":7,"container_id":0,"location":{"x":1,"z":2}}`, true},
		{"transfer zero object", protocol.TypeTransfer, `{"type":"TRANSFER","protocol_version":"1.0","req_id":"t1","object_id":0,"container_id":3}`, false},
		{"transfer fractional id", protocol.TypeTransfer, `{"type":"TRANSFER","protocol_version":"1.0","req_id":"t1","object_id":1.5,"container_id":3}`, false},
		{"type mismatch", protocol.TypeMove, `{"type":"HELLO","protocol_version":"1.0","req_id":"m1","x":1,"z":2}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := protocol.Validate(tc.typ, []byte(tc.raw))
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_OutboundMessages(t *testing.T) {
	v := world.ObjectView{
		ID:          12,
		Template:    "object/tangible/wearables/hat/hat_s01",
		Kind:        world.KindTangible,
		Loc:         world.Location{Terrain: "tatooine", X: 1, Z: 2},
		Parent:      4,
		Arrangement: 0,
		Volume:      1,
		Permissions: world.PermDefault,
	}
	b, err := json.Marshal(protocol.SceneCreateMsg{Type: protocol.TypeSceneCreate, ProtocolVersion: protocol.Version, Object: v})
	require.NoError(t, err)
	assert.NoError(t, protocol.Validate(protocol.TypeSceneCreate, b))

	b, err = json.Marshal(protocol.NewResult("t1", world.ResultPermissionDenied))
	require.NoError(t, err)
	assert.NoError(t, protocol.Validate(protocol.TypeResult, b))
}

func TestValidate_UnknownType(t *testing.T) {
	err := protocol.Validate("PING", []byte(`{}`))
	assert.True(t, errors.Is(err, protocol.ErrUnknownType))
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"MOVE","protocol_version":"1.0","x":1}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMove, m.Type)
	assert.Equal(t, "1.0", m.ProtocolVersion)
}
