package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/entity-sync/internal/engine"
	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

func TestToSessionMsg_Transform(t *testing.T) {
	frame := transform.Frame{ID: 4, Position: transform.Vec3{X: 1}, State: 2}
	enc := transform.Encode(frame)
	msg, err := toSessionMsg(4, "c", envelope.Pack(envelope.KindTransform, enc[:]))
	require.NoError(t, err)

	fc, ok := msg.(session.FromClient)
	require.True(t, ok)
	assert.Equal(t, "c", fc.ClientID)
	assert.Equal(t, engine.CmdTransform, fc.Cmd.Type)
	assert.Equal(t, types.Index(4), fc.Cmd.Index)
	assert.Equal(t, frame, fc.Cmd.Frame)
}

func TestToSessionMsg_StateAndComponents(t *testing.T) {
	msg, err := toSessionMsg(1, "c", envelope.Pack(envelope.KindSetState,
		envelope.MarshalSetState(envelope.SetState{ID: types.StateAppearance, Data: []byte("red")})))
	require.NoError(t, err)
	cmd := msg.(session.FromClient).Cmd
	assert.Equal(t, engine.CmdSetState, cmd.Type)
	assert.Equal(t, types.StateAppearance, cmd.StateID)
	assert.Equal(t, []byte("red"), cmd.Data)

	values := []types.ComponentValue{{ID: types.ComponentPosY, Value: -12}}
	msg, err = toSessionMsg(1, "c", envelope.Pack(envelope.KindSetComponents, envelope.MarshalSetComponents(values)))
	require.NoError(t, err)
	cmd = msg.(session.FromClient).Cmd
	assert.Equal(t, engine.CmdSetComponents, cmd.Type)
	assert.Equal(t, values, cmd.Values)
}

func TestToSessionMsg_Resync(t *testing.T) {
	msg, err := toSessionMsg(9, "c", envelope.Pack(envelope.KindResync, nil))
	require.NoError(t, err)
	assert.Equal(t, session.Resync{Index: 9, ClientID: "c"}, msg)
}

func TestToSessionMsg_Malformed(t *testing.T) {
	enc := transform.Encode(transform.Frame{ID: 1})

	_, err := toSessionMsg(1, "c", envelope.Pack(envelope.KindTransform, enc[:10]))
	assert.ErrorIs(t, err, wire.ErrTruncatedBuffer)

	_, err = toSessionMsg(1, "c", []byte{byte(envelope.KindTransform)})
	assert.ErrorIs(t, err, envelope.ErrShortEnvelope)

	_, err = toSessionMsg(1, "c", envelope.Pack(envelope.KindTick, nil))
	assert.ErrorIs(t, err, ErrUnexpectedKind)
}

func TestRandID(t *testing.T) {
	id := randID(8)
	assert.Len(t, id, 8)
}
