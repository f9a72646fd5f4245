package envelope

import (
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/tick"
	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

// SetState is a client replacing one of its own state blobs.
type SetState struct {
	ID   types.StateID
	Data []byte
}

func MarshalSetState(m SetState) []byte {
	w := wire.NewWriter(len(m.Data) + 8)
	w.WriteVarint(uint64(m.ID))
	w.WriteBytes(m.Data)
	return w.Bytes()
}

func UnmarshalSetState(b []byte) (SetState, error) {
	r := wire.NewReader(b)
	id, err := r.ReadVarint()
	if err != nil {
		return SetState{}, fmt.Errorf("set state: %w", err)
	}
	data, err := r.ReadBytes()
	if err != nil {
		return SetState{}, fmt.Errorf("set state: %w", err)
	}
	if r.Remaining() != 0 {
		return SetState{}, fmt.Errorf("set state: %d trailing bytes", r.Remaining())
	}
	return SetState{ID: types.StateID(id), Data: data}, nil
}

// MarshalSetComponents encodes absolute component observations. The layout
// is the one the bootstrap state uses.
func MarshalSetComponents(values []types.ComponentValue) []byte {
	return tick.EncodeBootstrap(values)
}

func UnmarshalSetComponents(b []byte) ([]types.ComponentValue, error) {
	values, err := tick.DecodeBootstrap(b)
	if err != nil {
		return nil, fmt.Errorf("set components: %w", err)
	}
	return values, nil
}
