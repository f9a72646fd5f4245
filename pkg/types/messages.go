// Package types holds the identifiers shared by the sync server and its
// clients: entity indices and the ids of the channels tracked per index.
package types

// Index identifies one synchronized entity in a room. Indices are small,
// dense and recycled by the server.
type Index uint32

// ComponentID names a numeric channel compressed with delta-of-delta.
type ComponentID uint32

// StateID names an opaque byte blob channel sent verbatim when it changes.
type StateID uint32

// Well-known components fed by the fixed transform frame. Positions are
// fixed-point (PositionScale units per world unit), rotations carry the raw
// int16 quantized quaternion component.
const (
	ComponentPosX ComponentID = iota
	ComponentPosY
	ComponentPosZ
	ComponentRotY
	ComponentRotW
)

// StateBootstrap is reserved: its blob carries the absolute component values
// of an index the first time that index appears in a tick.
const StateBootstrap StateID = 0

const (
	StateAnimation  StateID = 1 // transform frame state enum, one byte
	StateAppearance StateID = 2 // avatar part composition, opaque
)

// PositionScale converts float positions to the int64 component domain.
const PositionScale = 1000

// ComponentValue is one absolute observation of a component.
type ComponentValue struct {
	ID    ComponentID
	Value int64
}
