// Package engine holds the authoritative per-index table and applies client
// commands to it. Apply is the only way client input reaches the table.
package engine

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var (
	ErrIndexNotLive       = errors.New("index not live")
	ErrIndexMismatch      = errors.New("frame id does not match sender index")
	ErrUnknownComponent   = errors.New("unknown component")
	ErrUnknownState       = errors.New("unknown state")
	ErrReservedState      = errors.New("reserved state")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

type CommandType string

const (
	CmdTransform     CommandType = "Transform"
	CmdSetComponents CommandType = "SetComponents"
	CmdSetState      CommandType = "SetState"
)

/*
	CmdTransform     -> EvtComponentsObserved (+ EvtStateChanged for the animation byte)
	CmdSetComponents -> EvtComponentsObserved
	CmdSetState      -> EvtStateChanged, nothing when the blob is byte-identical
*/

type Command struct {
	Type    CommandType
	Index   types.Index
	Frame   transform.Frame
	Values  []types.ComponentValue
	StateID types.StateID
	Data    []byte
}

type EventType string

const (
	EvtComponentsObserved EventType = "ComponentsObserved"
	EvtStateChanged       EventType = "StateChanged"
)

type Event struct {
	Type    EventType
	Index   types.Index
	StateID types.StateID
}

func Apply(t *Table, cmd Command) ([]Event, error) {
	e, ok := t.Get(cmd.Index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrIndexNotLive, cmd.Index)
	}
	cat := t.Catalog()

	switch cmd.Type {
	case CmdTransform:
		if uint32(cmd.Frame.ID) != uint32(cmd.Index) {
			return nil, fmt.Errorf("%w: frame %d, sender %d", ErrIndexMismatch, cmd.Frame.ID, cmd.Index)
		}
		// Transform components the room does not declare are dropped.
		for _, cv := range cmd.Frame.Components() {
			if slot, ok := cat.ComponentSlot(cv.ID); ok {
				e.Observed[slot] = cv.Value
			}
		}
		events := []Event{{Type: EvtComponentsObserved, Index: cmd.Index}}
		if slot, ok := cat.StateSlot(types.StateAnimation); ok {
			if e.setState(slot, []byte{cmd.Frame.State}) {
				events = append(events, Event{Type: EvtStateChanged, Index: cmd.Index, StateID: types.StateAnimation})
			}
		}
		return events, nil

	case CmdSetComponents:
		slots := make([]int, len(cmd.Values))
		for i, cv := range cmd.Values {
			slot, ok := cat.ComponentSlot(cv.ID)
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownComponent, cv.ID)
			}
			slots[i] = slot
		}
		for i, cv := range cmd.Values {
			e.Observed[slots[i]] = cv.Value
		}
		return []Event{{Type: EvtComponentsObserved, Index: cmd.Index}}, nil

	case CmdSetState:
		if cmd.StateID == types.StateBootstrap {
			return nil, fmt.Errorf("%w: %d", ErrReservedState, cmd.StateID)
		}
		slot, ok := cat.StateSlot(cmd.StateID)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownState, cmd.StateID)
		}
		if !e.setState(slot, cmd.Data) {
			return nil, nil
		}
		return []Event{{Type: EvtStateChanged, Index: cmd.Index, StateID: cmd.StateID}}, nil

	default:
		return nil, ErrUnsupportedCommand
	}
}
