package types

import (
	"errors"
	"fmt"
)

var ErrInvalidCatalog = errors.New("types: invalid catalog")

// Catalog declares which channels a room synchronizes. Component and state
// values are stored in declaration order ("slots").
type Catalog struct {
	Components []ComponentID
	States     []StateID
}

func DefaultCatalog() Catalog {
	return Catalog{
		Components: []ComponentID{
			ComponentPosX,
			ComponentPosY,
			ComponentPosZ,
			ComponentRotY,
			ComponentRotW,
		},
		States: []StateID{StateAnimation, StateAppearance},
	}
}

// ComponentSlot returns the position of id in c.Components.
func (c Catalog) ComponentSlot(id ComponentID) (int, bool) {
	for i, cid := range c.Components {
		if cid == id {
			return i, true
		}
	}
	return -1, false
}

// StateSlot returns the position of id in c.States. The reserved bootstrap
// state never has a slot.
func (c Catalog) StateSlot(id StateID) (int, bool) {
	for i, sid := range c.States {
		if sid == id {
			return i, true
		}
	}
	return -1, false
}

func (c Catalog) Clone() Catalog {
	return Catalog{
		Components: append([]ComponentID(nil), c.Components...),
		States:     append([]StateID(nil), c.States...),
	}
}

// Validate rejects duplicate ids and any declaration of the reserved
// bootstrap state.
func (c Catalog) Validate() error {
	seenC := make(map[ComponentID]bool, len(c.Components))
	for _, id := range c.Components {
		if seenC[id] {
			return fmt.Errorf("%w: duplicate component %d", ErrInvalidCatalog, id)
		}
		seenC[id] = true
	}
	seenS := make(map[StateID]bool, len(c.States))
	for _, id := range c.States {
		if id == StateBootstrap {
			return fmt.Errorf("%w: state %d is reserved", ErrInvalidCatalog, id)
		}
		if seenS[id] {
			return fmt.Errorf("%w: duplicate state %d", ErrInvalidCatalog, id)
		}
		seenS[id] = true
	}
	return nil
}
