// Package workspace holds the serializable snapshot of a module graph: every
// module's identity and params plus the connections between terminals.
package workspace

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/satindergrewal/mixlab/internal/module"
)

// ModuleID identifies a module within one workspace. IDs are never reused.
type ModuleID uint64

// OutputRef names an output terminal.
type OutputRef struct {
	Module   ModuleID `json:"module"`
	Terminal int      `json:"terminal"`
}

// InputRef names an input terminal.
type InputRef struct {
	Module   ModuleID `json:"module"`
	Terminal int      `json:"terminal"`
}

// Connection feeds one output terminal into one input terminal.
type Connection struct {
	From OutputRef `json:"from"`
	To   InputRef  `json:"to"`
}

// ModuleState is one module in the snapshot.
type ModuleState struct {
	ID     ModuleID      `json:"id"`
	Params module.Params `json:"params"`
}

// State is the full workspace snapshot.
type State struct {
	NextID      ModuleID      `json:"next_id"`
	Modules     []ModuleState `json:"modules"`
	Connections []Connection  `json:"connections"`
}

// Default returns the empty workspace used when nothing is persisted yet.
func Default() State {
	return State{
		NextID:      1,
		Modules:     []ModuleState{},
		Connections: []Connection{},
	}
}

// Normalize sorts modules by id and connections by destination so equal
// graphs always serialize identically.
func (s *State) Normalize() {
	if s.Modules == nil {
		s.Modules = []ModuleState{}
	}
	if s.Connections == nil {
		s.Connections = []Connection{}
	}
	sort.Slice(s.Modules, func(i, j int) bool {
		return s.Modules[i].ID < s.Modules[j].ID
	})
	sort.Slice(s.Connections, func(i, j int) bool {
		a, b := s.Connections[i].To, s.Connections[j].To
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Terminal < b.Terminal
	})
	if s.NextID == 0 {
		s.NextID = 1
	}
	for _, m := range s.Modules {
		if m.ID >= s.NextID {
			s.NextID = m.ID + 1
		}
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := State{
		NextID:      s.NextID,
		Modules:     make([]ModuleState, len(s.Modules)),
		Connections: append([]Connection{}, s.Connections...),
	}
	for i, m := range s.Modules {
		c.Modules[i] = ModuleState{ID: m.ID, Params: m.Params.Clone()}
	}
	return c
}

// Validate checks structural consistency: unique ids, known endpoints and
// at most one connection per input. Terminal ranges and cycles depend on
// live module instances and are checked by the engine.
func (s State) Validate() error {
	ids := make(map[ModuleID]struct{}, len(s.Modules))
	for _, m := range s.Modules {
		if m.ID == 0 {
			return fmt.Errorf("module id 0 is reserved")
		}
		if _, dup := ids[m.ID]; dup {
			return fmt.Errorf("duplicate module id %d", m.ID)
		}
		if m.ID >= s.NextID {
			return fmt.Errorf("module id %d not below next id %d", m.ID, s.NextID)
		}
		if err := m.Params.Validate(); err != nil {
			return fmt.Errorf("module %d: %w", m.ID, err)
		}
		ids[m.ID] = struct{}{}
	}

	inputs := make(map[InputRef]struct{}, len(s.Connections))
	for _, c := range s.Connections {
		if _, ok := ids[c.From.Module]; !ok {
			return fmt.Errorf("connection from unknown module %d", c.From.Module)
		}
		if _, ok := ids[c.To.Module]; !ok {
			return fmt.Errorf("connection to unknown module %d", c.To.Module)
		}
		if _, dup := inputs[c.To]; dup {
			return fmt.Errorf("input %d/%d connected twice", c.To.Module, c.To.Terminal)
		}
		inputs[c.To] = struct{}{}
	}
	return nil
}

// Marshal serializes the normalized state as JSON.
func Marshal(s State) ([]byte, error) {
	s = s.Clone()
	s.Normalize()
	return json.Marshal(s)
}

// Unmarshal parses and validates a serialized state.
func Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode workspace: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("invalid workspace: %w", err)
	}
	return s, nil
}
