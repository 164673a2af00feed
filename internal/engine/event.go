package engine

import (
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

// EventKind names a state change.
type EventKind string

const (
	EventModuleCreated EventKind = "module_created"
	EventModuleUpdated EventKind = "module_updated"
	EventModuleRemoved EventKind = "module_removed"
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventIndication    EventKind = "indication"
	// EventResync replaces events a lagging session missed. It carries the
	// full state as of its Seq, which equals the Seq of the last event it
	// covers. The next delivered event follows it directly.
	EventResync EventKind = "resync"
)

// Event is one change delivered to sessions. Events are immutable once
// sent; Seq increases by one per event produced by the engine.
type Event struct {
	Seq         uint64                                   `json:"seq"`
	Kind        EventKind                                `json:"kind"`
	Module      workspace.ModuleID                       `json:"module,omitempty"`
	Params      *module.Params                           `json:"params,omitempty"`
	Indication  *module.Indication                       `json:"indication,omitempty"`
	Connection  *workspace.Connection                    `json:"connection,omitempty"`
	State       *workspace.State                         `json:"state,omitempty"`
	Indications map[workspace.ModuleID]module.Indication `json:"indications,omitempty"`
}

func paramsEvent(kind EventKind, id workspace.ModuleID, p module.Params, ind *module.Indication) Event {
	c := p.Clone()
	return Event{Kind: kind, Module: id, Params: &c, Indication: ind}
}

func connectionEvent(kind EventKind, c workspace.Connection) Event {
	return Event{Kind: kind, Connection: &c}
}
