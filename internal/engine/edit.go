package engine

import (
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

// Edit is a graph reconfiguration requested through a session.
type Edit interface {
	isEdit()
}

// AddModule creates a new module.
type AddModule struct {
	Params module.Params
}

// UpdateModule replaces the params of an existing module.
type UpdateModule struct {
	ID     workspace.ModuleID
	Params module.Params
}

// RemoveModule deletes a module and all of its connections.
type RemoveModule struct {
	ID workspace.ModuleID
}

// Connect feeds an output terminal into an input terminal, replacing any
// existing connection to that input.
type Connect struct {
	From workspace.OutputRef
	To   workspace.InputRef
}

// Disconnect removes the connection feeding an input terminal.
type Disconnect struct {
	To workspace.InputRef
}

func (AddModule) isEdit()    {}
func (UpdateModule) isEdit() {}
func (RemoveModule) isEdit() {}
func (Connect) isEdit()      {}
func (Disconnect) isEdit()   {}

// Result reports the outcome of a successful edit.
type Result struct {
	// Module is the module the edit created or touched, zero for
	// connection edits.
	Module workspace.ModuleID
}
