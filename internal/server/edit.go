package server

import (
	"fmt"

	"github.com/satindergrewal/mixlab/internal/engine"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

// editRequest is the wire form of an engine edit.
type editRequest struct {
	Op     string               `json:"op"`
	Module workspace.ModuleID   `json:"module,omitempty"`
	Params *module.Params       `json:"params,omitempty"`
	From   *workspace.OutputRef `json:"from,omitempty"`
	To     *workspace.InputRef  `json:"to,omitempty"`
}

func (r editRequest) edit() (engine.Edit, error) {
	switch r.Op {
	case "add_module":
		if r.Params == nil {
			return nil, fmt.Errorf("add_module needs params")
		}
		return engine.AddModule{Params: *r.Params}, nil
	case "update_module":
		if r.Params == nil || r.Module == 0 {
			return nil, fmt.Errorf("update_module needs module and params")
		}
		return engine.UpdateModule{ID: r.Module, Params: *r.Params}, nil
	case "remove_module":
		if r.Module == 0 {
			return nil, fmt.Errorf("remove_module needs module")
		}
		return engine.RemoveModule{ID: r.Module}, nil
	case "connect":
		if r.From == nil || r.To == nil {
			return nil, fmt.Errorf("connect needs from and to")
		}
		return engine.Connect{From: *r.From, To: *r.To}, nil
	case "disconnect":
		if r.To == nil {
			return nil, fmt.Errorf("disconnect needs to")
		}
		return engine.Disconnect{To: *r.To}, nil
	}
	return nil, fmt.Errorf("unknown op %q", r.Op)
}
