package engine

import "github.com/satindergrewal/mixlab/internal/workspace"

// Embryo seeds a new engine with a workspace state. The channel returned
// alongside it carries every state the engine produces after a successful
// edit, and is closed when the engine stops.
type Embryo struct {
	state   workspace.State
	persist chan workspace.State
}

// NewEmbryo creates an embryo for state.
//
// The persist channel holds one pending state. When the consumer falls
// behind, the pending state is replaced by the newer one, so the consumer
// always ends up with the latest state and the engine never waits on it.
func NewEmbryo(state workspace.State) (*Embryo, <-chan workspace.State) {
	s := state.Clone()
	s.Normalize()
	ch := make(chan workspace.State, 1)
	return &Embryo{state: s, persist: ch}, ch
}

// offerLatest stores s in ch, discarding a stale pending value if needed.
// The engine loop is the only sender, so this never spins.
func offerLatest(ch chan workspace.State, s workspace.State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
