package module

import "github.com/satindergrewal/mixlab/internal/audio"

// gate is a pure generator: no inputs, one output held at 1.0 when open
// and 0.0 when closed.
type gate struct {
	params GateParams
}

func newGate(p GateParams) *gate {
	return &gate{params: p}
}

func (g *gate) Params() Params {
	return Gate(g.params.State)
}

func (g *gate) Update(p Params) (*Indication, error) {
	if err := checkKind(KindGate, p); err != nil {
		return nil, err
	}
	g.params = *p.Gate
	return nil, nil
}

func (g *gate) RunTick(_ uint64, _ [][]audio.Sample, outputs [][]audio.Sample) *Indication {
	var value audio.Sample
	if g.params.State == GateOpen {
		value = 1.0
	}
	audio.Fill(outputs[0], value)
	return nil
}

func (g *gate) Inputs() []Terminal { return nil }

func (g *gate) Outputs() []Terminal { return []Terminal{LineMono.Unlabeled()} }

func (g *gate) Close() error { return nil }
