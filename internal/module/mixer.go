package module

import "github.com/satindergrewal/mixlab/internal/audio"

// mixer sums its inputs into one output. Gain changes are ramped across a
// block so they do not click.
type mixer struct {
	params  MixerParams
	applied []float32 // effective gain per channel at the end of the last tick
	inputs  []Terminal
}

func newMixer(p MixerParams) *mixer {
	m := &mixer{}
	m.configure(p)
	return m
}

func (m *mixer) configure(p MixerParams) {
	p.Gains = append([]float32(nil), p.Gains...)
	if len(p.Gains) != len(m.inputs) {
		m.inputs = make([]Terminal, len(p.Gains))
		for i := range m.inputs {
			m.inputs[i] = LineMono.Unlabeled()
		}
		m.applied = make([]float32, len(p.Gains))
		for i, g := range p.Gains {
			m.applied[i] = g * p.Master
		}
	}
	m.params = p
}

func (m *mixer) Params() Params {
	return Mixer(m.params.Master, m.params.Gains...)
}

// Update applies new gains. A different channel count rebuilds the input
// terminals.
func (m *mixer) Update(p Params) (*Indication, error) {
	if err := checkKind(KindMixer, p); err != nil {
		return nil, err
	}
	m.configure(*p.Mixer)
	return nil, nil
}

func (m *mixer) RunTick(_ uint64, inputs [][]audio.Sample, outputs [][]audio.Sample) *Indication {
	out := outputs[0]
	audio.Fill(out, 0)

	n := len(out)
	for ch := range m.inputs {
		target := m.params.Gains[ch] * m.params.Master
		from := m.applied[ch]
		m.applied[ch] = target

		if ch >= len(inputs) || inputs[ch] == nil {
			continue
		}
		for i, s := range inputs[ch] {
			out[i] += s * audio.Ramp(from, target, i, n)
		}
	}
	return nil
}

func (m *mixer) Inputs() []Terminal { return m.inputs }

func (m *mixer) Outputs() []Terminal { return []Terminal{LineMono.Labeled("mix")} }

func (m *mixer) Close() error { return nil }
