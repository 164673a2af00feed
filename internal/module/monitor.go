package module

import "github.com/satindergrewal/mixlab/internal/audio"

// monitor taps its input for listeners and reports the peak level.
type monitor struct {
	sink MonitorSink
	peak int // hundredths
}

func newMonitor(sink MonitorSink) *monitor {
	return &monitor{sink: sink}
}

func (m *monitor) indication() Indication {
	return Indication{Kind: KindMonitor, Monitor: &MonitorIndication{Peak: float32(m.peak) / 100}}
}

func (m *monitor) Params() Params { return Monitor() }

func (m *monitor) Update(p Params) (*Indication, error) {
	return nil, checkKind(KindMonitor, p)
}

// RunTick hands a copy of the input to the sink. The indication changes
// only when the peak moves by at least 0.01.
func (m *monitor) RunTick(_ uint64, inputs [][]audio.Sample, _ [][]audio.Sample) *Indication {
	block := audio.NewBlock()
	if len(inputs) > 0 && inputs[0] != nil {
		copy(block, inputs[0])
	}

	if m.sink != nil {
		m.sink.Push(block)
	}

	peak := int(audio.Peak(block)*100 + 0.5)
	if peak == m.peak {
		return nil
	}
	m.peak = peak
	ind := m.indication()
	return &ind
}

func (m *monitor) Inputs() []Terminal { return []Terminal{LineMono.Unlabeled()} }

func (m *monitor) Outputs() []Terminal { return nil }

func (m *monitor) Close() error { return nil }
