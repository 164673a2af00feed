package engine

import (
	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/module"
)

// monitorMix sums the blocks every monitor module pushes during one tick
// and forwards a single block per tick to the real sink. Listeners expect
// one block per tick however many monitors the graph has.
//
// Push is only called from module RunTick, so the mix is owned by the loop
// goroutine and needs no lock.
type monitorMix struct {
	sink module.MonitorSink
	sum  []audio.Sample
	taps int
}

func newMonitorMix(sink module.MonitorSink) *monitorMix {
	return &monitorMix{sink: sink}
}

func (m *monitorMix) Push(block []audio.Sample) {
	if m.taps == 0 {
		m.sum = audio.NewBlock()
	}
	m.taps++
	for i := range m.sum {
		if i < len(block) {
			m.sum[i] += block[i]
		}
	}
}

// flush hands the tick's mix to the sink. Ticks without a monitor push
// nothing.
func (m *monitorMix) flush() {
	if m.taps == 0 {
		return
	}
	block := m.sum
	m.sum = nil
	m.taps = 0
	m.sink.Push(block)
}
