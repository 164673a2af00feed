package stream

import (
	"context"

	"github.com/satindergrewal/mixlab/internal/audio"
)

const (
	monitorQueue   = 32
	listenerBuffer = 300 // ~3 seconds of 10ms blocks
)

// MonitorBus carries blocks tapped by monitor modules to network
// listeners. It satisfies module.MonitorSink.
type MonitorBus struct {
	blocks chan []audio.Sample
	b      *Broadcaster[[]audio.Sample]
}

// NewMonitorBus creates an idle bus. Call Run to start delivery.
func NewMonitorBus() *MonitorBus {
	return &MonitorBus{
		blocks: make(chan []audio.Sample, monitorQueue),
		b:      NewBroadcaster[[]audio.Sample](listenerBuffer),
	}
}

// Push queues a block without blocking. Blocks are dropped when the bus is
// not keeping up; the tick loop is never held back by listeners.
func (m *MonitorBus) Push(block []audio.Sample) {
	select {
	case m.blocks <- block:
	default:
	}
}

// Run fans pushed blocks out to listeners until ctx is cancelled.
func (m *MonitorBus) Run(ctx context.Context) {
	m.b.Run(ctx, m.blocks)
}

// Subscribe registers a listener for monitor blocks.
func (m *MonitorBus) Subscribe() *Listener[[]audio.Sample] {
	return m.b.Subscribe()
}

// Unsubscribe releases a listener.
func (m *MonitorBus) Unsubscribe(l *Listener[[]audio.Sample]) {
	m.b.Unsubscribe(l)
}

// ListenerCount returns the number of active listeners.
func (m *MonitorBus) ListenerCount() int {
	return m.b.ListenerCount()
}
