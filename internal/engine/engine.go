package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/stream"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

const (
	defaultEventBuffer = 256
	perfBuffer         = 64
	perfListenerBuffer = 100 // one second of ticks
)

// Options configures a new engine.
type Options struct {
	Env    module.Env
	Logger *slog.Logger
	// Ticks drives the loop. Nil uses a ticker at audio.TickDuration.
	Ticks <-chan time.Time
	// EventBuffer is the per-session event buffer. Zero uses a default.
	EventBuffer int
}

// Handle is the external view of a running engine.
type Handle struct {
	cmds        chan command
	done        chan struct{}
	cancel      context.CancelFunc
	env         module.Env
	monitor     *monitorMix
	logger      *slog.Logger
	perf        *stream.Broadcaster[*PerformanceInfo]
	eventBuffer int
	ticks       atomic.Uint64
}

// loop is the state owned by the engine goroutine.
type loop struct {
	h        *Handle
	g        *graph
	persist  chan workspace.State
	perf     chan *PerformanceInfo
	sessions map[*Session]struct{}
	seq      uint64
	tick     uint64
}

type command interface {
	run(l *loop)
}

// Start instantiates the embryo's modules and starts the tick loop. Module
// creation happens here, before the loop runs, so a failing plugin load is
// returned to the caller. The engine stops when ctx is cancelled or Stop is
// called; the embryo's persist channel is closed afterwards.
func Start(ctx context.Context, embryo *Embryo, opts Options) (*Handle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := opts.Env
	var mix *monitorMix
	if env.Monitor != nil {
		mix = newMonitorMix(env.Monitor)
		env.Monitor = mix
	}

	g, err := buildGraph(ctx, env, embryo.state, logger)
	if err != nil {
		return nil, err
	}

	eventBuffer := opts.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cmds:        make(chan command),
		done:        make(chan struct{}),
		cancel:      cancel,
		env:         env,
		monitor:     mix,
		logger:      logger,
		perf:        stream.NewBroadcaster[*PerformanceInfo](perfListenerBuffer),
		eventBuffer: eventBuffer,
	}
	l := &loop{
		h:        h,
		g:        g,
		persist:  embryo.persist,
		perf:     make(chan *PerformanceInfo, perfBuffer),
		sessions: make(map[*Session]struct{}),
	}

	ticks := opts.Ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(audio.TickDuration)
		ticks = ticker.C
	}

	go h.perf.Run(context.Background(), l.perf)
	go func() {
		if ticker != nil {
			defer ticker.Stop()
		}
		l.run(ctx, ticks)
	}()

	logger.Info("engine started",
		slog.Int("modules", len(g.nodes)),
		slog.Int("connections", len(g.conns)),
		slog.Duration("tick", audio.TickDuration))
	return h, nil
}

// Done is closed once the loop has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop stops the loop and waits for it to finish.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Ticks returns the number of ticks run so far.
func (h *Handle) Ticks() uint64 {
	return h.ticks.Load()
}

// PerformanceInfo subscribes to per-tick timing records. Records are
// dropped for subscribers that fall behind. Release the listener with
// ClosePerformanceInfo.
func (h *Handle) PerformanceInfo() *stream.Listener[*PerformanceInfo] {
	return h.perf.Subscribe()
}

// ClosePerformanceInfo releases a listener returned by PerformanceInfo.
func (h *Handle) ClosePerformanceInfo(l *stream.Listener[*PerformanceInfo]) {
	h.perf.Unsubscribe(l)
}

// send hands cmd to the loop.
func (h *Handle) send(ctx context.Context, cmd command) error {
	select {
	case h.cmds <- cmd:
		return nil
	case <-h.done:
		return ErrEngineUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loop) run(ctx context.Context, ticks <-chan time.Time) {
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.h.cmds:
			cmd.run(l)
		case at, ok := <-ticks:
			if !ok {
				return
			}
			l.runTick(at)
		}
	}
}

func (l *loop) shutdown() {
	for s := range l.sessions {
		delete(l.sessions, s)
		close(s.events)
	}
	l.g.close()
	close(l.persist)
	close(l.perf)
	close(l.h.done)
	l.h.logger.Info("engine stopped", slog.Uint64("ticks", l.tick))
}

func (l *loop) runTick(scheduled time.Time) {
	start := time.Now()
	events, timings := l.g.tick(l.tick)
	if l.h.monitor != nil {
		l.h.monitor.flush()
	}
	l.publish(events...)
	l.resyncLagging()

	info := &PerformanceInfo{
		Tick:     l.tick,
		Start:    start,
		Duration: time.Since(start),
		Budget:   audio.TickDuration,
		Lag:      start.Sub(scheduled),
		Modules:  timings,
	}
	select {
	case l.perf <- info:
	default:
	}

	l.tick++
	l.h.ticks.Store(l.tick)
}

// tick runs every module once, in topological order, so every input sees
// the output its source produced during this same tick.
func (g *graph) tick(t uint64) ([]Event, []ModuleTiming) {
	var events []Event
	timings := make([]ModuleTiming, 0, len(g.order))

	for _, n := range g.order {
		for i, src := range n.srcs {
			if src.node != nil {
				n.inBufs[i] = src.node.outBufs[src.terminal]
			} else {
				n.inBufs[i] = nil
			}
		}

		t0 := time.Now()
		ind := n.mod.RunTick(t, n.inBufs, n.outBufs)
		timings = append(timings, ModuleTiming{Module: n.id, Duration: time.Since(t0)})

		if ind != nil {
			n.indication = *ind
			events = append(events, Event{Kind: EventIndication, Module: n.id, Indication: ind})
		}
	}
	return events, timings
}

// publish stamps events and offers them to every session without blocking.
// A session whose buffer is full is marked lagging; it receives a resync
// instead of the events it missed.
func (l *loop) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	for i := range events {
		l.seq++
		events[i].Seq = l.seq
	}

	for s := range l.sessions {
		if s.lagging {
			continue
		}
		for _, ev := range events {
			select {
			case s.events <- ev:
			default:
				s.lagging = true
			}
			if s.lagging {
				s.dropped.Add(1)
				break
			}
		}
	}
}

// resyncLagging offers a resync event to every lagging session.
func (l *loop) resyncLagging() {
	var resync *Event
	for s := range l.sessions {
		if !s.lagging {
			continue
		}
		if resync == nil {
			state := l.g.state()
			resync = &Event{
				Seq:         l.seq,
				Kind:        EventResync,
				State:       &state,
				Indications: l.g.indications(),
			}
		}
		select {
		case s.events <- *resync:
			s.lagging = false
			s.resyncs.Add(1)
		default:
		}
	}
}

// changed publishes events for a successful edit and forwards the new state
// to persistence.
func (l *loop) changed(events ...Event) {
	l.publish(events...)
	l.resyncLagging()
	offerLatest(l.persist, l.g.state())
}
