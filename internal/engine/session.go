package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

// Session is one observer connected to the engine. It receives every event
// produced after its snapshot and may push edits.
type Session struct {
	h           *Handle
	events      chan Event
	since       uint64
	indications map[workspace.ModuleID]module.Indication

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
	resyncs   atomic.Uint64

	lagging bool // owned by the loop
}

// Connect registers a new session. The returned state is the graph at the
// moment of registration; the session's event channel carries exactly the
// changes made after it. Fails with ErrEngineUnavailable once the engine
// has stopped.
func (h *Handle) Connect(ctx context.Context) (workspace.State, *Session, error) {
	reply := make(chan connectReply, 1)
	if err := h.send(ctx, &connectCmd{reply: reply}); err != nil {
		return workspace.State{}, nil, err
	}

	// The loop always answers a command it has accepted.
	select {
	case r := <-reply:
		return r.state, r.session, nil
	case <-ctx.Done():
		go func() {
			r := <-reply
			r.session.Close()
		}()
		return workspace.State{}, nil, ctx.Err()
	}
}

type connectReply struct {
	state   workspace.State
	session *Session
}

type connectCmd struct {
	reply chan connectReply
}

func (c *connectCmd) run(l *loop) {
	s := &Session{
		h:           l.h,
		events:      make(chan Event, l.h.eventBuffer),
		since:       l.seq,
		indications: l.g.indications(),
	}
	l.sessions[s] = struct{}{}
	l.h.logger.Debug("session connected", slog.Int("sessions", len(l.sessions)))
	c.reply <- connectReply{state: l.g.state(), session: s}
}

type closeSessionCmd struct {
	s *Session
}

func (c *closeSessionCmd) run(l *loop) {
	if _, ok := l.sessions[c.s]; !ok {
		return
	}
	delete(l.sessions, c.s)
	close(c.s.events)
	l.h.logger.Debug("session closed", slog.Int("sessions", len(l.sessions)))
}

// Events returns the session's event stream. It is closed when the session
// is closed or the engine stops.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Since returns the sequence number the connect snapshot reflects. The
// first event delivered has Seq greater than this.
func (s *Session) Since() uint64 {
	return s.since
}

// Indications returns every module's indication at connect time.
func (s *Session) Indications() map[workspace.ModuleID]module.Indication {
	return s.indications
}

// Dropped returns how many times events were dropped because the session
// was not keeping up.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Resyncs returns how many resync events the session has received.
func (s *Session) Resyncs() uint64 {
	return s.resyncs.Load()
}

// Close unregisters the session. It is safe to call at any time and more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.h.send(context.Background(), &closeSessionCmd{s: s})
	})
}

// Apply performs an edit. Modules are created or rebuilt in the calling
// goroutine; only the finished instance is handed to the loop, which swaps
// it in between ticks.
//
// If ctx ends after the loop has taken the edit, Apply returns the loop's
// reply when it is already there and ctx.Err() otherwise. In the second
// case the edit may still be applied: watch the event stream to learn the
// outcome.
func (s *Session) Apply(ctx context.Context, e Edit) (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrSessionClosed
	}
	return s.h.apply(ctx, e)
}

// operation is an edit prepared for the loop.
type operation interface {
	apply(l *loop) editReply
	// abandon releases resources of an operation the loop never received.
	abandon()
}

type editReply struct {
	result   Result
	err      error
	released module.Module // closed by the caller, off the loop
}

type editCmd struct {
	op    operation
	reply chan editReply
}

func (c *editCmd) run(l *loop) {
	c.reply <- c.op.apply(l)
}

func (h *Handle) apply(ctx context.Context, e Edit) (Result, error) {
	op, err := h.prepare(ctx, e)
	if err != nil {
		return Result{}, err
	}

	res, err := h.run(ctx, op)
	if u, ok := e.(UpdateModule); ok && errors.Is(err, module.ErrRebuild) {
		if op, err = h.rebuild(ctx, u); err != nil {
			return Result{}, err
		}
		return h.run(ctx, op)
	}
	return res, err
}

// run hands op to the loop and waits for its reply.
func (h *Handle) run(ctx context.Context, op operation) (Result, error) {
	reply := make(chan editReply, 1)
	if err := h.send(ctx, &editCmd{op: op, reply: reply}); err != nil {
		op.abandon()
		return Result{}, err
	}

	select {
	case r := <-reply:
		h.release(r.released)
		return r.result, r.err
	case <-ctx.Done():
		select {
		case r := <-reply:
			h.release(r.released)
			return r.result, r.err
		default:
		}
		go func() {
			r := <-reply
			h.release(r.released)
		}()
		return Result{}, ctx.Err()
	}
}

func (h *Handle) release(m module.Module) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		h.logger.Warn("closing module failed", slog.String("err", err.Error()))
	}
}

func (h *Handle) prepare(ctx context.Context, e Edit) (operation, error) {
	switch e := e.(type) {
	case AddModule:
		mod, ind, err := module.Create(ctx, h.env, e.Params)
		if err != nil {
			return nil, err
		}
		return &addOp{h: h, mod: mod, ind: ind}, nil
	case UpdateModule:
		if err := e.Params.Validate(); err != nil {
			return nil, err
		}
		if !module.Rebuilds(e.Params.Kind) {
			return &updateOp{id: e.ID, params: e.Params.Clone()}, nil
		}
		return h.rebuild(ctx, e)
	case RemoveModule:
		return &removeOp{id: e.ID}, nil
	case Connect:
		return &connectOp{from: e.From, to: e.To}, nil
	case Disconnect:
		return &disconnectOp{to: e.To}, nil
	}
	return nil, fmt.Errorf("unsupported edit %T", e)
}

// rebuild creates the replacement module for e off the loop.
func (h *Handle) rebuild(ctx context.Context, e UpdateModule) (operation, error) {
	mod, ind, err := module.Create(ctx, h.env, e.Params)
	if err != nil {
		return nil, err
	}
	return &replaceOp{h: h, id: e.ID, mod: mod, ind: ind}, nil
}

type addOp struct {
	h   *Handle
	mod module.Module
	ind module.Indication
}

func (o *addOp) apply(l *loop) editReply {
	n := l.g.insert(o.mod, o.ind)
	ind := o.ind
	l.changed(paramsEvent(EventModuleCreated, n.id, o.mod.Params(), &ind))
	return editReply{result: Result{Module: n.id}}
}

func (o *addOp) abandon() { o.h.release(o.mod) }

type updateOp struct {
	id     workspace.ModuleID
	params module.Params
}

func (o *updateOp) apply(l *loop) editReply {
	n, ok := l.g.nodes[o.id]
	if !ok {
		return editReply{err: fmt.Errorf("%w: %d", ErrNoModule, o.id)}
	}
	ind, err := n.mod.Update(o.params)
	if err != nil {
		return editReply{err: err}
	}
	if ind != nil {
		n.indication = *ind
	}
	n.reshape()
	events := disconnectedEvents(l.g.prune(o.id))
	events = append(events, paramsEvent(EventModuleUpdated, o.id, n.mod.Params(), ind))
	l.changed(events...)
	return editReply{result: Result{Module: o.id}}
}

func (o *updateOp) abandon() {}

// replaceOp swaps in a module rebuilt off the loop.
type replaceOp struct {
	h   *Handle
	id  workspace.ModuleID
	mod module.Module
	ind module.Indication
}

func (o *replaceOp) apply(l *loop) editReply {
	n, ok := l.g.nodes[o.id]
	if !ok {
		return editReply{err: fmt.Errorf("%w: %d", ErrNoModule, o.id), released: o.mod}
	}
	if kind := n.mod.Params().Kind; kind != o.mod.Params().Kind {
		return editReply{err: fmt.Errorf("%w: have %s, got %s", module.ErrKindMismatch, kind, o.mod.Params().Kind), released: o.mod}
	}

	old := n.mod
	n.mod = o.mod
	n.indication = o.ind
	n.reshape()
	events := disconnectedEvents(l.g.prune(o.id))
	ind := o.ind
	events = append(events, paramsEvent(EventModuleUpdated, o.id, n.mod.Params(), &ind))
	l.changed(events...)
	return editReply{result: Result{Module: o.id}, released: old}
}

func (o *replaceOp) abandon() { o.h.release(o.mod) }

type removeOp struct {
	id workspace.ModuleID
}

func (o *removeOp) apply(l *loop) editReply {
	n, dropped, err := l.g.remove(o.id)
	if err != nil {
		return editReply{err: err}
	}
	events := disconnectedEvents(dropped)
	events = append(events, Event{Kind: EventModuleRemoved, Module: o.id})
	l.changed(events...)
	return editReply{result: Result{Module: o.id}, released: n.mod}
}

func (o *removeOp) abandon() {}

type connectOp struct {
	from workspace.OutputRef
	to   workspace.InputRef
}

func (o *connectOp) apply(l *loop) editReply {
	replaced, err := l.g.connect(o.from, o.to)
	if err != nil {
		return editReply{err: err}
	}
	var events []Event
	if replaced != nil {
		events = append(events, connectionEvent(EventDisconnected, *replaced))
	}
	events = append(events, connectionEvent(EventConnected, workspace.Connection{From: o.from, To: o.to}))
	l.changed(events...)
	return editReply{}
}

func (o *connectOp) abandon() {}

type disconnectOp struct {
	to workspace.InputRef
}

func (o *disconnectOp) apply(l *loop) editReply {
	c, err := l.g.disconnect(o.to)
	if err != nil {
		return editReply{err: err}
	}
	l.changed(connectionEvent(EventDisconnected, c))
	return editReply{}
}

func (o *disconnectOp) abandon() {}

func disconnectedEvents(conns []workspace.Connection) []Event {
	events := make([]Event, 0, len(conns)+1)
	for _, c := range conns {
		events = append(events, connectionEvent(EventDisconnected, c))
	}
	return events
}
