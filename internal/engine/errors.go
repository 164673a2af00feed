package engine

import "errors"

var (
	// ErrEngineUnavailable is returned once the tick loop has stopped.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrSessionClosed is returned by Apply on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrCycle is returned for a connection that would make the graph cyclic.
	ErrCycle = errors.New("connection would create a cycle")
	// ErrNoModule is returned for edits naming a module that does not exist.
	ErrNoModule = errors.New("no such module")
	// ErrNoTerminal is returned for a terminal index out of range.
	ErrNoTerminal = errors.New("no such terminal")
	// ErrLineType is returned when connecting terminals of different types.
	ErrLineType = errors.New("terminal line types differ")
	// ErrNotConnected is returned when disconnecting an unconnected input.
	ErrNotConnected = errors.New("input not connected")
)
