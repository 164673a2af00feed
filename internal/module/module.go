// Package module defines the per-tick execution contract shared by every
// processing unit in the graph, and the concrete module kinds.
//
// A module is created from Params, may be reconfigured with Update, and is
// driven once per tick with RunTick. RunTick is the hot path: it must fill
// every output block completely and must never block or load anything.
// Creation and reconfiguration may be slow (plugin loads, media decoding)
// and are expected to happen off the tick loop.
package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/plugin"
)

var (
	// ErrUnknownKind is returned for Params with an unrecognized kind.
	ErrUnknownKind = errors.New("unknown module kind")
	// ErrKindMismatch is returned by Update when the new params are for a
	// different kind than the module.
	ErrKindMismatch = errors.New("params kind does not match module")
	// ErrInvalidParams is returned for params that fail validation.
	ErrInvalidParams = errors.New("invalid module params")
	// ErrRebuild is returned by Update when the new params cannot be applied
	// in place. The module is unchanged; the caller builds a replacement
	// with Create.
	ErrRebuild = errors.New("update needs a rebuild")
)

// LineType is the signal type carried by a terminal.
type LineType string

const (
	LineMono LineType = "mono"
)

// Terminal is a typed input or output port.
type Terminal struct {
	Type  LineType `json:"type"`
	Label string   `json:"label,omitempty"`
}

// Unlabeled returns a terminal of type t without a label.
func (t LineType) Unlabeled() Terminal {
	return Terminal{Type: t}
}

// Labeled returns a terminal of type t with the given label.
func (t LineType) Labeled(label string) Terminal {
	return Terminal{Type: t, Label: label}
}

// Module is a processing unit driven by the engine.
type Module interface {
	// Params returns the current configuration.
	Params() Params
	// Update replaces the configuration and returns a new indication only if
	// the externally visible status changed.
	Update(p Params) (*Indication, error)
	// RunTick processes one tick. inputs has one entry per input terminal; a
	// nil entry means the terminal is unconnected. outputs has one block of
	// audio.BlockSize samples per output terminal, all of which must be
	// written. Returns a new indication only on change.
	RunTick(t uint64, inputs [][]audio.Sample, outputs [][]audio.Sample) *Indication
	Inputs() []Terminal
	Outputs() []Terminal
	// Close releases external resources held by the module.
	Close() error
}

// MonitorSink receives blocks from monitor modules. Push is called from the
// tick loop and must not block; blocks are owned by the sink afterwards.
type MonitorSink interface {
	Push(block []audio.Sample)
}

// Env carries the shared resources modules may need at creation time.
type Env struct {
	Host      *plugin.Host
	VstPath   string
	Monitor   MonitorSink
	MediaPath func(id string) (string, error)
	Decode    func(ctx context.Context, path string) ([]audio.Sample, error)
}

// Create builds a new module instance from params and returns its initial
// indication. It may block.
func Create(ctx context.Context, env Env, p Params) (Module, Indication, error) {
	if err := p.Validate(); err != nil {
		return nil, Indication{}, err
	}

	switch p.Kind {
	case KindGate:
		return newGate(*p.Gate), Indication{Kind: KindGate}, nil
	case KindVst:
		v, err := loadVst(env)
		if err != nil {
			return nil, Indication{}, err
		}
		return v, v.indication(), nil
	case KindMixer:
		return newMixer(*p.Mixer), Indication{Kind: KindMixer}, nil
	case KindMonitor:
		m := newMonitor(env.Monitor)
		return m, m.indication(), nil
	case KindPlayer:
		pl, err := loadPlayer(ctx, env, *p.Player)
		if err != nil {
			return nil, Indication{}, err
		}
		return pl, pl.indication(), nil
	}
	return nil, Indication{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
}

// Rebuilds reports whether every update to modules of this kind
// reconstructs the instance from scratch. Their terminals depend on external
// resources, so the engine creates the replacement off the tick loop and
// swaps it in. Other kinds update in place and may still ask for a rebuild
// with ErrRebuild.
func Rebuilds(kind Kind) bool {
	return kind == KindVst
}

func checkKind(want Kind, p Params) error {
	if p.Kind != want {
		return fmt.Errorf("%w: have %s, got %s", ErrKindMismatch, want, p.Kind)
	}
	return p.Validate()
}

func monoTerminals(n int) []Terminal {
	terms := make([]Terminal, n)
	for i := range terms {
		terms[i] = LineMono.Unlabeled()
	}
	return terms
}
