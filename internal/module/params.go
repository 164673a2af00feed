package module

import "fmt"

// Kind names a module type.
type Kind string

const (
	KindGate    Kind = "gate"
	KindVst     Kind = "vst"
	KindMixer   Kind = "mixer"
	KindMonitor Kind = "monitor"
	KindPlayer  Kind = "player"
)

// MaxMixerChannels bounds the number of mixer inputs.
const MaxMixerChannels = 16

// GateState is the two-state gate configuration.
type GateState string

const (
	GateOpen   GateState = "open"
	GateClosed GateState = "closed"
)

type GateParams struct {
	State GateState `json:"state"`
}

// VstParams is empty: the plugin path is fixed by the environment.
type VstParams struct{}

type MixerParams struct {
	Gains  []float32 `json:"gains"`
	Master float32   `json:"master"`
}

type MonitorParams struct{}

type PlayerParams struct {
	Media string `json:"media"`
	Loop  bool   `json:"loop"`
}

// Params is the serializable configuration of a module. Exactly the field
// matching Kind is set.
type Params struct {
	Kind    Kind           `json:"kind"`
	Gate    *GateParams    `json:"gate,omitempty"`
	Vst     *VstParams     `json:"vst,omitempty"`
	Mixer   *MixerParams   `json:"mixer,omitempty"`
	Monitor *MonitorParams `json:"monitor,omitempty"`
	Player  *PlayerParams  `json:"player,omitempty"`
}

// Gate returns gate params.
func Gate(state GateState) Params {
	return Params{Kind: KindGate, Gate: &GateParams{State: state}}
}

// Vst returns plugin adapter params.
func Vst() Params {
	return Params{Kind: KindVst, Vst: &VstParams{}}
}

// Mixer returns mixer params with one input per gain.
func Mixer(master float32, gains ...float32) Params {
	return Params{Kind: KindMixer, Mixer: &MixerParams{Gains: append([]float32(nil), gains...), Master: master}}
}

// Monitor returns monitor params.
func Monitor() Params {
	return Params{Kind: KindMonitor, Monitor: &MonitorParams{}}
}

// Player returns params for playing a library media item.
func Player(media string, loop bool) Params {
	return Params{Kind: KindPlayer, Player: &PlayerParams{Media: media, Loop: loop}}
}

// Validate checks that the payload matches Kind and is well formed.
func (p Params) Validate() error {
	switch p.Kind {
	case KindGate:
		if p.Gate == nil {
			return fmt.Errorf("%w: gate params missing", ErrInvalidParams)
		}
		if p.Gate.State != GateOpen && p.Gate.State != GateClosed {
			return fmt.Errorf("%w: gate state %q", ErrInvalidParams, p.Gate.State)
		}
	case KindVst:
		if p.Vst == nil {
			return fmt.Errorf("%w: vst params missing", ErrInvalidParams)
		}
	case KindMixer:
		if p.Mixer == nil {
			return fmt.Errorf("%w: mixer params missing", ErrInvalidParams)
		}
		if n := len(p.Mixer.Gains); n < 1 || n > MaxMixerChannels {
			return fmt.Errorf("%w: mixer needs 1-%d channels, got %d", ErrInvalidParams, MaxMixerChannels, n)
		}
	case KindMonitor:
		if p.Monitor == nil {
			return fmt.Errorf("%w: monitor params missing", ErrInvalidParams)
		}
	case KindPlayer:
		if p.Player == nil || p.Player.Media == "" {
			return fmt.Errorf("%w: player needs a media id", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias live module state.
func (p Params) Clone() Params {
	c := Params{Kind: p.Kind}
	if p.Gate != nil {
		g := *p.Gate
		c.Gate = &g
	}
	if p.Vst != nil {
		c.Vst = &VstParams{}
	}
	if p.Mixer != nil {
		c.Mixer = &MixerParams{Gains: append([]float32(nil), p.Mixer.Gains...), Master: p.Mixer.Master}
	}
	if p.Monitor != nil {
		c.Monitor = &MonitorParams{}
	}
	if p.Player != nil {
		pl := *p.Player
		c.Player = &pl
	}
	return c
}

// Indication is the externally visible status of a module.
type Indication struct {
	Kind    Kind               `json:"kind"`
	Vst     *VstIndication     `json:"vst,omitempty"`
	Monitor *MonitorIndication `json:"monitor,omitempty"`
	Player  *PlayerIndication  `json:"player,omitempty"`
}

type VstIndication struct {
	Name    string `json:"name"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

type MonitorIndication struct {
	Peak float32 `json:"peak"`
}

type PlayerIndication struct {
	Media   string `json:"media"`
	Length  int    `json:"length"`
	Playing bool   `json:"playing"`
}
