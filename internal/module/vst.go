package module

import (
	"errors"
	"fmt"

	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/plugin"
)

var errNoHost = errors.New("no plugin host configured")

// vst adapts a native plugin. Its terminals come from the plugin's own
// report, so they are only known once the plugin has loaded.
type vst struct {
	env     Env
	handle  *plugin.Handle
	info    plugin.Info
	inputs  []Terminal
	outputs []Terminal

	silence []audio.Sample
	in      [][]audio.Sample
}

func loadVst(env Env) (*vst, error) {
	if env.Host == nil {
		return nil, fmt.Errorf("%w: %w", plugin.ErrLoad, errNoHost)
	}

	handle, err := env.Host.Open(env.VstPath)
	if err != nil {
		return nil, err
	}

	var info plugin.Info
	handle.Call(func(p plugin.Plugin) {
		p.Init()
		p.SetSampleRate(audio.SampleRate)
		p.SetBlockSize(audio.BlockSize)
		info = p.Info()
		p.Resume()
	})

	if info.Inputs < 0 || info.Outputs < 0 {
		_ = handle.Close()
		return nil, fmt.Errorf("%w: plugin reported %d inputs, %d outputs", plugin.ErrLoad, info.Inputs, info.Outputs)
	}

	return &vst{
		env:     env,
		handle:  handle,
		info:    info,
		inputs:  monoTerminals(info.Inputs),
		outputs: monoTerminals(info.Outputs),
		silence: audio.NewBlock(),
		in:      make([][]audio.Sample, info.Inputs),
	}, nil
}

func (v *vst) indication() Indication {
	return Indication{Kind: KindVst, Vst: &VstIndication{
		Name:    v.info.Name,
		Inputs:  v.info.Inputs,
		Outputs: v.info.Outputs,
	}}
}

func (v *vst) Params() Params {
	return Vst()
}

// Update reloads the plugin. The old instance is kept if the reload fails.
func (v *vst) Update(p Params) (*Indication, error) {
	if err := checkKind(KindVst, p); err != nil {
		return nil, err
	}

	next, err := loadVst(v.env)
	if err != nil {
		return nil, err
	}
	old := v.handle
	changed := next.info != v.info
	*v = *next
	_ = old.Close()

	if !changed {
		return nil, nil
	}
	ind := v.indication()
	return &ind, nil
}

// RunTick forwards audio through the plugin. Unconnected inputs are fed
// silence; the plugin writes the outputs in place.
func (v *vst) RunTick(_ uint64, inputs [][]audio.Sample, outputs [][]audio.Sample) *Indication {
	for i := range v.in {
		if i < len(inputs) && inputs[i] != nil {
			v.in[i] = inputs[i]
		} else {
			v.in[i] = v.silence
		}
	}

	ok := v.handle.Call(func(p plugin.Plugin) {
		p.Process(v.in, outputs)
	})
	if !ok {
		for _, out := range outputs {
			audio.Fill(out, 0)
		}
	}
	return nil
}

func (v *vst) Inputs() []Terminal { return v.inputs }

func (v *vst) Outputs() []Terminal { return v.outputs }

func (v *vst) Close() error {
	return v.handle.Close()
}
