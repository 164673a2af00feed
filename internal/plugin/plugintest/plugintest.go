// Package plugintest provides an in-memory plugin Loader for tests.
package plugintest

import (
	"errors"
	"sync"

	"github.com/satindergrewal/mixlab/internal/plugin"
)

// Plugin is a fake plugin. Process copies input i to output i and writes
// Fill into outputs without a matching input.
type Plugin struct {
	info plugin.Info
	Fill float32

	mu         sync.Mutex
	calls      []string
	sampleRate float32
	blockSize  int
	processed  int
	closed     bool
}

// NewPlugin returns a fake plugin with the given arity.
func NewPlugin(name string, inputs, outputs int) *Plugin {
	return &Plugin{info: plugin.Info{Name: name, Inputs: inputs, Outputs: outputs}}
}

func (p *Plugin) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *Plugin) Init() { p.record("init") }

func (p *Plugin) SetSampleRate(rate float32) {
	p.mu.Lock()
	p.sampleRate = rate
	p.mu.Unlock()
	p.record("set_sample_rate")
}

func (p *Plugin) SetBlockSize(size int) {
	p.mu.Lock()
	p.blockSize = size
	p.mu.Unlock()
	p.record("set_block_size")
}

func (p *Plugin) Info() plugin.Info {
	p.record("info")
	return p.info
}

func (p *Plugin) Resume()  { p.record("resume") }
func (p *Plugin) Suspend() { p.record("suspend") }

func (p *Plugin) Process(inputs, outputs [][]float32) {
	for i, out := range outputs {
		if i < len(inputs) {
			copy(out, inputs[i])
			continue
		}
		for j := range out {
			out[j] = p.Fill
		}
	}
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

func (p *Plugin) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.record("close")
	return nil
}

// Calls returns the lifecycle calls made so far, in order.
func (p *Plugin) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Config returns the sample rate and block size the plugin was given.
func (p *Plugin) Config() (float32, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate, p.blockSize
}

// Processed returns how many times Process ran.
func (p *Plugin) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

// Closed reports whether Close was called.
func (p *Plugin) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ErrInjected is returned by Loader when Fail is set.
var ErrInjected = errors.New("injected load failure")

// Loader hands out fake plugins. Each Load creates a fresh plugin with the
// current Inputs/Outputs so tests can change the arity between loads.
type Loader struct {
	mu      sync.Mutex
	Inputs  int
	Outputs int
	Fail    bool
	loaded  []*Plugin
}

// NewLoader returns a Loader producing plugins with the given arity.
func NewLoader(inputs, outputs int) *Loader {
	return &Loader{Inputs: inputs, Outputs: outputs}
}

// SetArity changes the arity of plugins loaded from now on.
func (l *Loader) SetArity(inputs, outputs int) {
	l.mu.Lock()
	l.Inputs, l.Outputs = inputs, outputs
	l.mu.Unlock()
}

// SetFail makes subsequent loads fail with ErrInjected.
func (l *Loader) SetFail(fail bool) {
	l.mu.Lock()
	l.Fail = fail
	l.mu.Unlock()
}

func (l *Loader) Load(path string) (plugin.Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail {
		return nil, ErrInjected
	}
	p := NewPlugin("fake", l.Inputs, l.Outputs)
	l.loaded = append(l.loaded, p)
	return p, nil
}

// Loaded returns every plugin created so far.
func (l *Loader) Loaded() []*Plugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Plugin(nil), l.loaded...)
}

// Last returns the most recently loaded plugin, or nil.
func (l *Loader) Last() *Plugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.loaded) == 0 {
		return nil
	}
	return l.loaded[len(l.loaded)-1]
}
