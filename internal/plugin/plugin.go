// Package plugin is the boundary to native audio plugins. The engine never
// talks to a plugin binary directly: a Host owns every loaded instance and
// hands out Handles that serialize access to them.
package plugin

import "errors"

var (
	// ErrLoad wraps every failure to load or initialize a plugin binary.
	ErrLoad = errors.New("plugin load failed")
	// ErrHostClosed is returned by Open after the host has been closed.
	ErrHostClosed = errors.New("plugin host closed")
	// ErrNoNativeBridge is returned by UnavailableLoader.
	ErrNoNativeBridge = errors.New("no native plugin bridge in this build")
)

// Info is the self-reported description of a loaded plugin.
type Info struct {
	Name    string `json:"name"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

// Plugin is one loaded native plugin instance.
//
// Process is called from the tick loop and must not block. inputs and
// outputs hold one block per channel; outputs are written in place.
type Plugin interface {
	Init()
	SetSampleRate(rate float32)
	SetBlockSize(size int)
	Info() Info
	Resume()
	Suspend()
	Process(inputs, outputs [][]float32)
	Close() error
}

// Loader turns a path on disk into a plugin instance.
type Loader interface {
	Load(path string) (Plugin, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (Plugin, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (Plugin, error) {
	return f(path)
}
