package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Host owns every plugin instance opened through it. A process normally has
// exactly one Host; tests construct their own around a fake Loader.
type Host struct {
	loader Loader
	logger *slog.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// NewHost creates a plugin host around loader.
func NewHost(loader Loader, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		loader:  loader,
		logger:  logger,
		handles: make(map[*Handle]struct{}),
	}
}

// Open loads the plugin at path. The returned error wraps ErrLoad for any
// missing file or loader failure.
func (h *Host) Open(path string) (*Handle, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrHostClosed
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	p, err := h.loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	handle := &Handle{host: h, plugin: p, path: path}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = p.Close()
		return nil, ErrHostClosed
	}
	h.handles[handle] = struct{}{}
	h.logger.Debug("plugin opened", slog.String("path", path))
	return handle, nil
}

// OpenCount returns the number of handles not yet closed.
func (h *Host) OpenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// Close closes every open handle. Further Open calls fail.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	handles := make([]*Handle, 0, len(h.handles))
	for handle := range h.handles {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) release(handle *Handle) {
	h.mu.Lock()
	delete(h.handles, handle)
	h.mu.Unlock()
}

// Handle is exclusive access to one plugin instance.
type Handle struct {
	host   *Host
	plugin Plugin
	path   string

	mu     sync.Mutex
	closed bool
}

// Path returns the path the plugin was loaded from.
func (h *Handle) Path() string {
	return h.path
}

// Call runs fn with the plugin while holding the handle. Calls on a closed
// handle are ignored and report false.
func (h *Handle) Call(fn func(Plugin)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	fn(h.plugin)
	return true
}

// Close suspends and releases the plugin. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.plugin.Suspend()
	err := h.plugin.Close()
	h.mu.Unlock()

	h.host.release(h)
	return err
}

// UnavailableLoader is used when the binary was built without a native
// plugin bridge. Host.Open still checks that the path exists first.
var UnavailableLoader = LoaderFunc(func(path string) (Plugin, error) {
	return nil, ErrNoNativeBridge
})
