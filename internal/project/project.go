// Package project ties an engine to a directory on disk. It owns the
// workspace file, the media store and the media catalog, and mirrors every
// engine state change to disk without ever blocking the tick loop.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/satindergrewal/mixlab/internal/engine"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/stream"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

const (
	workspaceFile    = "workspace.json"
	workspaceTmpFile = ".workspace.json.tmp"
	lockFile         = ".mixlab.lock"
	catalogFile      = "library.db"
	mediaDir         = "media"
)

var (
	// ErrNotDirectory is returned when the project path exists but is not a
	// directory.
	ErrNotDirectory = errors.New("project path is not a directory")
	// ErrLocked is returned when another process has the project open.
	ErrLocked = errors.New("project is locked by another process")
	// ErrUnknownMedia is returned for media ids not in the library.
	ErrUnknownMedia = errors.New("unknown media")
)

// Options configures OpenOrCreate.
type Options struct {
	Logger *slog.Logger
	// Env supplies plugin host, monitor sink and decoder for modules. Media
	// resolution is provided by the project.
	Env         module.Env
	EventBuffer int
	// Ticks overrides the engine's tick source; nil uses real time.
	Ticks <-chan time.Time
}

// Project is an open project directory with a running engine.
type Project struct {
	path    string
	logger  *slog.Logger
	lock    *flock.Flock
	catalog *catalog
	engine  *engine.Handle
	drained chan struct{}

	mu      sync.Mutex
	library map[uuid.UUID]MediaInfo
	uploads map[uuid.UUID]*uploadState

	closeOnce sync.Once
	closeErr  error
}

// OpenOrCreate opens the project at path, creating the directory if needed,
// and starts its engine. Only one process may hold a project open.
func OpenOrCreate(ctx context.Context, path string, opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("project", path))

	if err := ensureDir(path); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(path, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	p := &Project{
		path:    path,
		logger:  logger,
		lock:    lock,
		drained: make(chan struct{}),
		library: make(map[uuid.UUID]MediaInfo),
		uploads: make(map[uuid.UUID]*uploadState),
	}

	if err := p.open(ctx, opts); err != nil {
		_ = p.catalog.close()
		_ = lock.Unlock()
		return nil, err
	}
	return p, nil
}

func (p *Project) open(ctx context.Context, opts Options) error {
	state, err := readWorkspace(p.path)
	if err != nil {
		return err
	}

	p.catalog, err = openCatalog(ctx, filepath.Join(p.path, catalogFile))
	if err != nil {
		return err
	}
	items, err := p.catalog.all(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		p.library[item.ID] = item
	}

	env := opts.Env
	env.MediaPath = p.MediaPath

	embryo, persist := engine.NewEmbryo(state)
	p.engine, err = engine.Start(ctx, embryo, engine.Options{
		Env:         env,
		Logger:      p.logger,
		Ticks:       opts.Ticks,
		EventBuffer: opts.EventBuffer,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	go p.drain(persist)

	p.logger.Info("project opened",
		slog.Int("modules", len(state.Modules)),
		slog.Int("media", len(items)))
	return nil
}

func ensureDir(path string) error {
	err := os.Mkdir(path, 0o755)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create project dir: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat project dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	return nil
}

// Path returns the project directory.
func (p *Project) Path() string {
	return p.path
}

// Connect opens an engine session.
func (p *Project) Connect(ctx context.Context) (workspace.State, *engine.Session, error) {
	return p.engine.Connect(ctx)
}

// PerformanceInfo subscribes to per-tick timing records.
func (p *Project) PerformanceInfo() *stream.Listener[*engine.PerformanceInfo] {
	return p.engine.PerformanceInfo()
}

// ClosePerformanceInfo releases a listener returned by PerformanceInfo.
func (p *Project) ClosePerformanceInfo(l *stream.Listener[*engine.PerformanceInfo]) {
	p.engine.ClosePerformanceInfo(l)
}

// Library returns the published media, oldest first.
func (p *Project) Library() []MediaInfo {
	p.mu.Lock()
	items := make([]MediaInfo, 0, len(p.library))
	for _, item := range p.library {
		items = append(items, item)
	}
	p.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Added.Equal(items[j].Added) {
			return items[i].Added.Before(items[j].Added)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items
}

// Uploads returns the uploads currently in progress.
func (p *Project) Uploads() []UploadStatus {
	p.mu.Lock()
	out := make([]UploadStatus, 0, len(p.uploads))
	for id, u := range p.uploads {
		out = append(out, UploadStatus{ID: id, Info: u.info, Uploaded: u.uploaded})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// MediaPath resolves a published media id to its file.
func (p *Project) MediaPath(id string) (string, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownMedia, id)
	}
	p.mu.Lock()
	_, ok := p.library[uid]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMedia, id)
	}
	return p.mediaFile(uid), nil
}

func (p *Project) mediaFile(id uuid.UUID) string {
	return filepath.Join(p.path, mediaDir, id.String())
}

// Close stops the engine, waits for the last state to reach disk and
// releases the catalog and the project lock.
func (p *Project) Close() error {
	p.closeOnce.Do(func() {
		p.engine.Stop()
		<-p.drained

		var errs []error
		if err := p.catalog.close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
		if err := p.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		p.closeErr = errors.Join(errs...)
		p.logger.Info("project closed")
	})
	return p.closeErr
}
