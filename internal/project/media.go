package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCancelled is returned for operations on an upload that is no
	// longer in progress: cancelled, abandoned or already finalized.
	ErrCancelled = errors.New("upload is no longer active")
	// ErrSizeExceeded is returned when a write would take an upload past
	// its declared size. Nothing is written.
	ErrSizeExceeded = errors.New("upload exceeds declared size")
)

// UploadInfo describes media about to be uploaded.
type UploadInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

// UploadStatus is an in-progress upload.
type UploadStatus struct {
	ID       uuid.UUID  `json:"id"`
	Info     UploadInfo `json:"info"`
	Uploaded int64      `json:"uploaded"`
}

// MediaInfo is a published library item.
type MediaInfo struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Kind  string    `json:"kind"`
	Size  int64     `json:"size"`
	Added time.Time `json:"added"`
}

type uploadState struct {
	info     UploadInfo
	uploaded int64
}

// MediaUpload is the write handle of one upload. Byte writes happen outside
// the project lock so uploads proceed in parallel; only the bookkeeping is
// serialized. Always Close the handle, whatever the outcome.
type MediaUpload struct {
	p    *Project
	id   uuid.UUID
	file *os.File

	// wmu orders ReceiveBytes against Finalize on this handle so no write
	// lands in a published file.
	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// BeginMediaUpload registers a new upload and creates its file in the media
// store.
func (p *Project) BeginMediaUpload(ctx context.Context, info UploadInfo) (*MediaUpload, error) {
	if info.Size < 0 {
		return nil, fmt.Errorf("negative upload size %d", info.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.path, mediaDir)
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	id := uuid.New()
	file, err := os.Create(p.mediaFile(id))
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}

	p.mu.Lock()
	p.uploads[id] = &uploadState{info: info}
	p.mu.Unlock()

	p.logger.Info("upload started",
		slog.String("upload", id.String()),
		slog.String("name", info.Name),
		slog.Int64("size", info.Size))
	return &MediaUpload{p: p, id: id, file: file}, nil
}

// ID returns the upload's id, which becomes the media id once finalized.
func (u *MediaUpload) ID() uuid.UUID {
	return u.id
}

// ReceiveBytes appends b to the upload.
func (u *MediaUpload) ReceiveBytes(b []byte) error {
	u.wmu.Lock()
	defer u.wmu.Unlock()

	if err := u.reserve(int64(len(b))); err != nil {
		return err
	}

	if _, err := u.file.Write(b); err != nil {
		if !u.active() {
			return ErrCancelled
		}
		return fmt.Errorf("write upload %s: %w", u.id, err)
	}

	u.p.mu.Lock()
	defer u.p.mu.Unlock()
	st, ok := u.p.uploads[u.id]
	if !ok {
		return ErrCancelled
	}
	st.uploaded += int64(len(b))
	return nil
}

func (u *MediaUpload) active() bool {
	u.p.mu.Lock()
	defer u.p.mu.Unlock()
	_, ok := u.p.uploads[u.id]
	return ok
}

// reserve checks that n more bytes fit the declared size.
func (u *MediaUpload) reserve(n int64) error {
	u.p.mu.Lock()
	defer u.p.mu.Unlock()
	st, ok := u.p.uploads[u.id]
	if !ok {
		return ErrCancelled
	}
	if st.uploaded+n > st.info.Size {
		return fmt.Errorf("%w: %d + %d > %d", ErrSizeExceeded, st.uploaded, n, st.info.Size)
	}
	return nil
}

// Finalize publishes the upload into the library. It succeeds at most once;
// later calls and calls after Cancel return ErrCancelled.
func (u *MediaUpload) Finalize(ctx context.Context) (MediaInfo, error) {
	u.wmu.Lock()
	defer u.wmu.Unlock()

	if err := u.file.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
		return MediaInfo{}, fmt.Errorf("sync upload %s: %w", u.id, err)
	}

	u.p.mu.Lock()
	st, ok := u.p.uploads[u.id]
	if !ok {
		u.p.mu.Unlock()
		return MediaInfo{}, ErrCancelled
	}
	delete(u.p.uploads, u.id)
	info := MediaInfo{
		ID:    u.id,
		Name:  st.info.Name,
		Kind:  st.info.Kind,
		Size:  st.uploaded,
		Added: time.Now().UTC(),
	}
	u.p.library[u.id] = info
	u.p.mu.Unlock()

	// The in-memory library is authoritative; a catalog failure only costs
	// the entry on the next restart.
	if err := u.p.catalog.insert(ctx, info); err != nil {
		u.p.logger.Error("could not catalog media",
			slog.String("upload", u.id.String()), slog.String("err", err.Error()))
	}

	u.p.logger.Info("upload finalized",
		slog.String("upload", u.id.String()),
		slog.Int64("bytes", info.Size))
	return info, nil
}

// Cancel abandons the upload and deletes its partial file. It is a no-op
// once the upload is finalized or already cancelled.
func (u *MediaUpload) Cancel() {
	u.p.mu.Lock()
	_, ok := u.p.uploads[u.id]
	delete(u.p.uploads, u.id)
	u.p.mu.Unlock()
	if !ok {
		return
	}

	_ = u.closeFile()
	if err := os.Remove(u.p.mediaFile(u.id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		u.p.logger.Warn("could not remove cancelled upload",
			slog.String("upload", u.id.String()), slog.String("err", err.Error()))
	}
	u.p.logger.Info("upload cancelled", slog.String("upload", u.id.String()))
}

// Close releases the file handle. An upload that was neither finalized nor
// cancelled is cancelled.
func (u *MediaUpload) Close() error {
	u.Cancel()
	return u.closeFile()
}

func (u *MediaUpload) closeFile() error {
	u.closeOnce.Do(func() {
		u.closeErr = u.file.Close()
	})
	return u.closeErr
}
