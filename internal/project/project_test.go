package project

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/engine"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

func openTest(t *testing.T, path string, opts Options) *Project {
	t.Helper()
	if opts.Ticks == nil {
		opts.Ticks = make(chan time.Time)
	}
	p, err := OpenOrCreate(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func session(t *testing.T, p *Project) (workspace.State, *engine.Session) {
	t.Helper()
	st, s, err := p.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return st, s
}

func apply(t *testing.T, s *engine.Session, e engine.Edit) engine.Result {
	t.Helper()
	res, err := s.Apply(context.Background(), e)
	require.NoError(t, err)
	return res
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// --- open ---

func TestOpenOrCreate_NewProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "song")
	p := openTest(t, dir, Options{})

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, p.Path())

	st, _ := session(t, p)
	assert.Equal(t, workspace.Default(), st)
	assert.Empty(t, p.Library())
	assert.Empty(t, p.Uploads())
}

func TestOpenOrCreate_ExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	assert.NoError(t, p.Close())
}

func TestOpenOrCreate_NotDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := OpenOrCreate(context.Background(), path, Options{})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestOpenOrCreate_Locked(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})

	_, err := OpenOrCreate(context.Background(), dir, Options{})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, p.Close())
	openTest(t, dir, Options{})
}

func TestOpenOrCreate_MalformedWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspaceFile), []byte("{"), 0o644))

	_, err := OpenOrCreate(context.Background(), dir, Options{Ticks: make(chan time.Time)})
	require.Error(t, err)

	// The failed open released the lock.
	require.NoError(t, os.Remove(filepath.Join(dir, workspaceFile)))
	openTest(t, dir, Options{})
}

// --- persistence ---

func TestPersist_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	_, s := session(t, p)

	gate := apply(t, s, engine.AddModule{Params: module.Gate(module.GateOpen)}).Module
	mix := apply(t, s, engine.AddModule{Params: module.Mixer(0.8, 1, 0.5)}).Module
	apply(t, s, engine.Connect{
		From: workspace.OutputRef{Module: gate},
		To:   workspace.InputRef{Module: mix, Terminal: 1},
	})
	want, _ := session(t, p)
	require.NoError(t, p.Close())

	assert.FileExists(t, filepath.Join(dir, workspaceFile))
	assert.NoFileExists(t, filepath.Join(dir, workspaceTmpFile))

	reopened := openTest(t, dir, Options{})
	got, _ := session(t, reopened)
	assert.Equal(t, want, got)
}

func TestPersist_EveryEditReachesDisk(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	_, s := session(t, p)

	for i := 1; i <= 5; i++ {
		apply(t, s, engine.AddModule{Params: module.Monitor()})
	}

	require.Eventually(t, func() bool {
		st, err := readWorkspace(dir)
		return err == nil && len(st.Modules) == 5
	}, time.Second, 5*time.Millisecond)
}

func TestWriteWorkspace_FailureKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	prev := workspace.Default()
	require.NoError(t, writeWorkspace(dir, prev))
	before := readFile(t, filepath.Join(dir, workspaceFile))

	// A directory in the temp file's place makes the write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, workspaceTmpFile), 0o755))

	next := workspace.Default()
	next.Modules = append(next.Modules, workspace.ModuleState{ID: 1, Params: module.Monitor()})
	next.NextID = 2
	assert.Error(t, writeWorkspace(dir, next))

	assert.Equal(t, before, readFile(t, filepath.Join(dir, workspaceFile)))
}

func TestPersist_WriteErrorIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	_, s := session(t, p)

	blocker := filepath.Join(dir, workspaceTmpFile)
	require.NoError(t, os.Mkdir(blocker, 0o755))
	apply(t, s, engine.AddModule{Params: module.Monitor()})

	// Give the drain a chance to hit the failure, then clear it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Remove(blocker))

	apply(t, s, engine.AddModule{Params: module.Monitor()})
	require.Eventually(t, func() bool {
		st, err := readWorkspace(dir)
		return err == nil && len(st.Modules) == 2
	}, time.Second, 5*time.Millisecond)
}

// --- uploads ---

func TestUpload_Finalize(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	ctx := context.Background()

	up, err := p.BeginMediaUpload(ctx, UploadInfo{Name: "kick.wav", Kind: "audio/wav", Size: 9})
	require.NoError(t, err)
	defer up.Close()

	for _, chunk := range []string{"abc", "de", "fghi"} {
		require.NoError(t, up.ReceiveBytes([]byte(chunk)))
	}

	uploads := p.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, up.ID(), uploads[0].ID)
	assert.Equal(t, int64(9), uploads[0].Uploaded)
	assert.Equal(t, "kick.wav", uploads[0].Info.Name)
	assert.Empty(t, p.Library())

	info, err := up.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, up.ID(), info.ID)
	assert.Equal(t, "kick.wav", info.Name)
	assert.Equal(t, "audio/wav", info.Kind)
	assert.Equal(t, int64(9), info.Size)

	assert.Empty(t, p.Uploads())
	assert.Equal(t, []MediaInfo{info}, p.Library())

	path, err := p.MediaPath(info.ID.String())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, mediaDir, info.ID.String()), path)
	assert.Equal(t, []byte("abcdefghi"), readFile(t, path))

	// Exactly once.
	_, err = up.Finalize(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, up.ReceiveBytes([]byte("j")), ErrCancelled)
	assert.Len(t, p.Library(), 1)

	// Closing a finalized upload keeps the media.
	require.NoError(t, up.Close())
	assert.FileExists(t, path)
}

func TestUpload_Cancel(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})
	ctx := context.Background()

	up, err := p.BeginMediaUpload(ctx, UploadInfo{Name: "x", Kind: "audio/mpeg", Size: 10})
	require.NoError(t, err)
	require.NoError(t, up.ReceiveBytes([]byte("12345")))

	up.Cancel()
	up.Cancel()

	assert.NoFileExists(t, filepath.Join(dir, mediaDir, up.ID().String()))
	assert.Empty(t, p.Uploads())
	assert.ErrorIs(t, up.ReceiveBytes([]byte("6")), ErrCancelled)
	_, err = up.Finalize(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, p.Library())
	assert.NoError(t, up.Close())
}

func TestUpload_CloseAbandons(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})

	up, err := p.BeginMediaUpload(context.Background(), UploadInfo{Name: "x", Kind: "audio/wav", Size: 4})
	require.NoError(t, err)
	require.NoError(t, up.ReceiveBytes([]byte("ab")))
	require.NoError(t, up.Close())

	assert.Empty(t, p.Uploads())
	assert.NoFileExists(t, filepath.Join(dir, mediaDir, up.ID().String()))
}

func TestUpload_SizeExceeded(t *testing.T) {
	p := openTest(t, t.TempDir(), Options{})

	up, err := p.BeginMediaUpload(context.Background(), UploadInfo{Name: "x", Kind: "audio/wav", Size: 4})
	require.NoError(t, err)
	defer up.Close()

	require.NoError(t, up.ReceiveBytes([]byte("abc")))
	assert.ErrorIs(t, up.ReceiveBytes([]byte("de")), ErrSizeExceeded)
	assert.Equal(t, int64(3), p.Uploads()[0].Uploaded)
	require.NoError(t, up.ReceiveBytes([]byte("d")))

	info, err := up.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
}

func TestUpload_Parallel(t *testing.T) {
	p := openTest(t, t.TempDir(), Options{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1024)
			up, err := p.BeginMediaUpload(ctx, UploadInfo{Name: fmt.Sprintf("take-%d", i), Kind: "audio/wav", Size: int64(len(payload))})
			if err != nil {
				errs <- err
				return
			}
			defer up.Close()
			for off := 0; off < len(payload); off += 128 {
				if err := up.ReceiveBytes(payload[off : off+128]); err != nil {
					errs <- err
					return
				}
			}
			if _, err := up.Finalize(ctx); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lib := p.Library()
	require.Len(t, lib, n)
	for _, item := range lib {
		assert.Equal(t, int64(1024), item.Size)
	}
	assert.Empty(t, p.Uploads())
}

func TestUpload_WritesNeverLandAfterFinalize(t *testing.T) {
	p := openTest(t, t.TempDir(), Options{})
	ctx := context.Background()
	chunk := bytes.Repeat([]byte{0xAB}, 4096)

	for i := 0; i < 50; i++ {
		up, err := p.BeginMediaUpload(ctx, UploadInfo{Name: "race.wav", Kind: "audio/wav", Size: 1 << 20})
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for up.ReceiveBytes(chunk) == nil {
			}
		}()

		info, err := up.Finalize(ctx)
		require.NoError(t, err)
		<-done
		require.NoError(t, up.Close())

		path, err := p.MediaPath(info.ID.String())
		require.NoError(t, err)
		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, info.Size, st.Size(), "iteration %d", i)
	}
}

func TestLibrary_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	p := openTest(t, dir, Options{})

	up, err := p.BeginMediaUpload(context.Background(), UploadInfo{Name: "loop.flac", Kind: "audio/flac", Size: 2})
	require.NoError(t, err)
	require.NoError(t, up.ReceiveBytes([]byte("ok")))
	info, err := up.Finalize(context.Background())
	require.NoError(t, err)
	require.NoError(t, up.Close())
	require.NoError(t, p.Close())

	reopened := openTest(t, dir, Options{})
	lib := reopened.Library()
	require.Len(t, lib, 1)
	assert.Equal(t, info.ID, lib[0].ID)
	assert.Equal(t, info.Name, lib[0].Name)
	assert.Equal(t, info.Kind, lib[0].Kind)
	assert.Equal(t, info.Size, lib[0].Size)
	assert.True(t, info.Added.Equal(lib[0].Added))
}

func TestMediaPath_Unknown(t *testing.T) {
	p := openTest(t, t.TempDir(), Options{})

	_, err := p.MediaPath("not-a-uuid")
	assert.ErrorIs(t, err, ErrUnknownMedia)
	_, err = p.MediaPath("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.ErrorIs(t, err, ErrUnknownMedia)
}

// --- players read the library ---

type lastBlock struct {
	mu    sync.Mutex
	block []audio.Sample
}

func (l *lastBlock) Push(b []audio.Sample) {
	l.mu.Lock()
	l.block = b
	l.mu.Unlock()
}

func (l *lastBlock) get() []audio.Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

func TestPlayer_PlaysUploadedMedia(t *testing.T) {
	sink := &lastBlock{}
	ticks := make(chan time.Time)
	var decoded string
	p := openTest(t, t.TempDir(), Options{
		Ticks: ticks,
		Env: module.Env{
			Monitor: sink,
			Decode: func(_ context.Context, path string) ([]audio.Sample, error) {
				decoded = path
				samples := make([]audio.Sample, 2*audio.BlockSize)
				for i := range samples {
					samples[i] = 0.25
				}
				return samples, nil
			},
		},
	})
	_, s := session(t, p)

	_, err := s.Apply(context.Background(), engine.AddModule{Params: module.Player("missing", false)})
	assert.ErrorIs(t, err, ErrUnknownMedia)

	up, err := p.BeginMediaUpload(context.Background(), UploadInfo{Name: "a.wav", Kind: "audio/wav", Size: 1})
	require.NoError(t, err)
	require.NoError(t, up.ReceiveBytes([]byte{0}))
	info, err := up.Finalize(context.Background())
	require.NoError(t, err)
	require.NoError(t, up.Close())

	player := apply(t, s, engine.AddModule{Params: module.Player(info.ID.String(), false)}).Module
	mon := apply(t, s, engine.AddModule{Params: module.Monitor()}).Module
	apply(t, s, engine.Connect{
		From: workspace.OutputRef{Module: player},
		To:   workspace.InputRef{Module: mon},
	})
	assert.Equal(t, filepath.Join(p.Path(), mediaDir, info.ID.String()), decoded)

	// The loop handles one tick at a time, so the second send returns only
	// after the first tick has completed.
	ticks <- time.Now()
	ticks <- time.Now()

	block := sink.get()
	require.Len(t, block, audio.BlockSize)
	assert.Equal(t, audio.Sample(0.25), block[0])
}
