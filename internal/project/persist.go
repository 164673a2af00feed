package project

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/satindergrewal/mixlab/internal/workspace"
)

// readWorkspace loads workspace.json. A missing file is an empty workspace.
func readWorkspace(dir string) (workspace.State, error) {
	data, err := os.ReadFile(filepath.Join(dir, workspaceFile))
	if errors.Is(err, fs.ErrNotExist) {
		return workspace.Default(), nil
	}
	if err != nil {
		return workspace.State{}, fmt.Errorf("read workspace: %w", err)
	}
	return workspace.Unmarshal(data)
}

// writeWorkspace replaces workspace.json atomically: the state is written
// to a temporary file which is then renamed over the old one, so a crash
// leaves either the old or the new version.
func writeWorkspace(dir string, s workspace.State) error {
	data, err := workspace.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}

	tmp := filepath.Join(dir, workspaceTmpFile)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", workspaceTmpFile, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, workspaceFile)); err != nil {
		return fmt.Errorf("rename %s: %w", workspaceTmpFile, err)
	}
	return nil
}

// drain mirrors engine states to disk until the engine closes the channel.
// Write failures are logged; the next state gets a fresh attempt.
func (p *Project) drain(states <-chan workspace.State) {
	defer close(p.drained)
	for s := range states {
		if err := writeWorkspace(p.path, s); err != nil {
			p.logger.Error("could not persist workspace", slog.String("err", err.Error()))
			continue
		}
		p.logger.Debug("workspace persisted",
			slog.Int("modules", len(s.Modules)),
			slog.Int("connections", len(s.Connections)))
	}
}

// ReadWorkspace returns the persisted workspace of the project at dir
// without opening it. It takes no lock and starts no engine.
func ReadWorkspace(dir string) (workspace.State, error) {
	return readWorkspace(dir)
}
