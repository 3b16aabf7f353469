package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lendwatch/logger"
)

// FileWriter replaces a JSON document on disk atomically. The new content is
// written to a temporary file in the target directory, synced and renamed
// over the target, so readers see either the old or the new file.
type FileWriter struct {
	path string
	perm os.FileMode
}

// NewFileWriter creates a writer targeting path. Temp files left next to the
// target by an interrupted earlier process are removed.
func NewFileWriter(path string) *FileWriter {
	w := &FileWriter{path: path, perm: 0o644}
	w.removeStale()
	return w
}

func (w *FileWriter) tempPattern() string {
	return "." + filepath.Base(w.path) + ".tmp-*"
}

func (w *FileWriter) removeStale() {
	stale, err := filepath.Glob(filepath.Join(filepath.Dir(w.path), w.tempPattern()))
	if err != nil || len(stale) == 0 {
		return
	}
	log := logger.GetLogger().WithComponent("snapshot_writer")
	for _, name := range stale {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("file", name).Warn("failed to remove stale temp file")
			continue
		}
		log.WithField("file", name).Info("removed stale temp file")
	}
}

// Path returns the target file.
func (w *FileWriter) Path() string {
	return w.path
}

// Write serializes v as indented JSON and installs it at the target path.
// It returns the number of bytes written.
func (w *FileWriter) Write(v any) (int, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, w.tempPattern())
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, w.perm); err != nil {
		return 0, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return 0, fmt.Errorf("replace snapshot: %w", err)
	}
	committed = true
	return len(data), nil
}
