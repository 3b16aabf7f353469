package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriterReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "obligations.json")
	w := NewFileWriter(path)

	n, err := w.Write(map[string]int{"cycle": 1})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	_, err = w.Write(map[string]int{"cycle": 2})
	require.NoError(t, err)

	var got map[string]int
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 2, got["cycle"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileWriterFailureKeepsPreviousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obligations.json")
	w := NewFileWriter(path)

	_, err := w.Write(map[string]string{"state": "good"})
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = w.Write(map[string]any{"bad": make(chan int)})
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, json.Valid(after))
}

func TestNewFileWriterRemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obligations.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]\n"), 0o644))

	// left behind by a process killed mid-write
	partial := filepath.Join(dir, ".obligations.json.tmp-123456")
	require.NoError(t, os.WriteFile(partial, []byte(`{"obligations": [`), 0o600))
	other := filepath.Join(dir, ".other.json.tmp-1")
	require.NoError(t, os.WriteFile(other, []byte("{"), 0o600))

	w := NewFileWriter(path)
	assert.NoFileExists(t, partial)
	assert.FileExists(t, other, "temp files of other targets are left alone")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	_, err = w.Write([]int{4})
	require.NoError(t, err)
}

func TestFileWriterReadersNeverSeePartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obligations.json")
	w := NewFileWriter(path)

	doc := func(cycle int) map[string]any {
		rows := make([]map[string]any, 2000)
		for i := range rows {
			rows[i] = map[string]any{"cycle": cycle, "index": i, "owner": strings.Repeat("x", 44)}
		}
		return map[string]any{"cycle": cycle, "obligations": rows}
	}
	_, err := w.Write(doc(0))
	require.NoError(t, err)

	const cycles = 25
	done := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		defer close(done)
		for c := 1; c <= cycles; c++ {
			if _, err := w.Write(doc(c)); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	reads, invalid := 0, 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		reads++
		if !json.Valid(data) {
			invalid++
		}
	}

	select {
	case err := <-writeErr:
		require.NoError(t, err)
	default:
	}
	assert.Zero(t, invalid, "%d of %d reads saw a torn file", invalid, reads)
	assert.Greater(t, reads, 1)

	var last map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &last))
	assert.EqualValues(t, cycles, last["cycle"])
}

func TestFileWriterUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	w := NewFileWriter(filepath.Join(blocker, "obligations.json"))
	_, err := w.Write([]int{1})
	assert.Error(t, err)
}
