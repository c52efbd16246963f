package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBlob struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	in := testBlob{Name: "storm", Count: 3}
	require.NoError(t, Save(path, in))

	var out testBlob
	found, err := Load(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	var out testBlob
	found, err := Load(filepath.Join(t.TempDir(), "nope.json"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoad_CorruptedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	var out testBlob
	_, err := Load(path, &out)
	assert.Error(t, err)
}

func TestSave_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "nested", "state.json")
	require.NoError(t, Save(path, testBlob{Name: "x"}))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSave_LeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, Save(path, testBlob{Name: "a"}))
	require.NoError(t, Save(path, testBlob{Name: "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}
