package resumetoken

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	path, err := s.Save("task1", Token{Validator: "etag-1", NextOffset: 1024})
	require.NoError(t, err)
	assert.FileExists(t, path)

	tok, ok := s.Load("task1")
	require.True(t, ok)
	assert.Equal(t, "etag-1", tok.Validator)
	assert.Equal(t, int64(1024), tok.NextOffset)
}

func TestLoadMissingTokenReturnsFalse(t *testing.T) {
	s := NewStore(t.TempDir())
	_, ok := s.Load("nonexistent")
	assert.False(t, ok)
}

func TestLoadRejectsMissingMagic(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task1.resume"), []byte(`{"validator":"x","next_offset":10}`), 0o644))

	_, ok := s.Load("task1")
	assert.False(t, ok)
}

func TestLoadRejectsNegativeOffset(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Save("task1", Token{Validator: "x", NextOffset: -1})
	require.NoError(t, err)

	_, ok := s.Load("task1")
	assert.False(t, ok)
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.NoError(t, s.Delete("nonexistent"))
}

func TestDeleteRemovesTokenFile(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Save("task1", Token{Validator: "x", NextOffset: 5})
	require.NoError(t, err)

	require.NoError(t, s.Delete("task1"))
	_, ok := s.Load("task1")
	assert.False(t, ok)
}

func TestSaveCreatesDirIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "resume")
	s := NewStore(dir)
	_, err := s.Save("task1", Token{Validator: "x", NextOffset: 0})
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
