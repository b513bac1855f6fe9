package imagestore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampwatch/lampwatch/internal/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "captures"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveNaming(t *testing.T) {
	s := newStore(t)
	s.now = func() time.Time { return time.Date(2025, 11, 12, 10, 0, 0, 0, time.Local) }

	name, err := s.Save([]byte("jpeg bytes"), true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "DETECTED_20251112100000_"), name)
	assert.True(t, ValidName(name))

	name, err = s.Save([]byte("jpeg bytes"), false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "20251112100000_"), name)
	assert.True(t, ValidName(name))
}

func TestSaveRoundTrip(t *testing.T) {
	s := newStore(t)
	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}

	name, err := s.Save(raw, false)
	require.NoError(t, err)

	f, err := s.Open(name)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	assert.FileExists(t, filepath.Join(s.Dir(), name))
}

func TestSaveSameSecondGivesDistinctNames(t *testing.T) {
	s := newStore(t)
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	const n = 50
	names := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := s.Save([]byte("x"), true)
			assert.NoError(t, err)
			names <- name
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for name := range names {
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
	assert.Len(t, seen, n)
}

func TestOpenValidation(t *testing.T) {
	s := newStore(t)

	for _, name := range []string{"../etc/passwd", "a/b.jpg", "", "..", "20251112100000_sample.jpg"} {
		_, err := s.Open(name)
		require.Error(t, err, name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), name)
	}

	_, err := s.Open("DETECTED_20251112100000_deadbeef.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestNewFailsOnUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.MkdirAll(dir, 0o500))

	_, err := New(dir)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestNewFailsWhenPathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(file)
	require.Error(t, err)
}

func TestSaveFailureLeavesNoFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.root.Close())

	_, err := s.Save([]byte("data"), true)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFreeBytes(t *testing.T) {
	s := newStore(t)
	free, err := s.FreeBytes()
	require.NoError(t, err)
	assert.Positive(t, free)
}
