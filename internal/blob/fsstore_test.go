package blob

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.tar.gz", []byte("archive")))

	got, err := s.Get(ctx, "a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("archive"), got)

	require.NoError(t, s.Delete(ctx, "a.tar.gz"))

	_, err = s.Get(ctx, "a.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a.tar.gz"), ErrNotFound)
}

func TestFSStore_OverwriteIsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.tar.gz", []byte("v1")))
	require.NoError(t, s.Put(ctx, "a.tar.gz", []byte("v2")))

	got, err := s.Get(ctx, "a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".put-"), "leftover temp file %s", e.Name())
	}
}

func TestFSStore_RejectsPathKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "a/b", `a\b`, "..", "."} {
		assert.Error(t, s.Put(ctx, key, []byte("x")), "key %q", key)
	}
}
