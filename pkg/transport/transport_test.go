package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	dir := t.TempDir()
	u, err := Parse(filepath.Join(dir, "dump.*.xyz"))
	require.NoError(t, err)
	assert.True(t, IsLocal(u))
	assert.Equal(t, filepath.Join(dir, "dump.*.xyz"), LocalPath(u))

	u, err = Parse("AZBLOB://results/run/dump.0.xyz")
	require.NoError(t, err)
	assert.Equal(t, SchemeAzureBlob, u.Scheme)
	assert.False(t, IsLocal(u))
	assert.Equal(t, "azblob://results/run", Dir(u).String())
	assert.Equal(t, "dump.0.xyz", Base(u))
	assert.Equal(t, "azblob://results/run/dump.7.xyz", Join(Dir(u), "dump.7.xyz").String())

	_, err = Parse("  ")
	assert.Error(t, err)
}

func TestLocalListDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.xyz", "a.xyz"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	u, err := Parse(dir)
	require.NoError(t, err)
	entries, err := Local{}.ListDirectory(context.Background(), u)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
		assert.Equal(t, int64(5), e.Size)
		assert.False(t, e.LastModified.IsZero())
	}
	if diff := cmp.Diff([]string{"a.xyz", "b.xyz"}, names); diff != "" {
		t.Errorf("unexpected listing (-want +got):\n%s", diff)
	}
}

func TestLocalFetchRejectsDirectories(t *testing.T) {
	u, err := Parse(t.TempDir())
	require.NoError(t, err)
	_, err = Local{}.FetchFile(context.Background(), u)
	assert.ErrorContains(t, err, "is a directory")
}
