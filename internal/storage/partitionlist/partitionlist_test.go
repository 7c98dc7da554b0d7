package partitionlist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/partitionlist"
)

func TestScanEmptyDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := partitionlist.Scan(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	_, ok := l.First()
	assert.False(t, ok)
}

func TestGetOrCreateThenFind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := partitionlist.Scan(dir, 4)
	require.NoError(t, err)

	p, err := l.GetOrCreate(5)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Number)

	again, ok := l.TryGet(6)
	require.True(t, ok)
	assert.Same(t, p, again)

	_, ok = l.TryGet(20)
	assert.False(t, ok)
}

func TestScanDiscoversExistingPartitionsSorted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seed, err := partitionlist.Scan(dir, 4)
	require.NoError(t, err)
	_, err = seed.GetOrCreate(0)
	require.NoError(t, err)
	_, err = seed.GetOrCreate(8)
	require.NoError(t, err)
	_, err = seed.GetOrCreate(4)
	require.NoError(t, err)
	require.NoError(t, seed.CloseAll())

	rescanned, err := partitionlist.Scan(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, rescanned.Len())

	first, ok := rescanned.First()
	require.True(t, ok)
	assert.Equal(t, 0, first.Number)

	last, ok := rescanned.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Number)
}

func TestDetachDoesNotDeleteFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := partitionlist.Scan(dir, 4)
	require.NoError(t, err)

	p0, err := l.GetOrCreate(0)
	require.NoError(t, err)
	require.NoError(t, p0.Append(0, entry.Header{}, []byte("a")))
	path0 := p0.Path()

	p1, err := l.GetOrCreate(4)
	require.NoError(t, err)
	require.NoError(t, p1.Append(4, entry.Header{}, []byte("b")))

	detached, err := l.Detach(4)
	require.NoError(t, err)
	require.Len(t, detached, 1)
	assert.Equal(t, path0, detached[0])
	assert.Equal(t, 1, l.Len())

	_, err = os.Stat(path0)
	assert.NoError(t, err, "Detach must leave the file on disk until DeleteFiles is called")

	require.NoError(t, partitionlist.DeleteFiles(detached))
	_, err = os.Stat(path0)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteFilesIsIdempotentForMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := partitionlist.DeleteFiles([]string{filepath.Join(dir, "does-not-exist.partition")})
	assert.NoError(t, err)
}
