package diskstore_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/diskstore"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

func TestOpenCreatesDirAndState(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "trail")
	assert.False(t, diskstore.Exist(dir))

	s, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, diskstore.Exist(dir))
	assert.Equal(t, dir, s.Dir())
}

func TestOpenTwiceFromDifferentHandlesConflicts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s1, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)
	defer s1.Close()

	_, err = diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	assert.Error(t, err, "a second Open against the same directory must fail while the first is live")
}

func TestReopenAfterCloseSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s1, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)
	defer s2.Close()
}

func TestReconcileOnBootDeletesOrphanedPartitionsBelowSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)

	p0, err := s.Parts.GetOrCreate(0)
	require.NoError(t, err)
	require.NoError(t, p0.Append(0, entry.Header{}, []byte("a")))
	path0 := p0.Path()

	p1, err := s.Parts.GetOrCreate(4)
	require.NoError(t, err)
	require.NoError(t, p1.Append(4, entry.Header{}, []byte("b")))

	require.NoError(t, snapshotfile.Build(dir, entry.Header{Term: 1}, 3, 1, bytes.NewReader([]byte("snap"))))
	require.NoError(t, s.Close())

	reopened, err := diskstore.Open(diskstore.Config{Dir: dir, RecordsPerPartition: 4})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Parts.Len(), "partition fully below the snapshot index must be detached")

	_, statErr := os.Stat(path0)
	assert.True(t, os.IsNotExist(statErr), "reconcileOnBoot must finish the delete, not just detach")
}
