package snapshotfile_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

func TestExistsFalseBeforeAnyBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.False(t, snapshotfile.Exists(dir))
}

func TestBuildThenRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := entry.Header{Term: 3}
	payload := []byte("folded state")

	require.NoError(t, snapshotfile.Build(dir, h, 42, 3, bytes.NewReader(payload)))
	assert.True(t, snapshotfile.Exists(dir))

	gotH, footer, rc, err := snapshotfile.Read(dir)
	require.NoError(t, err)
	defer rc.Close()

	assert.True(t, gotH.IsSnapshot)
	assert.Equal(t, uint64(42), footer.Index)
	assert.Equal(t, uint64(3), footer.Term)

	gotPayload, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
}

func TestBuildTempDoesNotTouchCanonicalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, snapshotfile.Build(dir, entry.Header{Term: 1}, 10, 1, bytes.NewReader([]byte("v1"))))

	require.NoError(t, snapshotfile.BuildTemp(dir, entry.Header{Term: 2}, 20, 2, bytes.NewReader([]byte("v2"))))

	_, footer, rc, err := snapshotfile.Read(dir)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, uint64(10), footer.Index, "canonical snapshot must be unchanged until CommitTemp")

	_, err = os.Stat(snapshotfile.Path(dir) + ".new")
	assert.NoError(t, err)
}

func TestCommitTempRenamesOverCanonicalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, snapshotfile.Build(dir, entry.Header{Term: 1}, 10, 1, bytes.NewReader([]byte("v1"))))
	require.NoError(t, snapshotfile.BuildTemp(dir, entry.Header{Term: 2}, 20, 2, bytes.NewReader([]byte("v2"))))

	require.NoError(t, snapshotfile.CommitTemp(dir))

	_, footer, rc, err := snapshotfile.Read(dir)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, uint64(20), footer.Index)

	payload, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload)

	_, err = os.Stat(snapshotfile.Path(dir) + ".new")
	assert.True(t, os.IsNotExist(err), "CommitTemp must consume the temp file")
}

func TestCommitTempWithoutPriorBuildFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := snapshotfile.CommitTemp(dir)
	assert.Error(t, err)
}

func TestInstallReplacesSnapshotWithExternalBlob(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blob := bytes.Repeat([]byte{0xAB}, 64)
	require.NoError(t, snapshotfile.Install(dir, bytes.NewReader(blob)))

	got, err := os.ReadFile(snapshotfile.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}
