package engine_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
	"github.com/linka-cloud/audittrail/internal/engine"
	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

// fakeStateMachine is a minimal in-memory StateMachine: applied payloads are concatenated in
// order, and a snapshot folds a contiguous run of entries the same way.
type fakeStateMachine struct {
	mu       sync.Mutex
	applied  [][]byte
	restored [][]byte
}

func (f *fakeStateMachine) Apply(e entry.Entry) error {
	p, err := e.Payload()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.applied = append(f.applied, append([]byte(nil), p...))
	f.mu.Unlock()
	return nil
}

func (f *fakeStateMachine) Snapshot() (engine.SnapshotBuilder, error) {
	return &fakeBuilder{}, nil
}

func (f *fakeStateMachine) Restore(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = append(f.restored, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeStateMachine) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

// fakeBuilder folds every applied entry's payload into one concatenated buffer.
type fakeBuilder struct {
	buf      bytes.Buffer
	disposed bool
}

func (b *fakeBuilder) Apply(e entry.Entry) error {
	p, err := e.Payload()
	if err != nil {
		return err
	}
	b.buf.Write(p)
	return nil
}

func (b *fakeBuilder) AdjustIndex(start, end, cursor uint64) uint64 { return cursor }

func (b *fakeBuilder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.buf.Bytes())
	return int64(n), err
}

func (b *fakeBuilder) Dispose() { b.disposed = true }

func openTrail(t *testing.T, sm engine.StateMachine, opts ...engine.Option) *engine.Trail {
	t.Helper()
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir).Apply(opts...)
	tr, err := engine.Open(cfg, sm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func cachedEntries(payloads ...string) []entry.Entry {
	out := make([]entry.Entry, len(payloads))
	for i, p := range payloads {
		out[i] = entry.NewCached(entry.Header{Term: 1, Timestamp: int64(i)}, 0, []byte(p))
	}
	return out
}

func TestReadEmptyLogReturnsInitialEntry(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithReplayOnInitialize(false))

	got, err := tr.Read(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].Term())
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	entries := cachedEntries("a", "b", "c")
	require.NoError(t, tr.Append(ctx, 1, entries, engine.AppendOptions{}))

	got, err := tr.Read(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	p0, err := got[0].Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), p0)

	_, _, lastIndex, _ := tr.State()
	assert.Equal(t, uint64(3), lastIndex)
	assert.Equal(t, uint64(4), tr.TailIndex())
}

func TestAppendRejectsSnapshotEntry(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithReplayOnInitialize(false))

	snap := entry.NewSnapshot(entry.Header{Term: 1}, 1, []byte("x"))
	err := tr.Append(context.Background(), 1, []entry.Entry{snap}, engine.AppendOptions{})
	assert.ErrorIs(t, err, audittrailerr.ErrInvalidAppend)
}

func TestAppendBelowCommitIndexRejectedWithoutSkip(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b"), engine.AppendOptions{}))
	_, err := tr.Commit(ctx, nil)
	require.NoError(t, err)

	err = tr.Append(ctx, 1, cachedEntries("x"), engine.AppendOptions{})
	assert.ErrorIs(t, err, audittrailerr.ErrInvalidAppend)
}

func TestAppendSkipCommittedDropsCommittedPrefix(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b"), engine.AppendOptions{}))
	_, err := tr.Commit(ctx, nil)
	require.NoError(t, err)

	err = tr.Append(ctx, 1, cachedEntries("a", "b", "c"), engine.AppendOptions{SkipCommitted: true})
	require.NoError(t, err)

	_, _, lastIndex, _ := tr.State()
	assert.Equal(t, uint64(3), lastIndex)
}

func TestTailRewriteTruncatesOrphanedSuffix(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(8), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c", "d"), engine.AppendOptions{}))

	// Rewrite from index 2 with a single, shorter entry: index 3 and 4 must be orphaned.
	require.NoError(t, tr.Append(ctx, 2, cachedEntries("B2"), engine.AppendOptions{}))

	_, _, lastIndex, _ := tr.State()
	assert.Equal(t, uint64(2), lastIndex)

	got, err := tr.Read(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	p1, err := got[1].Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte("B2"), p1)
}

func TestCommitAppliesEntriesToStateMachine(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c"), engine.AppendOptions{}))
	n, err := tr.Commit(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, sm.appliedCount())

	commitIndex, lastApplied, _, _ := tr.State()
	assert.Equal(t, uint64(3), commitIndex)
	assert.Equal(t, uint64(3), lastApplied)
}

func TestCommitWithEndIndexCapsTarget(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c"), engine.AppendOptions{}))
	end := uint64(2)
	n, err := tr.Commit(ctx, &end)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	commitIndex, _, _, _ := tr.State()
	assert.Equal(t, uint64(2), commitIndex)
}

func TestSequentialCompactionFoldsAndDetachesFullPartition(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm,
		engine.WithRecordsPerPartition(4),
		engine.WithCompactionMode(engine.Sequential),
		engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c", "d"), engine.AppendOptions{}))
	_, err := tr.Commit(ctx, nil)
	require.NoError(t, err)

	_, _, _, snapIndex := tr.State()
	assert.Equal(t, uint64(4), snapIndex)
	assert.Equal(t, uint64(5), tr.FirstIndex())
}

func TestForegroundCompactionAppliesAndBuildsConcurrently(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm,
		engine.WithRecordsPerPartition(4),
		engine.WithCompactionMode(engine.Foreground),
		engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c", "d"), engine.AppendOptions{}))
	n, err := tr.Commit(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, sm.appliedCount(), "apply must run to completion alongside the concurrent snapshot build")

	_, _, _, snapIndex := tr.State()
	assert.Equal(t, uint64(4), snapIndex, "the concurrent build must still fold through the committed partition")
	assert.Equal(t, uint64(5), tr.FirstIndex())
}

func TestForceCompactionBackgroundMode(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm,
		engine.WithRecordsPerPartition(4),
		engine.WithCompactionMode(engine.Background),
		engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b", "c", "d", "e", "f", "g", "h"), engine.AppendOptions{}))
	_, err := tr.Commit(ctx, nil)
	require.NoError(t, err)

	_, _, _, snapIndexBefore := tr.State()
	assert.Equal(t, uint64(0), snapIndexBefore, "Background mode must not build a snapshot inside Commit")

	n := tr.CompactionCount()
	require.Greater(t, n, 0)

	require.NoError(t, tr.ForceCompaction(ctx, n))

	_, _, _, snapIndexAfter := tr.State()
	assert.Greater(t, snapIndexAfter, uint64(0))
}

func TestInstallSnapshotRestoresStateMachine(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	payload := buildRawSnapshot(t, entry.Header{Term: 2}, 10, 2, []byte("remote state"))
	require.NoError(t, tr.InstallSnapshot(ctx, 10, 2, bytes.NewReader(payload)))

	commitIndex, lastApplied, _, snapIndex := tr.State()
	assert.Equal(t, uint64(10), commitIndex)
	assert.Equal(t, uint64(10), lastApplied)
	assert.Equal(t, uint64(10), snapIndex)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	require.Len(t, sm.restored, 1)
	assert.Equal(t, []byte("remote state"), sm.restored[0])
}

func buildRawSnapshot(t *testing.T, h entry.Header, index, term uint64, payload []byte) []byte {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, snapshotfile.Build(dir, h, index, term, bytes.NewReader(payload)))
	b, err := os.ReadFile(snapshotfile.Path(dir))
	require.NoError(t, err)
	return b
}

func TestWaitForIndexUnblocksOnCommit(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	tr := openTrail(t, sm, engine.WithRecordsPerPartition(4), engine.WithReplayOnInitialize(false))
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, 1, cachedEntries("a", "b"), engine.AppendOptions{}))

	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForIndex(ctx, 2)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := tr.Commit(ctx, nil)
	require.NoError(t, err)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitForIndex never unblocked after Commit")
	}
}

func TestOperationsAfterCloseReturnErrDisposed(t *testing.T) {
	t.Parallel()

	sm := &fakeStateMachine{}
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir).Apply(engine.WithReplayOnInitialize(false))
	tr, err := engine.Open(cfg, sm)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	ctx := context.Background()
	_, err = tr.Read(ctx, 0, 1)
	assert.ErrorIs(t, err, audittrailerr.ErrDisposed)

	err = tr.Append(ctx, 1, cachedEntries("a"), engine.AppendOptions{})
	assert.ErrorIs(t, err, audittrailerr.ErrDisposed)
}
