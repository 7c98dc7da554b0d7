// Package audittrail is a persistent, partitioned, append-only log store for use as the
// replicated log beneath a Raft consensus implementation: entries are appended, committed,
// applied to an embedder-provided state machine, read back by index range, periodically folded
// into a snapshot to bound disk usage, and may receive a full snapshot installed from a leader.
//
// This package is a thin facade over internal/engine, the way the teacher's top-level raft
// package is a facade over internal/raftengine: Open wires the embedder's StateMachine into an
// engine.Trail configured from Options, and the exported methods forward to it one-to-one.
package audittrail

import (
	"context"
	"io"

	"github.com/linka-cloud/audittrail/internal/engine"
	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/entrycache"
)

// Entry is the unit the log stores and returns; an alias so callers never import internal/entry
// directly.
type Entry = entry.Entry

// Header is an entry's fixed metadata; an alias for the same reason as Entry.
type Header = entry.Header

// NewEntry constructs a log-position entry (not a snapshot) ready to append.
func NewEntry(term uint64, timestamp int64, commandID uint32, hasCommandID bool, payload []byte) Entry {
	h := Header{Term: term, Timestamp: timestamp, CommandID: commandID, HasCommandID: hasCommandID}
	return entry.NewCached(h, 0, payload)
}

// StateMachine is the embedder's apply target. See engine.StateMachine for the full contract.
type StateMachine = engine.StateMachine

// SnapshotBuilder folds committed entries into a snapshot payload. See engine.SnapshotBuilder.
type SnapshotBuilder = engine.SnapshotBuilder

// Transport is the narrow adapter an RPC handler calls into. See engine.Transport.
type Transport = engine.Transport

// CompactionMode selects the compaction strategy (spec.md §4.8 / §6).
type CompactionMode = engine.CompactionMode

const (
	Sequential = engine.Sequential
	Foreground = engine.Foreground
	Background = engine.Background
)

// EvictionPolicy selects when a cached uncommitted payload may be dropped.
type EvictionPolicy = entrycache.EvictionPolicy

const (
	OnCommit = entrycache.OnCommit
	OnFlush  = entrycache.OnFlush
)

// Option configures a Trail at Open time.
type Option = engine.Option

var (
	WithRecordsPerPartition  = engine.WithRecordsPerPartition
	WithBufferSize           = engine.WithBufferSize
	WithSnapshotBufferSize   = engine.WithSnapshotBufferSize
	WithInitialPartitionSize = engine.WithInitialPartitionSize
	WithMaxConcurrentReads   = engine.WithMaxConcurrentReads
	WithWriteThrough         = engine.WithWriteThrough
	WithCompactionMode       = engine.WithCompactionMode
	WithCacheEvictionPolicy  = engine.WithCacheEvictionPolicy
	WithReplayOnInitialize   = engine.WithReplayOnInitialize
	WithMaxSnapshotFiles     = engine.WithMaxSnapshotFiles
	WithLogger               = engine.WithLogger
	WithMemberID             = engine.WithMemberID
)

// AppendOptions configures a single Append call. See engine.AppendOptions.
type AppendOptions = engine.AppendOptions

// Trail is a handle to one audit-trail log store directory.
type Trail struct {
	eng *engine.Trail
}

// Open boots (or recovers) the audit trail under dir, bound to sm, applying opts over
// engine.DefaultConfig(dir).
func Open(dir string, sm StateMachine, opts ...Option) (*Trail, error) {
	cfg := engine.DefaultConfig(dir).Apply(opts...)
	eng, err := engine.Open(cfg, sm)
	if err != nil {
		return nil, err
	}
	return &Trail{eng: eng}, nil
}

// Append places entries starting at startIndex (spec.md §4.7, component C8).
func (t *Trail) Append(ctx context.Context, startIndex uint64, entries []Entry, opts AppendOptions) error {
	return t.eng.Append(ctx, startIndex, entries, opts)
}

// Read returns the entries in [lo, hi] (spec.md §8's read-isolation and empty-log invariants).
func (t *Trail) Read(ctx context.Context, lo, hi uint64) ([]Entry, error) {
	return t.eng.Read(ctx, lo, hi)
}

// Commit advances the commit index, applies newly committed entries, and runs Sequential or
// Foreground compaction as configured (spec.md §4.8, component C9). endIndex, if non-nil, caps
// the commit target.
func (t *Trail) Commit(ctx context.Context, endIndex *uint64) (int, error) {
	return t.eng.Commit(ctx, endIndex)
}

// ForceCompaction runs the Background compaction mode's separate build step, folding up to n
// whole partitions worth of committed history into the snapshot. Use Trail.CompactionCount to
// compute a safe n per spec.md §4.8's background compaction bound.
func (t *Trail) ForceCompaction(ctx context.Context, n int) error {
	return t.eng.ForceCompaction(ctx, n)
}

// CompactionCount computes max(floor((lastApplied-snapshot_index)/R) - 1, 0), the bound that
// leaves at least one whole committed partition between the snapshot and the latest applied
// partition during Background compaction.
func (t *Trail) CompactionCount() int {
	return t.eng.CompactionCount()
}

// InstallSnapshot receives and installs a remote snapshot covering indices <= snapshotIndex
// (spec.md §4.9, component C10).
func (t *Trail) InstallSnapshot(ctx context.Context, snapshotIndex, term uint64, payload io.Reader) error {
	return t.eng.InstallSnapshot(ctx, snapshotIndex, term, payload)
}

// WaitAny blocks until the next commit advance, or ctx is done (spec.md §4.10, component C11).
func (t *Trail) WaitAny(ctx context.Context) bool {
	return t.eng.WaitAny(ctx)
}

// WaitForIndex blocks until commitIndex >= target, or ctx is done.
func (t *Trail) WaitForIndex(ctx context.Context, target uint64) bool {
	return t.eng.WaitForIndex(ctx, target)
}

// WaitForPredicate blocks until pred is true over the current (commitIndex, lastApplied,
// lastIndex), or ctx is done.
func (t *Trail) WaitForPredicate(ctx context.Context, pred func(commitIndex, lastApplied, lastIndex uint64) bool) bool {
	return t.eng.WaitForPredicate(ctx, pred)
}

// FirstIndex returns snapshot_index + 1 if a snapshot is present, else 0 (spec.md §3.5).
func (t *Trail) FirstIndex() uint64 {
	return t.eng.FirstIndex()
}

// TailIndex returns lastIndex + 1, the next writable index.
func (t *Trail) TailIndex() uint64 {
	return t.eng.TailIndex()
}

// State returns the current (commitIndex, lastApplied, lastIndex, snapshotIndex).
func (t *Trail) State() (commitIndex, lastApplied, lastIndex, snapshotIndex uint64) {
	return t.eng.State()
}

// Close releases the directory lock and all open file handles.
func (t *Trail) Close() error {
	return t.eng.Close()
}
