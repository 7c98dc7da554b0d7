package engine

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/lock"
	"github.com/linka-cloud/audittrail/internal/storage/partitionlist"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

// Commit implements spec.md §4.8 steps 1-4 and 6, plus the Sequential/Foreground compaction
// branches of step 5 (component C9). endIndex, if non-nil, caps the commit target; nil commits
// through lastIndex. It returns the number of newly committed indices.
func (t *Trail) Commit(ctx context.Context, endIndex *uint64) (int, error) {
	if t.isClosed() {
		return 0, audittrailerr.ErrDisposed
	}

	tok, err := t.locks.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return 0, err
	}
	defer tok.Release()

	state := t.store.Nodes.Get()
	target := state.LastLogIndex
	if endIndex != nil && *endIndex < target {
		target = *endIndex
	}
	if target <= state.CommitIndex {
		return 0, nil
	}
	count := int(target - state.CommitIndex)

	if err := t.store.Nodes.SetCommitIndex(target); err != nil {
		return 0, err
	}

	var (
		applyErr    error
		snapshotErr error
		detached    []string
	)

	doApply := func() {
		applyErr = t.applyRange(state.LastApplied+1, target)
	}

	t.mu.Lock()
	snapIndex := t.snapshotIndex
	t.mu.Unlock()
	shouldBuild := t.cfg.CompactionMode != Background && target-snapIndex >= uint64(t.cfg.RecordsPerPartition)

	switch {
	case shouldBuild && t.cfg.CompactionMode == Foreground:
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); doApply() }()
		go func() {
			defer wg.Done()
			d, err := t.buildSnapshot(target)
			snapshotErr = err
			detached = d
		}()
		wg.Wait()
	default:
		doApply()
		if applyErr == nil && shouldBuild {
			d, err := t.buildSnapshot(target)
			snapshotErr = err
			detached = d
		}
	}

	if applyErr != nil {
		return count, applyErr
	}
	if snapshotErr != nil {
		return count, snapshotErr
	}

	t.wait.signal()

	if err := partitionlist.DeleteFiles(detached); err != nil {
		t.cfg.Logger.Warningf("engine: delete detached partitions after compaction: %v", err)
	}

	return count, nil
}

// applyRange applies entries [lo, hi] in order to the state machine, advancing lastApplied and
// lastTerm and evicting cached payloads per the configured policy (spec.md §4.8 step 4).
func (t *Trail) applyRange(lo, hi uint64) error {
	var flushed []uint64
	for i := lo; i <= hi; i++ {
		e, err := t.readLocked(i)
		if err != nil {
			return errors.Wrapf(audittrailerr.ErrMissingPartition, "engine: apply %d: %v", i, err)
		}
		if err := t.sm.Apply(e); err != nil {
			return errors.Wrapf(err, "engine: apply index %d", i)
		}
		if err := t.store.Nodes.SetLastApplied(i); err != nil {
			return err
		}
		t.mu.Lock()
		t.lastTerm = e.Term()
		t.mu.Unlock()
		t.cache.OnCommitted(i)
		flushed = append(flushed, i)
	}
	t.cache.OnFlushed(flushed)
	return nil
}

// buildSnapshot implements spec.md §4.8's buildSnapshot(upTo): fold (snapshot_index, upTo] into
// a new snapshot via the state machine's builder, persist it atomically, and detach (but not yet
// delete) every partition entirely covered by the new snapshot. Used by the Sequential and
// Foreground modes, where the whole fold-write-install sequence runs under the single Exclusive
// acquisition Commit already holds.
func (t *Trail) buildSnapshot(upTo uint64) ([]string, error) {
	term, err := t.foldSnapshot(upTo)
	if err != nil {
		return nil, err
	}
	return t.installSnapshot(upTo, term)
}

// foldSnapshot runs the builder fold and persists "snapshot.new" (spec.md §4.8 steps 1-4's
// write, short of the rename), without touching the canonical snapshot file or the partition
// list. Safe to run under WeakRead.
func (t *Trail) foldSnapshot(upTo uint64) (term uint64, err error) {
	t.mu.Lock()
	if t.compactionBusy {
		t.mu.Unlock()
		return 0, audittrailerr.ErrAlreadySnapshotting
	}
	t.compactionBusy = true
	start := t.snapshotIndex
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.compactionBusy = false
		t.mu.Unlock()
	}()

	if upTo <= start {
		return 0, errors.Wrap(audittrailerr.ErrSnapshotOutOfDate, "engine: buildSnapshot upTo <= snapshot_index")
	}

	builder, buildErr := t.sm.Snapshot()
	if buildErr != nil {
		return 0, errors.Wrap(buildErr, "engine: snapshot builder")
	}
	defer builder.Dispose()

	for i := start + 1; i <= upTo; {
		e, readErr := t.readLocked(i)
		if readErr != nil {
			return 0, readErr
		}
		if applyErr := builder.Apply(e); applyErr != nil {
			return 0, errors.Wrapf(applyErr, "engine: build snapshot apply index %d", i)
		}
		term = e.Term()
		next := builder.AdjustIndex(start+1, upTo, i)
		if next > i && next <= upTo {
			i = next
		} else {
			i++
		}
	}

	pr, pw := io.Pipe()
	var writeErr error
	go func() {
		_, writeErr = builder.WriteTo(pw)
		pw.CloseWithError(writeErr)
	}()

	h := entry.Header{Term: term, IsSnapshot: true}
	if err := snapshotfile.BuildTemp(t.cfg.Dir, h, upTo, term, pr); err != nil {
		return 0, err
	}
	if writeErr != nil {
		return 0, errors.Wrap(writeErr, "engine: snapshot builder WriteTo")
	}
	return term, nil
}

// installSnapshot renames "snapshot.new" over the canonical file and detaches every partition
// entirely covered by upTo. Requires Compaction or Exclusive: it mutates the partition list
// topology and the snapshot pointer (spec.md §5).
func (t *Trail) installSnapshot(upTo, term uint64) ([]string, error) {
	if err := snapshotfile.CommitTemp(t.cfg.Dir); err != nil {
		// A failed rename-over leaves the canonical snapshot in an unknown state: fail fast.
		t.cfg.Logger.Fatal(err)
		return nil, err
	}

	// Detach mutates the partition list's slice/cursor; Foreground mode runs this concurrently
	// with the apply goroutine's readLocked lookups, so it shares partsMu with them.
	t.partsMu.Lock()
	detached, err := t.store.Parts.Detach(upTo + 1)
	t.partsMu.Unlock()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.snapshotIndex = upTo
	t.snapshotTerm = term
	t.mu.Unlock()

	return detached, nil
}

// ForceCompaction runs the Background compaction mode's separate build step (spec.md §4.8's
// "separate forceCompaction(n) call runs under WeakRead (to build) + Compaction (to install)").
// n bounds how many whole partitions worth of committed history to fold in, computed by the
// caller as compactionCount = max(floor((lastApplied-snapshot_index)/R) - 1, 0) per spec §4.8's
// background compaction bound, which leaves at least one whole committed partition between the
// snapshot and the latest applied partition so writers and compaction never touch the same
// partition's list pointers concurrently.
func (t *Trail) ForceCompaction(ctx context.Context, n int) error {
	if t.isClosed() {
		return audittrailerr.ErrDisposed
	}
	if n <= 0 {
		return nil
	}

	readTok, err := t.locks.Acquire(ctx, lock.WeakRead)
	if err != nil {
		return err
	}
	t.mu.Lock()
	snapIndex := t.snapshotIndex
	t.mu.Unlock()
	upTo := snapIndex + uint64(n)*uint64(t.cfg.RecordsPerPartition)
	if la := t.store.Nodes.Get().LastApplied; upTo > la {
		upTo = la
	}
	if upTo <= snapIndex {
		readTok.Release()
		return nil
	}

	// The fold-and-write phase runs under WeakRead: it only reads already-applied entries and
	// writes to the not-yet-canonical "snapshot.new", so readers and writers are not blocked.
	term, err := t.foldSnapshot(upTo)
	readTok.Release()
	if err != nil {
		return err
	}

	// Only the rename-over and partition-list detach need Compaction: a brief exclusion window
	// against other background compactions and tail-rewrite Exclusive acquisitions.
	compactTok, err := t.locks.Acquire(ctx, lock.Compaction)
	if err != nil {
		return err
	}
	detached, err := t.installSnapshot(upTo, term)
	compactTok.Release()
	if err != nil {
		return err
	}

	t.wait.signal()

	if err := partitionlist.DeleteFiles(detached); err != nil {
		t.cfg.Logger.Warningf("engine: delete detached partitions after background compaction: %v", err)
	}
	return nil
}

// CompactionCount computes the background-compaction bound of spec.md §4.8:
// max(floor((lastApplied-snapshot_index)/R) - 1, 0).
func (t *Trail) CompactionCount() int {
	t.mu.Lock()
	snapIndex := t.snapshotIndex
	t.mu.Unlock()
	lastApplied := t.store.Nodes.Get().LastApplied
	if lastApplied <= snapIndex {
		return 0
	}
	n := int((lastApplied-snapIndex)/uint64(t.cfg.RecordsPerPartition)) - 1
	if n < 0 {
		return 0
	}
	return n
}

// InstallSnapshot implements the snapshot install path (spec.md §4.9, component C10).
func (t *Trail) InstallSnapshot(ctx context.Context, snapshotIndex, term uint64, payload io.Reader) error {
	if t.isClosed() {
		return audittrailerr.ErrDisposed
	}

	tok, err := t.locks.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer tok.Release()

	if err := snapshotfile.Install(t.cfg.Dir, payload); err != nil {
		// Install's error covers both writing the temporary file and the rename-over; it is
		// returned to the caller and does not abort the process.
		return err
	}

	state := t.store.Nodes.Get()
	newLastIndex := state.LastLogIndex
	if snapshotIndex > newLastIndex {
		newLastIndex = snapshotIndex
	}
	if err := t.store.Nodes.SetCommitIndex(snapshotIndex); err != nil {
		return err
	}
	if err := t.store.Nodes.SetLastLogIndex(newLastIndex); err != nil {
		return err
	}
	if err := t.store.Nodes.SetLastApplied(snapshotIndex); err != nil {
		return err
	}

	_, footer, rc, err := snapshotfile.Read(t.cfg.Dir)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := t.sm.Restore(rc); err != nil {
		return errors.Wrap(err, "engine: installSnapshot restore")
	}

	t.mu.Lock()
	t.snapshotIndex = footer.Index
	t.snapshotTerm = footer.Term
	t.lastTerm = term
	t.mu.Unlock()

	detached, err := t.store.Parts.Detach(snapshotIndex + 1)
	if err != nil {
		return err
	}

	t.wait.signal()

	if err := partitionlist.DeleteFiles(detached); err != nil {
		t.cfg.Logger.Warningf("engine: delete partitions after snapshot install: %v", err)
	}
	return nil
}

// WaitAny blocks until the next commit advance, or ctx is done.
func (t *Trail) WaitAny(ctx context.Context) bool {
	return t.wait.waitAny(ctx)
}

// WaitForIndex blocks until commitIndex >= target, or ctx is done.
func (t *Trail) WaitForIndex(ctx context.Context, target uint64) bool {
	id := t.wait.nextWaiterID()
	t.cfg.Logger.V(1).Infof("engine: waiter %d waiting for commitIndex >= %d", id, target)
	ok := t.wait.waitForIndex(ctx, target, func() uint64 { return t.store.Nodes.Get().CommitIndex })
	if !ok {
		t.cfg.Logger.V(1).Infof("engine: waiter %d gave up waiting for commitIndex >= %d", id, target)
	}
	return ok
}

// WaitForPredicate blocks until pred() is true over the current node state, or ctx is done.
func (t *Trail) WaitForPredicate(ctx context.Context, pred func(commitIndex, lastApplied, lastIndex uint64) bool) bool {
	return t.wait.waitForPredicate(ctx, func() bool {
		s := t.store.Nodes.Get()
		return pred(s.CommitIndex, s.LastApplied, s.LastLogIndex)
	})
}
