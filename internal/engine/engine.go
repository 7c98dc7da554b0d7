// Package engine implements the append path (C8), the commit + apply + compaction pipeline (C9)
// and the snapshot install path (C10) of spec.md §4.7-§4.9 on top of the lower-level storage
// packages (nodestate, partition, partitionlist, snapshotfile, session, entrycache) and the
// lock manager.
//
// The overall shape - a struct owning the storage layer plus injected collaborators, exposing
// blocking operations that suspend at I/O and lock-acquisition points - follows
// internal/raftengine/engine.go's engine type, generalized from Raft's Ready-loop model (which
// does not apply here: this module has no leader election or replication of its own) to a
// direct request/response API a transport collaborator calls into synchronously.
package engine

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/lock"
	"github.com/linka-cloud/audittrail/internal/storage/diskstore"
	"github.com/linka-cloud/audittrail/internal/storage/entrycache"
	"github.com/linka-cloud/audittrail/internal/storage/session"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

// AppendOptions configures a single Append call.
type AppendOptions struct {
	// SkipCommitted allows the call to silently drop the prefix of entries that is already
	// committed instead of returning ErrInvalidAppend, the translation receiveEntries performs
	// per spec.md §6.
	SkipCommitted bool
	// Cache keeps each appended entry's payload resident in the entry cache for fast commit,
	// per spec.md §4.7's caching path.
	Cache bool
}

// Trail is the audit-trail log storage engine: the concrete type backing this module's public
// API, wiring together every component named C1-C11.
type Trail struct {
	cfg   Config
	store *diskstore.Store
	locks *lock.Manager
	sess  *session.Pool
	cache *entrycache.Cache
	wait  *commitWait

	sm StateMachine

	mu             sync.Mutex // guards snapshotIndex/snapshotTerm/lastTerm bookkeeping below
	snapshotIndex  uint64
	snapshotTerm   uint64
	lastTerm       uint64
	compactionBusy bool

	// partsMu serializes lookups against store.Parts (partitionlist.List, itself documented as
	// not safe for concurrent use). Commit's Foreground mode runs apply and snapshot-build in
	// parallel under the same Exclusive token, and both read entries via readLocked, so the
	// lock manager's mutual exclusion alone does not prevent them from touching the list's
	// cursor/slice at the same time.
	partsMu sync.Mutex

	closed bool
}

// Open boots the storage layer under cfg.Dir and returns a ready Trail bound to sm. If
// cfg.ReplayOnInitialize is set, every already-committed entry is re-applied to sm before Open
// returns, satisfying invariant 6 of spec.md §8.
func Open(cfg Config, sm StateMachine) (*Trail, error) {
	store, err := diskstore.Open(diskstore.Config{
		Dir:                  cfg.Dir,
		RecordsPerPartition:  cfg.RecordsPerPartition,
		InitialPartitionSize: cfg.InitialPartitionSize,
		WriteThrough:         cfg.WriteThrough,
	})
	if err != nil {
		return nil, err
	}

	cache, err := entrycache.New(entrycache.Config{Policy: cfg.CacheEvictionPolicy})
	if err != nil {
		store.Close()
		return nil, err
	}

	t := &Trail{
		cfg:   cfg,
		store: store,
		locks: lock.New(),
		sess:  session.New(cfg.MaxConcurrentReads, cfg.BufferSize),
		cache: cache,
		wait:  newCommitWait(cfg.MemberID),
		sm:    sm,
	}

	if snapshotfile.Exists(cfg.Dir) {
		_, footer, rc, err := snapshotfile.Read(cfg.Dir)
		if err != nil {
			store.Close()
			return nil, err
		}
		rc.Close()
		t.snapshotIndex = footer.Index
		t.snapshotTerm = footer.Term
	}

	state := store.Nodes.Get()
	t.lastTerm = state.Term

	if cfg.ReplayOnInitialize {
		if err := t.replay(); err != nil {
			store.Close()
			return nil, err
		}
	}

	return t, nil
}

func (t *Trail) replay() error {
	if snapshotfile.Exists(t.cfg.Dir) {
		_, _, rc, err := snapshotfile.Read(t.cfg.Dir)
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := t.sm.Restore(rc); err != nil {
			return errors.Wrap(err, "engine: replay restore from snapshot")
		}
	}
	state := t.store.Nodes.Get()
	for i := t.snapshotIndex + 1; i <= state.CommitIndex; i++ {
		e, err := t.readLocked(i)
		if err != nil {
			return err
		}
		if err := t.sm.Apply(e); err != nil {
			return errors.Wrapf(err, "engine: replay apply index %d", i)
		}
	}
	if state.CommitIndex > state.LastApplied {
		if err := t.store.Nodes.SetLastApplied(state.CommitIndex); err != nil {
			return err
		}
	}
	return nil
}

// FirstIndex returns snapshot_index + 1 if a snapshot is present, else 0, per spec.md §3.5.
func (t *Trail) FirstIndex() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshotIndex == 0 {
		return 0
	}
	return t.snapshotIndex + 1
}

// TailIndex returns lastIndex + 1, the next writable index.
func (t *Trail) TailIndex() uint64 {
	return t.store.Nodes.Get().LastLogIndex + 1
}

// State returns the current node-state snapshot.
func (t *Trail) State() (commitIndex, lastApplied, lastIndex, snapshotIndex uint64) {
	s := t.store.Nodes.Get()
	t.mu.Lock()
	si := t.snapshotIndex
	t.mu.Unlock()
	return s.CommitIndex, s.LastApplied, s.LastLogIndex, si
}

// Append implements the append path (spec.md §4.7, component C8).
func (t *Trail) Append(ctx context.Context, startIndex uint64, entries []entry.Entry, opts AppendOptions) error {
	if t.isClosed() {
		return audittrailerr.ErrDisposed
	}
	for _, e := range entries {
		if e.IsSnapshot() {
			return errors.Wrap(audittrailerr.ErrInvalidAppend, "engine: snapshot entry passed to Append")
		}
	}

	state := t.store.Nodes.Get()
	if startIndex <= state.CommitIndex {
		if !opts.SkipCommitted {
			return errors.Wrapf(audittrailerr.ErrInvalidAppend, "engine: append at %d <= commitIndex %d", startIndex, state.CommitIndex)
		}
		skip := state.CommitIndex + 1 - startIndex
		if skip >= uint64(len(entries)) {
			return nil
		}
		entries = entries[skip:]
		startIndex = state.CommitIndex + 1
	}
	if len(entries) == 0 {
		return nil
	}

	tailIndex := state.LastLogIndex + 1
	tailRewrite := startIndex != tailIndex

	tok, err := t.locks.Acquire(ctx, lock.Write)
	if err != nil {
		return err
	}
	if tailRewrite {
		if err := tok.Upgrade(ctx); err != nil {
			tok.Release()
			return err
		}
	}
	defer tok.Release()

	oldLastIndex := t.store.Nodes.Get().LastLogIndex
	newLastIndex := startIndex + uint64(len(entries)) - 1

	// A tail rewrite must clear every slot it overlaps with before rewriting it: partition
	// slots are write-once, so the old occupant at startIndex..oldLastIndex has to be zeroed
	// first, not just the suffix the new entries don't reach.
	if tailRewrite && startIndex <= oldLastIndex {
		if err := t.zeroOrphaned(startIndex, oldLastIndex); err != nil {
			return err
		}
	}

	touched := map[int]struct{}{}
	for i, e := range entries {
		index := startIndex + uint64(i)
		p, err := t.store.Parts.GetOrCreate(index)
		if err != nil {
			return err
		}
		if err := p.Append(index, e.Header, payloadOf(e)); err != nil {
			return err
		}
		if opts.Cache {
			t.cache.Put(entry.NewCached(e.Header, index, payloadOf(e)))
		}
		touched[p.Number] = struct{}{}
	}

	for n := range touched {
		if p, ok := t.store.Parts.TryGet(uint64(n) * uint64(t.cfg.RecordsPerPartition)); ok {
			if err := p.Flush(); err != nil {
				return err
			}
		}
	}

	if err := t.store.Nodes.SetLastLogIndex(newLastIndex); err != nil {
		return err
	}
	return nil
}

func payloadOf(e entry.Entry) []byte {
	p, _ := e.Payload()
	return p
}

// zeroOrphaned zeroes the offset slots for [from, to] across every covering partition, per the
// "prefer zeroing orphaned slots" open-question decision (DESIGN.md), and drops any cached
// payload in that range so a later read can never return a stale cache hit for a slot that has
// since been overwritten or orphaned.
func (t *Trail) zeroOrphaned(from, to uint64) error {
	r := uint64(t.cfg.RecordsPerPartition)
	for i := from; i <= to; i++ {
		t.cache.Evict(i)
	}
	for idx := from; idx <= to; {
		pBase := (idx / r) * r
		pEnd := pBase + r - 1
		if p, ok := t.store.Parts.TryGet(idx); ok {
			if err := p.TruncateAfter(idx); err != nil {
				return err
			}
		}
		idx = pEnd + 1
	}
	return nil
}

// readLocked reads entry i without acquiring a lock; callers must already hold WeakRead,
// Write, Compaction or Exclusive, or be single-threaded (boot replay).
func (t *Trail) readLocked(i uint64) (entry.Entry, error) {
	t.mu.Lock()
	snapIndex := t.snapshotIndex
	t.mu.Unlock()

	if i == 0 {
		return entry.NewInitial(), nil
	}
	if snapIndex > 0 && i <= snapIndex {
		_, footer, rc, err := snapshotfile.Read(t.cfg.Dir)
		if err != nil {
			return entry.Entry{}, err
		}
		defer rc.Close()
		payload, err := io.ReadAll(rc)
		if err != nil {
			return entry.Entry{}, errors.Wrap(err, "engine: read snapshot payload")
		}
		h := entry.Header{Term: footer.Term, IsSnapshot: true, Length: uint64(len(payload))}
		return entry.NewSnapshot(h, footer.Index, payload), nil
	}

	if e, ok := t.cache.Get(i); ok {
		return e, nil
	}

	t.partsMu.Lock()
	p, err := t.store.Parts.GetOrCreate(i)
	t.partsMu.Unlock()
	if err != nil {
		return entry.Entry{}, err
	}
	sess, err := t.sess.Acquire(context.Background())
	if err != nil {
		return entry.Entry{}, err
	}
	defer t.sess.Release(sess)
	h, payload, err := p.Read(i, sess.Buf)
	if err != nil {
		return entry.Entry{}, err
	}
	return entry.NewPartitioned(h, i, append([]byte(nil), payload...)), nil
}

// Read returns the entries in [lo, hi] under WeakRead, satisfying spec.md §8's read-isolation
// and empty-log invariants.
func (t *Trail) Read(ctx context.Context, lo, hi uint64) ([]entry.Entry, error) {
	if t.isClosed() {
		return nil, audittrailerr.ErrDisposed
	}
	if hi < lo {
		return nil, audittrailerr.ErrInvalidIndex
	}
	if hi-lo+1 > 1<<31 {
		return nil, audittrailerr.ErrRangeTooBig
	}
	if lo == 0 && hi == 0 {
		return []entry.Entry{entry.NewInitial()}, nil
	}

	tok, err := t.locks.Acquire(ctx, lock.WeakRead)
	if err != nil {
		return nil, err
	}
	defer tok.Release()

	lastIndex := t.store.Nodes.Get().LastLogIndex
	if lastIndex == 0 {
		return nil, nil
	}
	if hi > lastIndex {
		hi = lastIndex
	}

	var out []entry.Entry
	for i := lo; i <= hi; i++ {
		e, err := t.readLocked(i)
		if err != nil {
			return out, err
		}
		out = append(out, e)
		if e.IsSnapshot() {
			break
		}
	}
	return out, nil
}

func (t *Trail) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases the storage layer. Outstanding operations are not interrupted; callers should
// cancel their contexts first.
func (t *Trail) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cache.Close()
	return t.store.Close()
}
