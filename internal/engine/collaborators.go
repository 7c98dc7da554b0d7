package engine

import (
	"io"

	"github.com/linka-cloud/audittrail/internal/entry"
)

// StateMachine is the embedder-provided apply target (spec.md §6's "state machine apply"
// collaborator). The core invokes Apply once per newly committed index in increasing order.
// Under crash recovery with replayOnInitialize, Apply may be invoked again for entries already
// applied before the crash, so implementations must be idempotent with respect to re-application
// from a clean restart.
type StateMachine interface {
	Apply(e entry.Entry) error

	// Snapshot returns a SnapshotBuilder seeded from the state machine's current state, used to
	// fold the committed range (snapshot_index, upTo] into a new snapshot payload.
	Snapshot() (SnapshotBuilder, error)

	// Restore replaces the state machine's entire state from a previously written snapshot
	// payload, used by the install path (C10) and by replay on initialize.
	Restore(r io.Reader) error
}

// SnapshotBuilder folds a committed entry range into a snapshot payload (spec.md §6's "snapshot
// builder" collaborator, §4.8's buildSnapshot).
type SnapshotBuilder interface {
	// Apply folds one entry into the builder's accumulated state.
	Apply(e entry.Entry) error

	// AdjustIndex lets the builder advance cursor past a subrange it already accounts for
	// (e.g. overwritten keys), while the caller keeps iteration within [start, end].
	AdjustIndex(start, end, cursor uint64) uint64

	// WriteTo serializes the accumulated state as the snapshot payload.
	WriteTo(w io.Writer) (int64, error)

	// Dispose releases any resources held by the builder.
	Dispose()
}

// Transport is the narrow adapter the RPC handler collaborator calls into (spec.md §6). Only
// ReceiveEntries and ReceiveSnapshot interact with the log core; receiveVote/resign are entirely
// out of scope here.
type Transport interface {
	// ReceiveEntries appends a batch of entries starting at startIndex, skipping any prefix
	// already committed (translates to append(producer, startIndex, skipCommitted=true)).
	ReceiveEntries(startIndex uint64, entries []entry.Entry) error

	// ReceiveSnapshot installs a remote snapshot covering indices <= snapshotIndex.
	ReceiveSnapshot(snapshotIndex, term uint64, payload io.Reader) error
}
