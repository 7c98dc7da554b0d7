// Package audittrailerr defines the error categories shared across the audit-trail engine.
//
// Errors are modeled as sentinel values wrapped with github.com/pkg/errors at the point they
// occur, so a caller debugging a failure sees both the category (via errors.Is) and the call
// chain that produced it.
package audittrailerr

import "github.com/pkg/errors"

var (
	// ErrInvalidIndex is returned when a read, append or commit names an index outside the
	// allowed range for the operation.
	ErrInvalidIndex = errors.New("audittrail: invalid index")

	// ErrInvalidAppend is returned when an append targets an already-committed index without
	// opting into skipping committed suffixes, or when a snapshot entry is passed to the
	// regular append path.
	ErrInvalidAppend = errors.New("audittrail: invalid append")

	// ErrMissingPartition indicates commit/apply found no partition for a committed index.
	// This is the state-corruption case and callers should treat it as fatal.
	ErrMissingPartition = errors.New("audittrail: missing partition for committed index")

	// ErrReadTwice is returned when a stream-bound entry's payload is consumed more than once.
	ErrReadTwice = errors.New("audittrail: log entry payload already consumed")

	// ErrRangeTooBig is returned when a single read spans more than 2^31 entries.
	ErrRangeTooBig = errors.New("audittrail: requested range too large")

	// ErrDisposed is returned by any operation invoked after Close/Shutdown.
	ErrDisposed = errors.New("audittrail: audit trail is closed")

	// ErrAlreadySnapshotting indicates a snapshot build is already in progress.
	ErrAlreadySnapshotting = errors.New("audittrail: snapshot build already in progress")

	// ErrSnapshotOutOfDate indicates a requested snapshot index precedes the current
	// firstIndex; the snapshot would be redundant.
	ErrSnapshotOutOfDate = errors.New("audittrail: snapshot index precedes current first index")
)

// IsFatal reports whether err is the state-corruption category: a missing partition for an
// already-committed index. Every other sentinel is recoverable and returned to the caller
// untouched. A failed snapshot rename-over carries no sentinel and is not reported by IsFatal;
// on the compaction path the engine aborts the process there instead.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingPartition)
}
