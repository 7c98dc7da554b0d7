// Package diskstore wires nodestate (C1), partition/partitionlist (C2/C3) and snapshotfile (C4)
// into a single on-disk store for one audit trail instance, the role
// internal/storage/disk/disk.go plays over raftwal.DiskStorage in the teacher: a thin struct
// that owns the directory, boots its sub-stores, and exposes the directory-wide operations
// (Boot, Exist, Close, purge/retention) the rest of disk.go's disk type implements.
package diskstore

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"

	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/storage/nodestate"
	"github.com/linka-cloud/audittrail/internal/storage/partition"
	"github.com/linka-cloud/audittrail/internal/storage/partitionlist"
	"github.com/linka-cloud/audittrail/internal/storage/snapshotfile"
)

const lockFileName = "LOCK"

// Config is the subset of the top-level Options this package consumes to boot.
type Config struct {
	Dir                 string
	RecordsPerPartition int

	// InitialPartitionSize preallocates this many extra payload bytes on every newly created
	// partition file (spec.md §6); 0 disables preallocation.
	InitialPartitionSize int64
	// WriteThrough opens every partition file for synchronous writes (spec.md §4.1/§6).
	WriteThrough bool
}

// Store owns the directory lock, node state, partition list and snapshot file for one audit
// trail instance.
type Store struct {
	dir string

	lock  *fileLock
	Nodes *nodestate.Store
	Parts *partitionlist.List

	r int
}

type fileLock struct {
	f *os.File
}

// Open acquires the directory-ownership lock (spec.md §1: one process owns the directory for its
// lifetime) and boots the node-state store and partition list, creating the directory if it does
// not already exist. Grounded on disk.go's Boot, which creates snapdir/waldir on first use and
// otherwise re-opens the existing on-disk state.
func Open(cfg Config) (*Store, error) {
	if !fileutil.Exist(cfg.Dir) {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "diskstore: create dir %s", cfg.Dir)
		}
	}

	lockPath := filepath.Join(cfg.Dir, lockFileName)
	flock, err := fileutil.TryLockFile(lockPath, os.O_RDWR|os.O_CREATE, fileutil.PrivateFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "diskstore: directory %s already owned by another process", cfg.Dir)
	}

	nodes, err := nodestate.Open(cfg.Dir)
	if err != nil {
		flock.Close()
		return nil, err
	}

	partOpts := []partition.Option{
		partition.WithInitialSize(cfg.InitialPartitionSize),
		partition.WithWriteThrough(cfg.WriteThrough),
	}
	parts, err := partitionlist.Scan(cfg.Dir, cfg.RecordsPerPartition, partOpts...)
	if err != nil {
		nodes.Close()
		flock.Close()
		return nil, err
	}

	s := &Store{
		dir:   cfg.Dir,
		lock:  &fileLock{f: flock.File},
		Nodes: nodes,
		Parts: parts,
		r:     cfg.RecordsPerPartition,
	}

	if err := s.reconcileOnBoot(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// reconcileOnBoot deletes any partition file whose entire index range falls below the loaded
// snapshot index, recovering from a crash between detach and delete in the compaction pipeline
// (spec.md §4.8). Grounded on disk.go's purge(), which performs the equivalent reconciliation for
// the teacher's snap/wal directory pair on every SaveSnapshot.
func (s *Store) reconcileOnBoot() error {
	if !snapshotfile.Exists(s.dir) {
		return nil
	}
	_, footer, rc, err := snapshotfile.Read(s.dir)
	if err != nil {
		return err
	}
	rc.Close()

	detached, err := s.Parts.Detach(footer.Index + 1)
	if err != nil {
		return err
	}
	if err := partitionlist.DeleteFiles(detached); err != nil {
		return err
	}
	for _, path := range detached {
		glog.Infof("diskstore: reconciled orphaned partition %s below snapshot index %d", path, footer.Index)
	}
	return nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Exist reports whether the directory already held state prior to this Open call by checking
// for the node-state file, mirroring disk.go's Exist().
func Exist(dir string) bool {
	return fileutil.Exist(filepath.Join(dir, "nodestate"))
}

// Close releases the directory lock and closes the node-state and partition files.
func (s *Store) Close() error {
	var firstErr error
	if err := s.Parts.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Nodes.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.lock != nil {
		if err := s.lock.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(filepath.Join(s.dir, lockFileName))
	}
	return firstErr
}
