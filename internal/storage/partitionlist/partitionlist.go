// Package partitionlist maintains the ordered set of open partition files and resolves a log
// index to its covering partition (spec.md §4.3, component C3).
//
// The directory-scan-and-sort approach is grounded on internal/storage/disk/ls.go's list()
// helper, which scans a directory for files matching a suffix and returns them sorted; here the
// same scan seeds an in-memory slice kept sorted by partition number, with a cursor hint so the
// common case (appending to or reading near the last partition) does not rescan from the start.
package partitionlist

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
	"github.com/linka-cloud/audittrail/internal/storage/partition"
)

// List is the sorted, in-memory registry of open partitions for one audit trail instance. It is
// not safe for concurrent use by itself; callers serialize access via internal/lock.
type List struct {
	dir  string
	r    int
	opts []partition.Option

	// parts is kept sorted by Number ascending.
	parts []*partition.Partition
	// cursor is the index into parts last accessed, used to avoid a binary search when access
	// is sequential (the overwhelmingly common case: tailing appends, linear replay).
	cursor int
}

// Scan opens dir and discovers every existing "<number>.partition" file, loading them in
// ascending partition-number order. r is the configured recordsPerPartition; opts (forwarded to
// partition.Open/Create) carries the InitialPartitionSize/WriteThrough knobs.
func Scan(dir string, r int, opts ...partition.Option) (*List, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "partitionlist: read dir %s", dir)
	}
	var numbers []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".partition") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".partition")
		n, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	l := &List{dir: dir, r: r, opts: opts}
	for _, n := range numbers {
		p, err := partition.Open(dir, n, r, opts...)
		if err != nil {
			return nil, err
		}
		l.parts = append(l.parts, p)
	}
	return l, nil
}

// NumberFor returns the partition number covering index, per spec §3.2: p = index / R.
func (l *List) NumberFor(index uint64) int {
	return int(index / uint64(l.r))
}

// TryGet returns the partition covering index if it is already open, without creating it.
func (l *List) TryGet(index uint64) (*partition.Partition, bool) {
	n := l.NumberFor(index)
	return l.find(n)
}

func (l *List) find(n int) (*partition.Partition, bool) {
	if l.cursor >= 0 && l.cursor < len(l.parts) && l.parts[l.cursor].Number == n {
		return l.parts[l.cursor], true
	}
	i := sort.Search(len(l.parts), func(i int) bool { return l.parts[i].Number >= n })
	if i < len(l.parts) && l.parts[i].Number == n {
		l.cursor = i
		return l.parts[i], true
	}
	return nil, false
}

// GetOrCreate returns the partition covering index, creating and inserting a new one on a
// partition boundary if it does not exist yet, per spec §4.3's "create on first write past the
// boundary" rule.
func (l *List) GetOrCreate(index uint64) (*partition.Partition, error) {
	n := l.NumberFor(index)
	if p, ok := l.find(n); ok {
		return p, nil
	}
	p, err := partition.Create(l.dir, n, l.r, l.opts...)
	if err != nil {
		return nil, err
	}
	l.insert(p)
	return p, nil
}

func (l *List) insert(p *partition.Partition) {
	i := sort.Search(len(l.parts), func(i int) bool { return l.parts[i].Number >= p.Number })
	l.parts = append(l.parts, nil)
	copy(l.parts[i+1:], l.parts[i:])
	l.parts[i] = p
	l.cursor = i
}

// First returns the lowest-numbered open partition, or ok=false if none are open.
func (l *List) First() (*partition.Partition, bool) {
	if len(l.parts) == 0 {
		return nil, false
	}
	return l.parts[0], true
}

// Last returns the highest-numbered open partition, or ok=false if none are open.
func (l *List) Last() (*partition.Partition, bool) {
	if len(l.parts) == 0 {
		return nil, false
	}
	return l.parts[len(l.parts)-1], true
}

// Detach unlinks every partition whose entire index range is strictly below upToIndex
// (exclusive) from the list and closes its file handle, but does not delete the file: spec §4.2
// requires "deletion of the unlinked files happens after the relevant lock is released", so the
// caller must pass the returned paths to DeleteFiles once it has released the lock held during
// Detach.
func (l *List) Detach(upToIndex uint64) ([]string, error) {
	var detached []string
	keep := l.parts[:0:0]
	for _, p := range l.parts {
		last := uint64(p.Number)*uint64(l.r) + uint64(l.r) - 1
		if last < upToIndex {
			path := p.Path()
			if err := p.Close(); err != nil {
				return detached, err
			}
			detached = append(detached, path)
			continue
		}
		keep = append(keep, p)
	}
	l.parts = keep
	l.cursor = 0
	return detached, nil
}

// DeleteFiles removes the given partition files from disk. Callers invoke this only after
// releasing the lock that was held during the corresponding Detach call.
func DeleteFiles(paths []string) error {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "partitionlist: delete %s", path)
		}
	}
	return nil
}

// Len reports the number of currently open partitions.
func (l *List) Len() int { return len(l.parts) }

// Path exposes the partition directory, used by snapshotfile/diskstore when composing sibling
// paths.
func (l *List) Path() string { return l.dir }

// CloseAll closes every open partition file without removing it.
func (l *List) CloseAll() error {
	for _, p := range l.parts {
		if err := p.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoPartition is returned when a committed index has no covering partition, the
// state-corruption case spec.md §7 designates fail-fast.
var ErrNoPartition = audittrailerr.ErrMissingPartition
