// Package partition implements the on-disk partition file described by spec.md §3.2 and §4.2
// (component C2): a fixed-size header array of R uint64 payload offsets followed by an
// append-only payload region, one offset slot per log index covered by the partition.
//
// The layout is grounded on the teacher's own <start-idx>.wal file format documented at the top
// of internal/storage/raftwal/storage.go: a pre-allocated, zero-initialized fixed region holding
// per-entry metadata (there: 32-byte fixed entries with a data offset field; here: just the
// offset, since the 29-byte entry.Header travels with the payload itself) so that zero bytes in
// an unwritten slot are distinguishable from a real offset on restart, exactly the "zero them out
// explicitly... ensures we know when these entries end" property that file documents.
package partition

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
	"github.com/linka-cloud/audittrail/internal/entry"
	"github.com/linka-cloud/audittrail/internal/storage/bufpool"
)

const offsetWidth = 8

// slotEmpty is the sentinel header value meaning "this slot has never been written": since
// payload offsets start at headerBytes(R) > 0, a zero value is unambiguous.
const slotEmpty uint64 = 0

// options configures Create/Open, populated via functional Options (spec.md §6's
// InitialPartitionSize/WriteThrough knobs).
type options struct {
	initialSize  int64
	writeThrough bool
}

// Option configures Create/Open behavior.
type Option func(*options)

// WithInitialSize preallocates initialSize bytes of payload region beyond the header on Create,
// zero-filled the same way the header region is, so the first appends into a fresh partition
// don't grow the file one write at a time.
func WithInitialSize(n int64) Option {
	return func(o *options) { o.initialSize = n }
}

// WithWriteThrough opens the partition file with O_SYNC, so every WriteAt (offset write, header+
// payload write) is durable on return instead of only at the next explicit Flush.
func WithWriteThrough(on bool) Option {
	return func(o *options) { o.writeThrough = on }
}

func resolveOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Partition is a single open partition file, covering log indices [Number*R, Number*R+R-1].
type Partition struct {
	Number int
	R      int

	path string
	f    *os.File

	// offsets[i] is the byte offset in f of the entry.Header for slot i, or slotEmpty if the
	// slot has not been written yet.
	offsets []uint64
	// tail is the current end of the payload region, where the next append lands.
	tail int64
}

// FileName returns the on-disk filename for partition number p, zero-padded the way the
// teacher's <start idx zero padded>.wal naming scheme does.
func FileName(p int) string {
	return fmt.Sprintf("%016d.partition", p)
}

func headerBytes(r int) int64 {
	return int64(r) * offsetWidth
}

// Create creates a new, empty partition file for partition number p with R slots, pre-allocating
// and zeroing the header region up front so torn writes during the file's lifetime are always
// detectable against a known-zero baseline. WithInitialSize additionally pre-extends the payload
// region; WithWriteThrough opens the file for synchronous writes.
func Create(dir string, p, r int, opts ...Option) (*Partition, error) {
	o := resolveOptions(opts)
	path := filepath.Join(dir, FileName(p))
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if o.writeThrough {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "partition: create %s", path)
	}
	hdr := make([]byte, headerBytes(r))
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "partition: zero header %s", path)
	}
	if o.initialSize > 0 {
		if err := f.Truncate(headerBytes(r) + o.initialSize); err != nil {
			f.Close()
			os.Remove(path)
			return nil, errors.Wrapf(err, "partition: preallocate %s", path)
		}
	}
	glog.Infof("partition: created %s (number=%d r=%d)", path, p, r)
	return &Partition{
		Number:  p,
		R:       r,
		path:    path,
		f:       f,
		offsets: make([]uint64, r),
		tail:    headerBytes(r),
	}, nil
}

// Open opens an existing partition file and reconstructs its offset table and tail by scanning
// the header region, mirroring the teacher's WAL recovery pass over its fixed entry region.
// WithWriteThrough reopens the file for synchronous writes; WithInitialSize has no effect here,
// since the file is already sized.
func Open(dir string, p, r int, opts ...Option) (*Partition, error) {
	o := resolveOptions(opts)
	path := filepath.Join(dir, FileName(p))
	flags := os.O_RDWR
	if o.writeThrough {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "partition: open %s", path)
	}
	hdr := make([]byte, headerBytes(r))
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "partition: read header %s", path)
	}
	offsets := make([]uint64, r)
	tail := headerBytes(r)
	for i := 0; i < r; i++ {
		off := binary.LittleEndian.Uint64(hdr[i*offsetWidth : (i+1)*offsetWidth])
		offsets[i] = off
		if off != slotEmpty {
			length, err := readLengthAt(f, int64(off))
			if err != nil {
				f.Close()
				return nil, err
			}
			end := int64(off) + entry.HeaderSize + int64(length)
			if end > tail {
				tail = end
			}
		}
	}
	return &Partition{
		Number:  p,
		R:       r,
		path:    path,
		f:       f,
		offsets: offsets,
		tail:    tail,
	}, nil
}

func readLengthAt(f *os.File, off int64) (uint64, error) {
	b := make([]byte, entry.HeaderSize)
	if _, err := f.ReadAt(b, off); err != nil {
		return 0, errors.Wrap(err, "partition: read entry header")
	}
	h, err := entry.DecodeHeader(b)
	if err != nil {
		return 0, err
	}
	return h.Length, nil
}

// slot converts a global log index to a slot offset within this partition's header.
func (p *Partition) slot(index uint64) (int, error) {
	base := uint64(p.Number) * uint64(p.R)
	if index < base || index >= base+uint64(p.R) {
		return 0, audittrailerr.ErrInvalidIndex
	}
	return int(index - base), nil
}

// Append writes hdr+payload at the current tail and records the offset in slot(index). index
// must fall within this partition's range and slots must be filled in increasing order within a
// partition, per spec §4.2's append-only invariant.
func (p *Partition) Append(index uint64, hdr entry.Header, payload []byte) error {
	slot, err := p.slot(index)
	if err != nil {
		return err
	}
	if p.offsets[slot] != slotEmpty {
		return errors.Wrapf(audittrailerr.ErrInvalidAppend, "partition: slot %d already written", slot)
	}
	off := p.tail
	hdr.Length = uint64(len(payload))
	buf := bufpool.Get()
	defer bufpool.Put(buf)
	buf = append(buf, hdr.Encode()...)
	buf = append(buf, payload...)
	if _, err := p.f.WriteAt(buf, off); err != nil {
		return errors.Wrapf(err, "partition: write entry at %d", off)
	}
	if err := p.writeOffset(slot, uint64(off)); err != nil {
		return err
	}
	p.offsets[slot] = uint64(off)
	p.tail = off + int64(len(buf))
	return nil
}

func (p *Partition) writeOffset(slot int, off uint64) error {
	b := make([]byte, offsetWidth)
	binary.LittleEndian.PutUint64(b, off)
	if _, err := p.f.WriteAt(b, int64(slot*offsetWidth)); err != nil {
		return errors.Wrapf(err, "partition: write offset slot %d", slot)
	}
	return nil
}

// Read returns the header and payload bytes for index. The returned payload slice aliases buf
// and is only valid until the next Read/Append call against this partition using the same
// session buffer.
func (p *Partition) Read(index uint64, buf []byte) (entry.Header, []byte, error) {
	slot, err := p.slot(index)
	if err != nil {
		return entry.Header{}, nil, err
	}
	off := p.offsets[slot]
	if off == slotEmpty {
		return entry.Header{}, nil, errors.Wrapf(audittrailerr.ErrInvalidIndex, "partition: slot %d not written", slot)
	}
	hb := make([]byte, entry.HeaderSize)
	if _, err := p.f.ReadAt(hb, int64(off)); err != nil {
		return entry.Header{}, nil, errors.Wrap(err, "partition: read header")
	}
	h, err := entry.DecodeHeader(hb)
	if err != nil {
		return entry.Header{}, nil, err
	}
	if cap(buf) < int(h.Length) {
		buf = make([]byte, h.Length)
	}
	buf = buf[:h.Length]
	if h.Length > 0 {
		if _, err := p.f.ReadAt(buf, int64(off)+entry.HeaderSize); err != nil {
			return entry.Header{}, nil, errors.Wrap(err, "partition: read payload")
		}
	}
	return h, buf, nil
}

// Has reports whether slot(index) has been written.
func (p *Partition) Has(index uint64) bool {
	slot, err := p.slot(index)
	if err != nil {
		return false
	}
	return p.offsets[slot] != slotEmpty
}

// LastWrittenIndex returns the highest index written in this partition, and whether any slot has
// been written at all.
func (p *Partition) LastWrittenIndex() (uint64, bool) {
	base := uint64(p.Number) * uint64(p.R)
	for i := p.R - 1; i >= 0; i-- {
		if p.offsets[i] != slotEmpty {
			return base + uint64(i), true
		}
	}
	return 0, false
}

// TruncateAfter zeroes every slot's offset for indices >= index within this partition, for the
// tail-rewrite path (spec §4.7). It does not reclaim payload bytes; a subsequent Append will
// simply advance the tail further, leaving orphaned bytes behind, per the "tail-rewrite orphan"
// open-question decision recorded in DESIGN.md.
func (p *Partition) TruncateAfter(index uint64) error {
	slot, err := p.slot(index)
	if err != nil {
		return err
	}
	for i := slot; i < p.R; i++ {
		if p.offsets[i] == slotEmpty {
			continue
		}
		if err := p.writeOffset(i, slotEmpty); err != nil {
			return err
		}
		p.offsets[i] = slotEmpty
	}
	return nil
}

// Flush fsyncs the partition file, per spec §5's write-through requirement when enabled.
func (p *Partition) Flush() error {
	if err := p.f.Sync(); err != nil {
		return errors.Wrapf(err, "partition: sync %s", p.path)
	}
	return nil
}

// Close closes the underlying file without removing it.
func (p *Partition) Close() error {
	return p.f.Close()
}

// Remove closes and deletes the partition file, used by the detach-then-delete compaction path
// (spec §4.8).
func (p *Partition) Remove() error {
	p.f.Close()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "partition: remove %s", p.path)
	}
	glog.Infof("partition: removed %s", p.path)
	return nil
}

// Path returns the partition's file path.
func (p *Partition) Path() string { return p.path }
