// Package snapshotfile implements the snapshot file format and its two replace paths (spec.md
// §3.3, §4.4, component C4): a locally-built snapshot (footer written last, so a crash mid-write
// leaves a detectably truncated file) and a remote-installed snapshot (an opaque blob received
// whole and swapped in atomically).
//
// The build path's temp-file-then-rename is grounded on internal/storage/raftwal/storage.go's
// meta file handling and on the footer-last ordering documented there ("zeroing them out
// explicitly... ensures we know when these entries end, in case of a restart"); the install path
// uses github.com/natefinch/atomic the way liftbridge's commitlog.checkpointHW swaps its
// highwater-mark file, since an externally-sourced blob has no internal structure to protect
// against a torn local write, only the final rename matters.
package snapshotfile

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/entry"
)

// footerSize is the trailing fixed record written last: index(8) + term(8) + confLen(8).
const footerSize = 24

const fileName = "snapshot"

// Footer is the trailing metadata of a snapshot file.
type Footer struct {
	Index uint64
	Term  uint64
}

// Path returns the canonical snapshot file path under dir.
func Path(dir string) string {
	return filepath.Join(dir, fileName)
}

// Exists reports whether a snapshot file is present under dir.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Read opens the snapshot file under dir and returns its header, footer and a reader positioned
// at the start of the payload, bounded to exactly the payload's bytes so it never reads into the
// trailing footer. The payload's length is derived from the file size rather than trusted from
// the on-disk header, since the footer - written last - is the only thing that tells us where the
// file actually ends. The caller must close the returned ReadCloser.
func Read(dir string) (entry.Header, Footer, io.ReadCloser, error) {
	path := Path(dir)
	f, err := os.Open(path)
	if err != nil {
		return entry.Header{}, Footer{}, nil, errors.Wrapf(err, "snapshotfile: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Wrap(err, "snapshotfile: stat")
	}
	hb := make([]byte, entry.HeaderSize)
	if _, err := io.ReadFull(f, hb); err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Wrap(err, "snapshotfile: read header")
	}
	h, err := entry.DecodeHeader(hb)
	if err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, err
	}
	payloadLen := info.Size() - entry.HeaderSize - footerSize
	if payloadLen < 0 {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Errorf("snapshotfile: %s too small for header+footer", path)
	}
	if _, err := f.Seek(entry.HeaderSize+payloadLen, io.SeekStart); err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Wrap(err, "snapshotfile: seek footer")
	}
	fb := make([]byte, footerSize)
	if _, err := io.ReadFull(f, fb); err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Wrap(err, "snapshotfile: read footer")
	}
	footer := Footer{
		Index: binary.LittleEndian.Uint64(fb[0:8]),
		Term:  binary.LittleEndian.Uint64(fb[8:16]),
	}
	if _, err := f.Seek(entry.HeaderSize, io.SeekStart); err != nil {
		f.Close()
		return entry.Header{}, Footer{}, nil, errors.Wrap(err, "snapshotfile: rewind to payload")
	}
	h.Length = uint64(payloadLen)
	return h, footer, &limitedReadCloser{r: io.LimitReader(f, payloadLen), c: f}, nil
}

// Build writes a new snapshot atomically into dir: payload first, footer last, fsync, then
// rename over the live file. A crash between the temp write and the rename leaves the previous
// snapshot (if any) untouched; a crash mid-temp-write leaves only an orphaned ".new" file, which
// Read never opens and the next BuildTemp truncates. Build is BuildTemp followed directly by
// CommitTemp; the engine calls the two steps separately in every compaction mode, so the
// Background path can run the expensive fold-and-write phase under WeakRead and take Compaction
// only for the rename.
func Build(dir string, h entry.Header, index, term uint64, payload io.Reader) error {
	if err := BuildTemp(dir, h, index, term, payload); err != nil {
		return err
	}
	return CommitTemp(dir)
}

// BuildTemp writes a new snapshot's header, payload and footer to "snapshot.new" and fsyncs it,
// without renaming it over the canonical file. Safe to run concurrently with readers and writers
// holding WeakRead, since it never touches the canonical file.
func BuildTemp(dir string, h entry.Header, index, term uint64, payload io.Reader) error {
	tmpPath := Path(dir) + ".new"
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "snapshotfile: create %s", tmpPath)
	}

	h.IsSnapshot = true
	if _, err := f.Write(h.Encode()); err != nil {
		f.Close()
		return errors.Wrap(err, "snapshotfile: write header")
	}
	n, err := io.Copy(f, payload)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "snapshotfile: write payload")
	}

	// The header is written again now that the payload's actual length is known: payload is an
	// io.Reader of unbounded length, so Length can't be filled in before it has been drained.
	h.Length = uint64(n)
	if _, err := f.WriteAt(h.Encode(), 0); err != nil {
		f.Close()
		return errors.Wrap(err, "snapshotfile: rewrite header with payload length")
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], index)
	binary.LittleEndian.PutUint64(footer[8:16], term)
	if _, err := f.WriteAt(footer, entry.HeaderSize+n); err != nil {
		f.Close()
		return errors.Wrap(err, "snapshotfile: write footer")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "snapshotfile: sync")
	}
	return f.Close()
}

// CommitTemp renames "snapshot.new" over the canonical snapshot file. This is the single point
// of no return for a snapshot build; the engine aborts the process when it fails, since neither
// rollback nor forward progress is safe once the temp file is known complete but the canonical
// file may be in an indeterminate state.
func CommitTemp(dir string) error {
	tmpPath := Path(dir) + ".new"
	if err := os.Rename(tmpPath, Path(dir)); err != nil {
		return errors.Wrapf(err, "snapshotfile: rename-over %s", tmpPath)
	}
	return nil
}

// Install replaces dir's snapshot file wholesale with an externally-received blob (spec §4.4's
// remote install path, C10), using an atomic library swap rather than the footer-last build
// sequence above since the blob is already a complete, self-describing unit.
func Install(dir string, r io.Reader) error {
	return atomicfile.WriteFile(Path(dir), r)
}

// limitedReadCloser bounds Read to the payload region of an open snapshot file while still
// closing the underlying *os.File.
type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error               { return l.c.Close() }
