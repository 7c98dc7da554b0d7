// Package entry implements the log entry header codec (spec §3.1) and the tagged-sum Entry
// value used throughout the audit trail, per Design Notes §9: a common capability set over
// entries that may be in-memory, file-backed, streamed from a partition, or a snapshot.
package entry

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/linka-cloud/audittrail/internal/audittrailerr"
)

// HeaderSize is the fixed on-disk size of an entry's metadata header: term(8) + timestamp(8) +
// flags(1) + commandId(4) + length(8) = 29 bytes, little-endian.
const HeaderSize = 29

const (
	flagSnapshot       byte = 1 << 0
	flagCommandPresent byte = 1 << 1
)

// Header is the fixed 29-byte metadata that precedes every entry's payload.
type Header struct {
	Term       uint64
	Timestamp  int64
	IsSnapshot bool
	CommandID  uint32
	// HasCommandID tracks presence independently of the zero value, per the spec's own
	// resolution of the "is commandId=0 valid or a sentinel" open question.
	HasCommandID bool
	Length       uint64
}

// Encode serializes h into a freshly allocated HeaderSize-byte slice.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	h.EncodeInto(b)
	return b
}

// EncodeInto serializes h into b, which must be at least HeaderSize bytes.
func (h Header) EncodeInto(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[0:8], h.Term)
	binary.LittleEndian.PutUint64(b[8:16], uint64(h.Timestamp))
	var flags byte
	if h.IsSnapshot {
		flags |= flagSnapshot
	}
	if h.HasCommandID {
		flags |= flagCommandPresent
	}
	b[16] = flags
	binary.LittleEndian.PutUint32(b[17:21], h.CommandID)
	binary.LittleEndian.PutUint64(b[21:29], h.Length)
}

// DecodeHeader parses a HeaderSize-byte slice into a Header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Errorf("entry: short header, got %d want %d bytes", len(b), HeaderSize)
	}
	flags := b[16]
	return Header{
		Term:         binary.LittleEndian.Uint64(b[0:8]),
		Timestamp:    int64(binary.LittleEndian.Uint64(b[8:16])),
		IsSnapshot:   flags&flagSnapshot != 0,
		HasCommandID: flags&flagCommandPresent != 0,
		CommandID:    binary.LittleEndian.Uint32(b[17:21]),
		Length:       binary.LittleEndian.Uint64(b[21:29]),
	}, nil
}

// Kind discriminates the tagged-sum variants an Entry may hold.
type Kind int

const (
	// KindInitial is the ephemeral term-0 entry returned by reading index 0 of an empty log.
	KindInitial Kind = iota
	// KindCached holds a payload kept in memory for fast commit (C6 cache).
	KindCached
	// KindPartitioned is bound to a slot in an on-disk partition file.
	KindPartitioned
	// KindSnapshot represents the single snapshot entry.
	KindSnapshot
)

// Entry is the common representation of a log entry regardless of where its payload lives.
// A Partitioned or streamed Entry's payload may only be read once (spec §7, ErrReadTwice); a
// Cached or Snapshot entry's payload may be read repeatedly since it is already resident.
type Entry struct {
	Kind   Kind
	Header Header
	Index  uint64

	payload  []byte
	consumed bool
}

// NewInitial returns the ephemeral "index 0" entry of an empty log: term 0, no payload.
func NewInitial() Entry {
	return Entry{Kind: KindInitial, Header: Header{Term: 0}}
}

// NewCached wraps an in-memory payload not yet flushed to its partition file.
func NewCached(h Header, index uint64, payload []byte) Entry {
	h.Length = uint64(len(payload))
	return Entry{Kind: KindCached, Header: h, Index: index, payload: payload}
}

// NewPartitioned wraps a payload read from a partition file. The byte slice is owned by the
// caller's session buffer and is only valid until the session performs its next operation;
// callers that need to retain it must call Payload() and copy.
func NewPartitioned(h Header, index uint64, payload []byte) Entry {
	return Entry{Kind: KindPartitioned, Header: h, Index: index, payload: payload}
}

// NewSnapshot wraps the snapshot entry's metadata and payload.
func NewSnapshot(h Header, index uint64, payload []byte) Entry {
	h.IsSnapshot = true
	return Entry{Kind: KindSnapshot, Header: h, Index: index, payload: payload}
}

// Term returns the entry's Raft term.
func (e Entry) Term() uint64 { return e.Header.Term }

// Timestamp returns the entry's creation timestamp.
func (e Entry) Timestamp() int64 { return e.Header.Timestamp }

// Length returns the payload length in bytes.
func (e Entry) Length() uint64 { return e.Header.Length }

// IsSnapshot reports whether this entry is the distinguished snapshot entry.
func (e Entry) IsSnapshot() bool { return e.Kind == KindSnapshot || e.Header.IsSnapshot }

// Payload returns the entry's payload bytes. For Partitioned and streamed kinds this may only
// be called once; a second call returns ErrReadTwice. Cached, Snapshot and Initial entries may
// be read repeatedly.
func (e *Entry) Payload() ([]byte, error) {
	if e.consumed && (e.Kind == KindPartitioned) {
		return nil, audittrailerr.ErrReadTwice
	}
	if e.Kind == KindPartitioned {
		e.consumed = true
	}
	return e.payload, nil
}

// Clone returns a copy of e whose payload is safe to retain past the lifetime of any
// session buffer it was read from, and whose read-once marker is reset.
func (e Entry) Clone() Entry {
	c := e
	if e.payload != nil {
		c.payload = append([]byte(nil), e.payload...)
	}
	c.consumed = false
	return c
}

// WriteTo serializes the header followed by the payload to w, satisfying the common
// capability set from Design Notes §9.
func (e Entry) WriteTo(w io.Writer) (int64, error) {
	hdr := e.Header
	hdr.Length = uint64(len(e.payload))
	n, err := w.Write(hdr.Encode())
	if err != nil {
		return int64(n), err
	}
	if len(e.payload) == 0 {
		return int64(n), nil
	}
	m, err := w.Write(e.payload)
	return int64(n + m), err
}
