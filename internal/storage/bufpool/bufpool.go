// Package bufpool provides a sync.Pool-backed byte slice pool for the scratch buffer
// partition.Append uses to encode an entry's header and payload into a single write. It exists
// purely to cut allocator pressure on the append path; it carries no spec semantics of its own.
package bufpool

import "sync"

var pool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

// Get returns a zero-length byte slice with spare capacity, ready to be appended to.
func Get() []byte {
	return pool.Get().([]byte)[:0]
}

// Put returns b to the pool for reuse. Callers must not use b after calling Put.
func Put(b []byte) {
	pool.Put(b)
}
