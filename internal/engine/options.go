package engine

import (
	"github.com/linka-cloud/audittrail/internal/auditlog"
	"github.com/linka-cloud/audittrail/internal/storage/entrycache"
)

// CompactionMode selects the compaction strategy of spec.md §4.8.
type CompactionMode int

const (
	// Sequential builds a snapshot synchronously under Exclusive, as part of commit.
	Sequential CompactionMode = iota
	// Foreground launches the snapshot build in parallel with apply, both under Exclusive.
	Foreground
	// Background defers the build to a separate forceCompaction call running under
	// WeakRead+Compaction.
	Background
)

// Config is the full configuration surface of spec.md §6, generalized from the shape of
// internal/storage/disk.Config (StateDir/MaxSnapshotFiles/Logger) into a functional-options
// struct the way the teacher's raft.With* option functions configure raft.NewNode.
type Config struct {
	Dir string

	RecordsPerPartition  int
	BufferSize           int
	SnapshotBufferSize   int
	InitialPartitionSize int64
	MaxConcurrentReads   int
	WriteThrough         bool
	CompactionMode       CompactionMode
	CacheEvictionPolicy  entrycache.EvictionPolicy
	ReplayOnInitialize   bool
	MaxSnapshotFiles     int

	Logger auditlog.Logger

	// MemberID seeds the commit-wait subscription id generator; it carries no Raft semantics
	// in this module; any stable per-process value is fine.
	MemberID uint64
}

// Option configures a Config.
type Option func(*Config)

// DefaultConfig returns the Config populated with the spec's suggested defaults for every
// parameter not named by the caller.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                  dir,
		RecordsPerPartition:  1024,
		BufferSize:           64 << 10,
		SnapshotBufferSize:   1 << 20,
		InitialPartitionSize: 1 << 20,
		MaxConcurrentReads:   16,
		WriteThrough:         false,
		CompactionMode:       Sequential,
		CacheEvictionPolicy:  entrycache.OnCommit,
		ReplayOnInitialize:   true,
		MaxSnapshotFiles:     2,
		Logger:               auditlog.Noop(),
		MemberID:             1,
	}
}

// WithRecordsPerPartition sets R, the number of entries per partition file (must be >= 2).
func WithRecordsPerPartition(r int) Option {
	return func(c *Config) { c.RecordsPerPartition = r }
}

// WithBufferSize sets the per-session I/O buffer size.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithSnapshotBufferSize sets the snapshot I/O buffer size.
func WithSnapshotBufferSize(n int) Option {
	return func(c *Config) { c.SnapshotBufferSize = n }
}

// WithInitialPartitionSize sets the pre-allocation hint for new partition files.
func WithInitialPartitionSize(n int64) Option {
	return func(c *Config) { c.InitialPartitionSize = n }
}

// WithMaxConcurrentReads sets the session pool's reader concurrency bound.
func WithMaxConcurrentReads(n int) Option {
	return func(c *Config) { c.MaxConcurrentReads = n }
}

// WithWriteThrough opens partition files with O_SYNC so every write is durable on return.
// Snapshot files are unaffected: BuildTemp already fsyncs explicitly before its rename-over.
func WithWriteThrough(on bool) Option {
	return func(c *Config) { c.WriteThrough = on }
}

// WithCompactionMode selects the compaction strategy.
func WithCompactionMode(m CompactionMode) Option {
	return func(c *Config) { c.CompactionMode = m }
}

// WithCacheEvictionPolicy selects when cached uncommitted payloads are dropped.
func WithCacheEvictionPolicy(p entrycache.EvictionPolicy) Option {
	return func(c *Config) { c.CacheEvictionPolicy = p }
}

// WithReplayOnInitialize controls whether Open replays committed entries into the state machine
// on startup.
func WithReplayOnInitialize(on bool) Option {
	return func(c *Config) { c.ReplayOnInitialize = on }
}

// WithMaxSnapshotFiles bounds retained historical snapshot generations (currently this module
// keeps only the live snapshot file; this mirrors the teacher's knob for parity but has no
// additional effect until a rolling-snapshot history is added).
func WithMaxSnapshotFiles(n int) Option {
	return func(c *Config) { c.MaxSnapshotFiles = n }
}

// WithLogger injects the engine-level structured logger.
func WithLogger(l auditlog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMemberID sets the seed for the commit-wait subscription id generator.
func WithMemberID(id uint64) Option {
	return func(c *Config) { c.MemberID = id }
}

// Apply folds opts onto a copy of the receiver and returns the result.
func (c Config) Apply(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
