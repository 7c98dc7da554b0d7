package engine

import (
	"context"
	"sync"
	"time"

	"go.etcd.io/etcd/pkg/v3/idutil"
)

// commitWait is the manual-reset event of spec.md §4.10 (component C11): waiters subscribe once
// and are woken whenever the commit index advances, re-checking their own predicate on each
// wake. Grounded on internal/raftengine/engine.go's wait(ctx, id): the teacher subscribes a
// unique id to its msgbus and blocks on a channel or ctx.Done(); here the channel is a simple
// broadcast generation channel (closed and replaced on every signal) since there is no msgbus in
// this module, and idutil.Generator supplies the same monotonically increasing subscription ids
// the teacher uses for its proposal/read-index waiters.
type commitWait struct {
	mu    sync.Mutex
	gen   chan struct{}
	idgen *idutil.Generator
}

func newCommitWait(memberID uint64) *commitWait {
	return &commitWait{
		gen:   make(chan struct{}),
		idgen: idutil.NewGenerator(uint16(memberID), time.Now()),
	}
}

// signal wakes every current waiter.
func (c *commitWait) signal() {
	c.mu.Lock()
	close(c.gen)
	c.gen = make(chan struct{})
	c.mu.Unlock()
}

// nextWaiterID returns a monotonically increasing id for a new waiter, used only for diagnostic
// logging around long waits (mirrors the teacher's eng.idgen.Next() calls that tag proposals and
// read-index waiters for tracing).
func (c *commitWait) nextWaiterID() uint64 {
	return c.idgen.Next()
}

func (c *commitWait) channel() chan struct{} {
	c.mu.Lock()
	ch := c.gen
	c.mu.Unlock()
	return ch
}

// waitAny blocks until the next commit advance signal or ctx is done.
func (c *commitWait) waitAny(ctx context.Context) bool {
	select {
	case <-c.channel():
		return true
	case <-ctx.Done():
		return false
	}
}

// waitForPredicate blocks until pred() is true, re-checking on every signal, or until ctx is
// done.
func (c *commitWait) waitForPredicate(ctx context.Context, pred func() bool) bool {
	for {
		if pred() {
			return true
		}
		ch := c.channel()
		select {
		case <-ch:
		case <-ctx.Done():
			return pred()
		}
	}
}

// waitForIndex blocks until commitIndex() >= target, or ctx is done.
func (c *commitWait) waitForIndex(ctx context.Context, target uint64, commitIndex func() uint64) bool {
	return c.waitForPredicate(ctx, func() bool { return commitIndex() >= target })
}
