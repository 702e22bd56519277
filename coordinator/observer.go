package coordinator

import (
	"context"

	"github.com/reprisedb/go-reprise/commit"
)

// CommitObserver is notified synchronously, in revision order, once a
// commit is durable and visible. Observers must not call back into the
// coordinator.
type CommitObserver interface {
	OnCommit(ctx context.Context, c commit.Commit)
}

// CommitObserverFunc adapts a function to CommitObserver.
type CommitObserverFunc func(ctx context.Context, c commit.Commit)

// OnCommit implements CommitObserver.
func (f CommitObserverFunc) OnCommit(ctx context.Context, c commit.Commit) {
	f(ctx, c)
}
