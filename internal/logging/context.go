package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that survives cancellation of its parent
// while keeping the parent's values. The dispatcher uses this to persist a
// turn's outcome after the worker context is cancelled by shutdown.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from the parent's cancellation but caps
// the detached work with its own deadline, so a write that outlives shutdown
// cannot hang the process.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
