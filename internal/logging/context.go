package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that is not cancelled when parent is.
// Post-processing work scheduled after a conversation turn uses this so
// it keeps running once the request context is done, while still carrying
// the parent's values.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout returns a detached context with its own deadline,
// independent of the parent's cancellation status.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
