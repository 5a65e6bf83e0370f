package store

import "context"

// Gateway hydrates and persists canvas documents. Both operations are
// best-effort at every call site: a failure is logged and the live session
// continues in memory.
type Gateway interface {
	// Fetch returns the last persisted snapshot, or (nil, nil) when none
	// exists yet.
	Fetch(ctx context.Context, canvasID string) ([]byte, error)
	Store(ctx context.Context, canvasID string, data []byte) error
}
