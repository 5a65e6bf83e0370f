package client

import (
	"time"

	"lekhaflow/backend/internal/element"
)

const (
	// Rapid successive local edits inside this window collapse into one
	// history entry, so dragging a shape yields one undo step.
	coalesceWindow = 500 * time.Millisecond
	historyLimit   = 100
)

// change records one element's part in a local transaction. before is nil
// when the transaction created the element.
type change struct {
	before *element.Element
	after  element.Element
}

type historyEntry struct {
	changes map[string]*change
	at      time.Time
}

// history holds the local actor's reversible transactions. Remote mutations
// never enter it. Not safe for concurrent use; the adapter serializes access.
type history struct {
	undo []*historyEntry
	redo []*historyEntry
}

// record adds a local change, coalescing with the previous entry when it is
// recent enough. Any new local mutation invalidates the redo stack.
func (h *history) record(id string, ch change, now time.Time) {
	h.redo = nil
	if n := len(h.undo); n > 0 && now.Sub(h.undo[n-1].at) <= coalesceWindow {
		last := h.undo[n-1]
		if prev, ok := last.changes[id]; ok {
			// Keep the oldest before so one undo reverts the whole drag.
			ch.before = prev.before
		}
		last.changes[id] = &ch
		last.at = now
		return
	}
	h.undo = append(h.undo, &historyEntry{
		changes: map[string]*change{id: &ch},
		at:      now,
	})
	if len(h.undo) > historyLimit {
		h.undo = h.undo[len(h.undo)-historyLimit:]
	}
}

func (h *history) popUndo() *historyEntry {
	n := len(h.undo)
	if n == 0 {
		return nil
	}
	e := h.undo[n-1]
	h.undo = h.undo[:n-1]
	return e
}

func (h *history) popRedo() *historyEntry {
	n := len(h.redo)
	if n == 0 {
		return nil
	}
	e := h.redo[n-1]
	h.redo = h.redo[:n-1]
	return e
}

func (h *history) pushUndo(e *historyEntry) {
	h.undo = append(h.undo, e)
	if len(h.undo) > historyLimit {
		h.undo = h.undo[len(h.undo)-historyLimit:]
	}
}

func (h *history) pushRedo(e *historyEntry) {
	h.redo = append(h.redo, e)
}
