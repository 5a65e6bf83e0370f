package client

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"lekhaflow/backend/internal/element"
)

// User identifies the local participant on the awareness channel.
type User struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Awareness is the ephemeral per-participant presence entry. It is never
// merged into the document and never persisted.
type Awareness struct {
	User               User           `json:"user"`
	Cursor             *element.Point `json:"cursor"`
	SelectedElementIDs []string       `json:"selectedElementIds"`
}

// Transport carries outbound frames. Document updates and awareness are two
// independent channels even when multiplexed over one connection.
type Transport interface {
	SendUpdate(data []byte) error
	SendAwareness(a Awareness) error
}

// Patch is a partial element update; nil fields are left untouched.
type Patch struct {
	X           *float64
	Y           *float64
	Width       *float64
	Height      *float64
	Angle       *float64
	StrokeColor *string
	FillColor   *string
	StrokeWidth *float64
	Opacity     *float64
	Points      *[]element.Point
	Text        *string
	FontSize    *float64
	ZIndex      *int
}

func (p Patch) apply(el *element.Element) {
	if p.X != nil {
		el.X = *p.X
	}
	if p.Y != nil {
		el.Y = *p.Y
	}
	if p.Width != nil {
		el.Width = *p.Width
	}
	if p.Height != nil {
		el.Height = *p.Height
	}
	if p.Angle != nil {
		el.Angle = *p.Angle
	}
	if p.StrokeColor != nil {
		el.StrokeColor = *p.StrokeColor
	}
	if p.FillColor != nil {
		el.FillColor = *p.FillColor
	}
	if p.StrokeWidth != nil {
		el.StrokeWidth = *p.StrokeWidth
	}
	if p.Opacity != nil {
		el.Opacity = *p.Opacity
	}
	if p.Points != nil {
		pts := make([]element.Point, len(*p.Points))
		copy(pts, *p.Points)
		el.Points = pts
	}
	if p.Text != nil {
		el.Text = *p.Text
	}
	if p.FontSize != nil {
		el.FontSize = *p.FontSize
	}
	if p.ZIndex != nil {
		el.ZIndex = *p.ZIndex
	}
	element.NormalizeBounds(el)
}

// Adapter bridges local UI state to the replicated element store and the
// awareness channel. Local mutations flow through the store and come back
// via its observer, so local and remote edits share one rendering path.
type Adapter struct {
	mu        sync.Mutex
	store     *element.Store
	transport Transport
	hist      history
	awareness Awareness
	unobserve func()
	now       func() time.Time
	// lastLocal remembers the (version, nonce) of this actor's most recent
	// write per element. When the store entry no longer matches, the last
	// writer was a remote actor and undo/redo must leave the element alone.
	lastLocal map[string]versionStamp
}

type versionStamp struct {
	version uint64
	nonce   uint64
}

// NewAdapter wires the store's observer to onChange. onChange receives the
// live view (tombstones already filtered) after any change, local or remote.
func NewAdapter(store *element.Store, transport Transport, user User, onChange func(live []element.Element)) *Adapter {
	a := &Adapter{
		store:     store,
		transport: transport,
		awareness: Awareness{User: user},
		now:       time.Now,
		lastLocal: make(map[string]versionStamp),
	}
	a.unobserve = store.Observe(func(live []element.Element, _ element.Origin) {
		if onChange != nil {
			onChange(live)
		}
	})
	return a
}

// Close detaches the adapter from the store.
func (a *Adapter) Close() {
	if a.unobserve != nil {
		a.unobserve()
	}
}

// AddElement inserts a new element at version 1 on top of the z-order and
// announces it to the room. A missing id is minted.
func (a *Adapter) AddElement(el element.Element) (element.Element, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	if el.ZIndex == 0 {
		el.ZIndex = a.store.MaxZIndex() + 1
	}
	el.Version = 1
	el.VersionNonce = rand.Uint64()
	el.IsDeleted = false
	el.Updated = a.now().UnixMilli()
	element.NormalizeBounds(&el)
	if err := el.Validate(); err != nil {
		return element.Element{}, err
	}
	a.store.Set(el, element.OriginLocal)
	a.lastLocal[el.ID] = versionStamp{el.Version, el.VersionNonce}
	a.hist.record(el.ID, change{before: nil, after: el.Clone()}, a.now())
	a.sendElements([]element.Element{el})
	return el, nil
}

// UpdateElement applies a partial update. A nonexistent or tombstoned id is
// a warning-level no-op, not an error: a remote delete may have landed
// between the caller reading and writing.
func (a *Adapter) UpdateElement(id string, p Patch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var before element.Element
	after, ok := a.store.Update(id, func(el *element.Element) {
		before = el.Clone()
		p.apply(el)
	})
	if !ok {
		log.Printf("sync adapter: update of unknown element id=%s dropped", id)
		return
	}
	a.lastLocal[id] = versionStamp{after.Version, after.VersionNonce}
	a.hist.record(id, change{before: &before, after: after}, a.now())
	a.sendElements([]element.Element{after})
}

// DeleteElements tombstones the given ids and announces the tombstones.
func (a *Adapter) DeleteElements(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prior, stored := a.store.Delete(ids)
	if len(stored) == 0 {
		return
	}
	now := a.now()
	for i := range stored {
		before := prior[i].Clone()
		a.lastLocal[stored[i].ID] = versionStamp{stored[i].Version, stored[i].VersionNonce}
		a.hist.record(stored[i].ID, change{before: &before, after: stored[i].Clone()}, now)
	}
	a.sendElements(stored)
}

// UpdateCursor publishes the local cursor on the awareness channel. It never
// touches the document.
func (a *Adapter) UpdateCursor(p *element.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awareness.Cursor = p
	a.sendAwareness()
}

// UpdateSelection publishes the local selection on the awareness channel.
func (a *Adapter) UpdateSelection(ids []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awareness.SelectedElementIDs = append([]string(nil), ids...)
	a.sendAwareness()
}

// Undo reverts the most recent local transaction. Elements the remote side
// has touched since the transaction are left alone: the conflict resolves
// in favor of the remote edit, so undoing a local add after a remote delete
// does not resurrect the element.
func (a *Adapter) Undo() {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.hist.popUndo()
	if entry == nil {
		return
	}
	written := a.applyInverse(entry, true)
	a.hist.pushRedo(entry)
	if len(written) > 0 {
		a.sendElements(written)
	}
}

// Redo re-applies the most recently undone transaction, under the same
// remote-conflict rule as Undo.
func (a *Adapter) Redo() {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.hist.popRedo()
	if entry == nil {
		return
	}
	written := a.applyInverse(entry, false)
	a.hist.pushUndo(entry)
	if len(written) > 0 {
		a.sendElements(written)
	}
}

// applyInverse writes each change's before (undo) or after (redo) content as
// a fresh superseding version. An element whose store entry was last written
// by a remote actor is skipped: the conflict resolves in the remote's favor.
func (a *Adapter) applyInverse(entry *historyEntry, undo bool) []element.Element {
	var written []element.Element
	for id, ch := range entry.changes {
		cur, ok := a.store.Get(id)
		if !ok {
			continue
		}
		stamp, mine := a.lastLocal[id]
		if !mine || cur.Version != stamp.version || cur.VersionNonce != stamp.nonce {
			continue
		}
		var target element.Element
		if undo {
			if ch.before == nil {
				// Undo of an add: tombstone it again.
				target = ch.after.Clone()
				target.IsDeleted = true
			} else {
				target = ch.before.Clone()
			}
		} else {
			target = ch.after.Clone()
		}
		target.Version = cur.Version + 1
		target.VersionNonce = rand.Uint64()
		target.Updated = a.now().UnixMilli()
		a.store.Set(target, element.OriginLocal)
		a.lastLocal[id] = versionStamp{target.Version, target.VersionNonce}
		written = append(written, target)
	}
	return written
}

// ApplyRemote merges an inbound document update. Remote changes never enter
// the local undo history.
func (a *Adapter) ApplyRemote(data []byte) error {
	_, err := a.store.Merge(data)
	return err
}

// Live returns the current renderable view.
func (a *Adapter) Live() []element.Element {
	return a.store.Live()
}

// Awareness returns a copy of the local presence entry.
func (a *Adapter) Awareness() Awareness {
	a.mu.Lock()
	defer a.mu.Unlock()
	aw := a.awareness
	aw.SelectedElementIDs = append([]string(nil), aw.SelectedElementIDs...)
	return aw
}

func (a *Adapter) sendElements(els []element.Element) {
	if a.transport == nil {
		return
	}
	data, err := element.EncodeElements(els)
	if err != nil {
		log.Printf("sync adapter: encode update failed: %v", err)
		return
	}
	if err := a.transport.SendUpdate(data); err != nil {
		log.Printf("sync adapter: send update failed: %v", err)
	}
}

func (a *Adapter) sendAwareness() {
	if a.transport == nil {
		return
	}
	if err := a.transport.SendAwareness(a.awareness); err != nil {
		log.Printf("sync adapter: send awareness failed: %v", err)
	}
}
