package element

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mkElement(id string, version uint64, nonce uint64) Element {
	return Element{
		ID:           id,
		Kind:         KindRectangle,
		X:            10,
		Y:            20,
		Width:        100,
		Height:       50,
		Version:      version,
		VersionNonce: nonce,
		Updated:      1000,
	}
}

func encode(t *testing.T, els ...Element) []byte {
	t.Helper()
	data, err := EncodeElements(els)
	if err != nil {
		t.Fatalf("EncodeElements() error = %v", err)
	}
	return data
}

func TestStore_SetAndLive(t *testing.T) {
	s := NewStore()
	s.Set(mkElement("e1", 1, 7), OriginLocal)

	live := s.Live()
	if len(live) != 1 {
		t.Fatalf("Live() = %d elements, want 1", len(live))
	}
	if live[0].ID != "e1" || live[0].Version != 1 {
		t.Fatalf("Live()[0] = %+v, want e1 at version 1", live[0])
	}
}

func TestStore_MergeConvergesRegardlessOfOrder(t *testing.T) {
	updates := [][]byte{}
	e1a := mkElement("e1", 1, 50)
	e1b := mkElement("e1", 2, 10)
	e1b.X = 300
	e2 := mkElement("e2", 1, 5)
	e3 := mkElement("e3", 3, 9)
	e3.IsDeleted = true
	for _, el := range []Element{e1a, e1b, e2, e3} {
		updates = append(updates, encode(t, el))
	}

	forward := NewStore()
	for _, u := range updates {
		if _, err := forward.Merge(u); err != nil {
			t.Fatalf("Merge() error = %v", err)
		}
	}

	backward := NewStore()
	for i := len(updates) - 1; i >= 0; i-- {
		if _, err := backward.Merge(updates[i]); err != nil {
			t.Fatalf("Merge() error = %v", err)
		}
	}

	if !reflect.DeepEqual(forward.Snapshot(), backward.Snapshot()) {
		t.Fatalf("replicas diverged:\nforward  = %+v\nbackward = %+v", forward.Snapshot(), backward.Snapshot())
	}
	if got, ok := forward.Get("e1"); !ok || got.X != 300 || got.Version != 2 {
		t.Fatalf("e1 = %+v, want version 2 with X=300", got)
	}
}

func TestStore_MergeIsIdempotent(t *testing.T) {
	s := NewStore()
	update := encode(t, mkElement("e1", 2, 3), mkElement("e2", 1, 4))

	applied, err := s.Merge(update)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if applied != 2 {
		t.Fatalf("first Merge applied %d, want 2", applied)
	}
	before := s.Snapshot()

	applied, err = s.Merge(update)
	if err != nil {
		t.Fatalf("second Merge() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("second Merge applied %d, want 0", applied)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatalf("replay changed state: %+v -> %+v", before, s.Snapshot())
	}
}

func TestStore_VersionTieBrokenByNonce(t *testing.T) {
	a := mkElement("e1", 3, 10)
	a.X = 1
	b := mkElement("e1", 3, 20)
	b.X = 2

	s1 := NewStore()
	s1.Merge(encode(t, a))
	s1.Merge(encode(t, b))

	s2 := NewStore()
	s2.Merge(encode(t, b))
	s2.Merge(encode(t, a))

	got1, _ := s1.Get("e1")
	got2, _ := s2.Get("e1")
	if got1.X != got2.X {
		t.Fatalf("tie-break diverged: %v vs %v", got1.X, got2.X)
	}
	// Lower nonce wins the tie.
	if got1.VersionNonce != 10 {
		t.Fatalf("winner nonce = %d, want 10", got1.VersionNonce)
	}
}

func TestStore_TombstonePermanence(t *testing.T) {
	s := NewStore()
	dead := mkElement("e1", 5, 1)
	dead.IsDeleted = true
	s.Merge(encode(t, dead))

	// Updates at or below the tombstone's version must not resurrect it.
	for _, v := range []uint64{1, 4, 5} {
		stale := mkElement("e1", v, 0)
		s.Merge(encode(t, stale))
		got, _ := s.Get("e1")
		if !got.IsDeleted {
			t.Fatalf("element resurrected by stale update at version %d", v)
		}
	}
	if len(s.Live()) != 0 {
		t.Fatalf("tombstoned element visible in live view")
	}

	// A strictly higher version does supersede.
	fresh := mkElement("e1", 6, 0)
	s.Merge(encode(t, fresh))
	got, _ := s.Get("e1")
	if got.IsDeleted {
		t.Fatalf("version 6 update failed to supersede the tombstone")
	}
}

func TestStore_DeleteIsTombstoneNotRemove(t *testing.T) {
	s := NewStore()
	s.Set(mkElement("e1", 1, 1), OriginLocal)

	prior, stored := s.Delete([]string{"e1", "missing"})
	if len(prior) != 1 || len(stored) != 1 {
		t.Fatalf("Delete returned %d/%d entries, want 1/1", len(prior), len(stored))
	}
	if stored[0].Version != 2 || !stored[0].IsDeleted {
		t.Fatalf("tombstone = %+v, want version 2 with IsDeleted", stored[0])
	}
	if got, ok := s.Get("e1"); !ok || !got.IsDeleted {
		t.Fatalf("entry physically removed or not tombstoned: %+v ok=%v", got, ok)
	}
	if len(s.Live()) != 0 {
		t.Fatalf("live view still shows deleted element")
	}

	// Deleting again is a no-op.
	prior, _ = s.Delete([]string{"e1"})
	if len(prior) != 0 {
		t.Fatalf("second delete tombstoned %d entries, want 0", len(prior))
	}
}

func TestStore_MergeSkipsMalformedEntries(t *testing.T) {
	s := NewStore()
	// Empty id, unknown kind and a zero version are each malformed; only the
	// last entry is valid.
	batch := []Element{
		{ID: "", Kind: KindRectangle, Version: 1},
		{ID: "bad", Kind: Kind("triangle"), Version: 1},
		{ID: "zero", Kind: KindEllipse, Version: 0},
		mkElement("good", 1, 1),
	}
	data, _ := json.Marshal(batch)

	applied, err := s.Merge(data)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Merge applied %d entries, want 1", applied)
	}
	if _, ok := s.Get("good"); !ok {
		t.Fatalf("valid entry lost alongside malformed ones")
	}
	if _, ok := s.Get("bad"); ok {
		t.Fatalf("malformed entry admitted")
	}
}

func TestStore_MergeRejectsUndecodableUpdate(t *testing.T) {
	s := NewStore()
	s.Set(mkElement("e1", 1, 1), OriginLocal)

	if _, err := s.Merge([]byte("{not json")); err == nil {
		t.Fatalf("Merge accepted garbage")
	}
	if got, ok := s.Get("e1"); !ok || got.Version != 1 {
		t.Fatalf("garbage update corrupted existing state: %+v", got)
	}
}

func TestStore_ObserverSeesLiveViewWithOrigin(t *testing.T) {
	s := NewStore()
	var gotLive []Element
	var gotOrigin Origin
	calls := 0
	unobserve := s.Observe(func(live []Element, origin Origin) {
		gotLive = live
		gotOrigin = origin
		calls++
	})

	s.Set(mkElement("e1", 1, 1), OriginLocal)
	if calls != 1 || gotOrigin != OriginLocal {
		t.Fatalf("after Set: calls=%d origin=%v", calls, gotOrigin)
	}

	s.Merge(encode(t, mkElement("e2", 1, 2)))
	if calls != 2 || gotOrigin != OriginRemote {
		t.Fatalf("after Merge: calls=%d origin=%v", calls, gotOrigin)
	}
	if len(gotLive) != 2 {
		t.Fatalf("observer live view = %d elements, want 2", len(gotLive))
	}

	s.Delete([]string{"e1"})
	if len(gotLive) != 1 {
		t.Fatalf("observer saw tombstoned element: %+v", gotLive)
	}

	unobserve()
	s.Set(mkElement("e3", 1, 3), OriginLocal)
	if calls != 3 {
		t.Fatalf("observer fired after unsubscribe")
	}
}

func TestStore_LiveOrderedByZIndex(t *testing.T) {
	s := NewStore()
	top := mkElement("top", 1, 1)
	top.ZIndex = 5
	bottom := mkElement("bottom", 1, 2)
	bottom.ZIndex = 1
	s.Set(top, OriginLocal)
	s.Set(bottom, OriginLocal)

	live := s.Live()
	if live[0].ID != "bottom" || live[1].ID != "top" {
		t.Fatalf("z-order wrong: %s before %s", live[0].ID, live[1].ID)
	}
}

func TestStore_EncodeStateHydratesReplica(t *testing.T) {
	s := NewStore()
	s.Set(mkElement("e1", 2, 1), OriginLocal)
	dead := mkElement("e2", 3, 2)
	dead.IsDeleted = true
	s.Set(dead, OriginLocal)

	state, err := s.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState() error = %v", err)
	}

	replica := NewStore()
	if _, err := replica.Merge(state); err != nil {
		t.Fatalf("Merge(state) error = %v", err)
	}
	if !reflect.DeepEqual(s.Snapshot(), replica.Snapshot()) {
		t.Fatalf("hydrated replica diverged")
	}
}

func TestNormalizeBounds(t *testing.T) {
	el := Element{X: 100, Y: 50, Width: -40, Height: -20}
	NormalizeBounds(&el)
	if el.X != 60 || el.Y != 30 || el.Width != 40 || el.Height != 20 {
		t.Fatalf("NormalizeBounds = %+v, want box re-anchored to (60, 30) 40x20", el)
	}
}

func TestStore_UpdateRefusesTombstoned(t *testing.T) {
	s := NewStore()
	s.Set(mkElement("e1", 1, 1), OriginLocal)
	s.Delete([]string{"e1"})

	if _, ok := s.Update("e1", func(el *Element) { el.X = 999 }); ok {
		t.Fatalf("Update mutated a tombstoned element")
	}
	if _, ok := s.Update("missing", func(el *Element) {}); ok {
		t.Fatalf("Update invented a missing element")
	}
}
