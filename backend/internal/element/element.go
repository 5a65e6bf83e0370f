package element

import (
	"errors"
	"fmt"
)

// Kind is the closed set of shapes a canvas can hold.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindEllipse   Kind = "ellipse"
	KindDiamond   Kind = "diamond"
	KindLine      Kind = "line"
	KindArrow     Kind = "arrow"
	KindFreedraw  Kind = "freedraw"
	KindText      Kind = "text"
)

func validKind(k Kind) bool {
	switch k {
	case KindRectangle, KindEllipse, KindDiamond, KindLine, KindArrow, KindFreedraw, KindText:
		return true
	}
	return false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is the atomic unit of a canvas document.
//
// Version starts at 1 and is bumped on every mutation. VersionNonce is a
// random tie-breaker for the case where two replicas produce the same
// version independently. IsDeleted is a tombstone: elements are never
// physically removed from the replicated map, only marked, so a concurrent
// remote update to the same id cannot resurrect a deleted element.
type Element struct {
	ID           string  `json:"id"`
	Kind         Kind    `json:"kind"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Angle        float64 `json:"angle,omitempty"`
	StrokeColor  string  `json:"strokeColor,omitempty"`
	FillColor    string  `json:"fillColor,omitempty"`
	StrokeWidth  float64 `json:"strokeWidth,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
	Points       []Point `json:"points,omitempty"`
	Text         string  `json:"text,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty"`
	ZIndex       int     `json:"zIndex"`
	Version      uint64  `json:"version"`
	VersionNonce uint64  `json:"versionNonce"`
	IsDeleted    bool    `json:"isDeleted,omitempty"`
	// Updated is a wall-clock stamp (unix milliseconds) of the last mutation.
	Updated int64 `json:"updated"`
}

var ErrMalformedElement = errors.New("malformed element")

// Validate rejects entries that would corrupt the replicated map.
func (e *Element) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedElement)
	}
	if !validKind(e.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedElement, e.Kind)
	}
	if e.Version == 0 {
		return fmt.Errorf("%w: version must start at 1", ErrMalformedElement)
	}
	return nil
}

// Supersedes reports whether e wins over old under the merge rule:
// higher version wins, a version tie is broken by the lower nonce, and an
// entry identical in (version, nonce) never wins. The relation is a total
// order over (version, nonce), which is what makes Merge commutative,
// associative and idempotent.
func (e *Element) Supersedes(old *Element) bool {
	if e.Version != old.Version {
		return e.Version > old.Version
	}
	return e.VersionNonce < old.VersionNonce
}

// NormalizeBounds re-anchors the box to its visual top-left when width or
// height are negative, so (X, Y) always names the top-left corner.
func NormalizeBounds(e *Element) {
	if e.Width < 0 {
		e.X += e.Width
		e.Width = -e.Width
	}
	if e.Height < 0 {
		e.Y += e.Height
		e.Height = -e.Height
	}
}

// Clone returns a deep copy; Points is the only reference field.
func (e Element) Clone() Element {
	if e.Points != nil {
		pts := make([]Point, len(e.Points))
		copy(pts, e.Points)
		e.Points = pts
	}
	return e
}
