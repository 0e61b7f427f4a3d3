// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// AnchorFlag tracks whether an anchor has been modified since it was last
// known-clean, so its owner can decide whether the anchor must be
// rewritten on flush.
type AnchorFlag struct {
	changed bool
}

// Changed reports whether the flag has been raised.
func (f *AnchorFlag) Changed() bool { return f.changed }

// Set raises the flag.
func (f *AnchorFlag) Set() { f.changed = true }

// Reset lowers the flag, typically right after the anchor has been
// rewritten.
func (f *AnchorFlag) Reset() { f.changed = false }

// AnchorHandle is a movable reference to an anchor value of type A, stored
// either on disk (inside a TypedHandle) or in a transient in-memory
// buffer. Every mutation performed through it raises an associated
// AnchorFlag, if one was supplied, letting the owner detect whether the
// anchor must be rewritten.
type AnchorHandle[A any] struct {
	get func() A
	set func(A)
	flag *AnchorFlag
}

// NewAnchorHandle builds an AnchorHandle from a pair of accessor closures
// and an optional change flag.
func NewAnchorHandle[A any](get func() A, set func(A), flag *AnchorFlag) AnchorHandle[A] {
	return AnchorHandle[A]{get: get, set: set, flag: flag}
}

// InMemoryAnchorHandle wraps a plain *A living in a transient buffer (no
// on-disk location) -- used, for example, by the bulk loader while it
// builds a tree that has not yet been attached to a container.
func InMemoryAnchorHandle[A any](v *A, flag *AnchorFlag) AnchorHandle[A] {
	return NewAnchorHandle(func() A { return *v }, func(nv A) { *v = nv }, flag)
}

// DiskAnchorHandle wraps an anchor stored inside a TypedHandle (typically
// the master block, or a block the caller owns directly).
func DiskAnchorHandle[A any](h TypedHandle[A], flag *AnchorFlag) AnchorHandle[A] {
	return NewAnchorHandle(h.Get, h.Set, flag)
}

// Get returns the anchor's current value.
func (h AnchorHandle[A]) Get() A { return h.get() }

// Set overwrites the anchor's value and raises the change flag, if any.
func (h AnchorHandle[A]) Set(v A) {
	h.set(v)
	h.markChanged()
}

func (h AnchorHandle[A]) markChanged() {
	if h.flag != nil {
		h.flag.Set()
	}
}

// Valid reports whether the handle is usable.
func (h AnchorHandle[A]) Valid() bool { return h.get != nil }

// AnchorMember projects a handle to one field of the anchor (in
// declaration order, 0-based), sharing the parent's change flag -- the Go
// analogue of anchor_handle<Anchor>::member<&Anchor::m>(). get/set
// round-trip the whole parent value on every access since anchors are
// small, fixed-size, and rewritten as a unit.
func AnchorMember[A any, M any](h AnchorHandle[A], fieldIndex int) AnchorHandle[M] {
	return NewAnchorHandle(
		func() M {
			parent := h.Get()
			return fieldValue[A, M](parent, fieldIndex)
		},
		func(v M) {
			parent := h.Get()
			setFieldValue[A, M](&parent, fieldIndex, v)
			h.Set(parent)
		},
		h.flag,
	)
}
