// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Stack, grounded on the original design's
// include/prequel/{raw_stack,stack}.hpp: a LIFO built directly on List,
// the same way the original stack is a thin wrapper over raw_stack.
package prequel

// Stack is a last-in-first-out sequence of fixed-size values of type V.
type Stack[V any] struct {
	inner *List[V]
}

// NewStack builds an accessor for a stack rooted at anchor.
func NewStack[V any](engine Engine, alloc Allocator, anchor AnchorHandle[ListAnchor]) *Stack[V] {
	return &Stack[V]{inner: NewList[V](engine, alloc, anchor)}
}

// Empty reports whether the stack holds zero values.
func (s *Stack[V]) Empty() bool { return s.inner.Empty() }

// Size returns the number of values on the stack.
func (s *Stack[V]) Size() uint64 { return s.inner.Size() }

// Nodes returns the number of blocks currently allocated.
func (s *Stack[V]) Nodes() uint64 { return s.inner.Nodes() }

// ByteSize returns the total size of the stack's storage, in bytes.
func (s *Stack[V]) ByteSize() uint64 { return s.inner.ByteSize() }

// Push adds value to the top of the stack.
func (s *Stack[V]) Push(value V) error { return s.inner.PushBack(value) }

// Top returns the value at the top of the stack without removing it.
func (s *Stack[V]) Top() (V, error) { return s.inner.Back() }

// Pop removes and discards the value at the top of the stack.
func (s *Stack[V]) Pop() error { return s.inner.PopBack() }

// Reset frees all storage used by the stack.
func (s *Stack[V]) Reset() error { return s.inner.Reset() }
