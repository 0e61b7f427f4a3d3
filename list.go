// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Doubly linked list, grounded on the original design's
// include/prequel/{raw_list,list}.hpp, built on the same
// Engine/Allocator/Address substrate as the B+ tree.
//
// Each node occupies exactly one block and holds exactly one value --
// unlike the original, which packs several values into each node for
// density. A node's block index is therefore a permanent identity for
// the value it holds, for as long as that value is not erased, so a cursor
// keeps its position across inserts and erases of other values without
// the B+ tree's key-relookup trick, which has no equivalent here since
// list values carry no key. There is no cursor registry: an erase updates
// only the cursor it is made through, and any other cursor positioned on
// the erased node is not told and still refers to the freed block.
package prequel

// ListAnchor is the persistent root of a List.
type ListAnchor struct {
	Size  uint64
	Nodes uint64
	First BlockIndex
	Last  BlockIndex
}

// List is a sequence of fixed-size values of type V stored as a doubly
// linked chain of single-value blocks.
type List[V any] struct {
	engine    Engine
	alloc     Allocator
	anchor    AnchorHandle[ListAnchor]
	valueSize int
}

// NewList builds an accessor for a list rooted at anchor.
func NewList[V any](engine Engine, alloc Allocator, anchor AnchorHandle[ListAnchor]) *List[V] {
	return &List[V]{engine: engine, alloc: alloc, anchor: anchor, valueSize: SerializedSize[V]()}
}

// Empty reports whether the list holds zero values.
func (l *List[V]) Empty() bool { return l.anchor.Get().Size == 0 }

// Size returns the number of values in the list.
func (l *List[V]) Size() uint64 { return l.anchor.Get().Size }

// Nodes returns the number of blocks the list currently occupies.
func (l *List[V]) Nodes() uint64 { return l.anchor.Get().Nodes }

// ByteSize returns the total size of the list's storage, in bytes.
func (l *List[V]) ByteSize() uint64 { return l.anchor.Get().Nodes * uint64(l.engine.BlockSize()) }

func (l *List[V]) loadNode(idx BlockIndex) (BlockHandle, error) { return l.engine.Read(idx) }

func listNodePrev(data []byte) BlockIndex {
	var b BlockIndex
	b.DecodeBinary(data[0:8])
	return b
}

func listNodeSetPrev(data []byte, b BlockIndex) { b.EncodeBinary(data[0:8]) }

func listNodeNext(data []byte) BlockIndex {
	var b BlockIndex
	b.DecodeBinary(data[8:16])
	return b
}

func listNodeSetNext(data []byte, b BlockIndex) { b.EncodeBinary(data[8:16]) }

const listNodeHeaderSize = 16

func (l *List[V]) encodeValue(v V) []byte {
	buf := make([]byte, l.valueSize)
	Serialize(v, buf)
	return buf
}

func (l *List[V]) decodeValue(raw []byte) V {
	var v V
	Deserialize(raw, &v)
	return v
}

// newNode allocates a block for a new list node with the given prev/next
// links and value, returning its index.
func (l *List[V]) newNode(prev, next BlockIndex, v V) (BlockIndex, error) {
	idx, err := l.alloc.Allocate(1)
	if err != nil {
		return InvalidBlockIndex, err
	}
	h, err := l.engine.OverwriteZero(idx)
	if err != nil {
		return InvalidBlockIndex, err
	}
	buf := h.WritableData()
	listNodeSetPrev(buf, prev)
	listNodeSetNext(buf, next)
	copy(buf[listNodeHeaderSize:listNodeHeaderSize+l.valueSize], l.encodeValue(v))
	h.Release()
	return idx, nil
}

// PushBack appends value to the end of the list.
func (l *List[V]) PushBack(value V) error {
	a := l.anchor.Get()
	empty := a.Size == 0
	prev := InvalidBlockIndex
	if !empty {
		prev = a.Last
	}
	idx, err := l.newNode(prev, InvalidBlockIndex, value)
	if err != nil {
		return err
	}
	if empty {
		a.First = idx
	} else {
		h, err := l.loadNode(a.Last)
		if err != nil {
			return err
		}
		listNodeSetNext(h.WritableData(), idx)
		h.Release()
	}
	a.Last = idx
	a.Size++
	a.Nodes++
	l.anchor.Set(a)
	return nil
}

// PushFront prepends value to the start of the list.
func (l *List[V]) PushFront(value V) error {
	a := l.anchor.Get()
	empty := a.Size == 0
	next := InvalidBlockIndex
	if !empty {
		next = a.First
	}
	idx, err := l.newNode(InvalidBlockIndex, next, value)
	if err != nil {
		return err
	}
	if empty {
		a.Last = idx
	} else {
		h, err := l.loadNode(a.First)
		if err != nil {
			return err
		}
		listNodeSetPrev(h.WritableData(), idx)
		h.Release()
	}
	a.First = idx
	a.Size++
	a.Nodes++
	l.anchor.Set(a)
	return nil
}

// Front returns the first value in the list.
func (l *List[V]) Front() (V, error) {
	var zero V
	a := l.anchor.Get()
	if a.Size == 0 {
		return zero, &BadOperation{Msg: "front on an empty list"}
	}
	h, err := l.loadNode(a.First)
	if err != nil {
		return zero, err
	}
	defer h.Release()
	return l.decodeValue(h.Data()[listNodeHeaderSize : listNodeHeaderSize+l.valueSize]), nil
}

// Back returns the last value in the list.
func (l *List[V]) Back() (V, error) {
	var zero V
	a := l.anchor.Get()
	if a.Size == 0 {
		return zero, &BadOperation{Msg: "back on an empty list"}
	}
	h, err := l.loadNode(a.Last)
	if err != nil {
		return zero, err
	}
	defer h.Release()
	return l.decodeValue(h.Data()[listNodeHeaderSize : listNodeHeaderSize+l.valueSize]), nil
}

// unlink removes idx's node from the chain, updating its neighbors and
// the anchor's First/Last as needed, and frees its block. It returns the
// node's former prev/next, for a cursor left pointing at it to remember.
func (l *List[V]) unlink(idx BlockIndex) (prev, next BlockIndex, err error) {
	h, err := l.loadNode(idx)
	if err != nil {
		return InvalidBlockIndex, InvalidBlockIndex, err
	}
	prev = listNodePrev(h.Data())
	next = listNodeNext(h.Data())
	h.Release()

	a := l.anchor.Get()
	if prev.Valid() {
		ph, err := l.loadNode(prev)
		if err != nil {
			return prev, next, err
		}
		listNodeSetNext(ph.WritableData(), next)
		ph.Release()
	} else {
		a.First = next
	}
	if next.Valid() {
		nh, err := l.loadNode(next)
		if err != nil {
			return prev, next, err
		}
		listNodeSetPrev(nh.WritableData(), prev)
		nh.Release()
	} else {
		a.Last = prev
	}
	a.Size--
	a.Nodes--
	l.anchor.Set(a)

	if err := l.alloc.Free(idx, 1); err != nil {
		return prev, next, err
	}
	return prev, next, nil
}

// PopBack removes the last value from the list.
func (l *List[V]) PopBack() error {
	a := l.anchor.Get()
	if a.Size == 0 {
		return &BadOperation{Msg: "pop_back on an empty list"}
	}
	_, _, err := l.unlink(a.Last)
	return err
}

// PopFront removes the first value from the list.
func (l *List[V]) PopFront() error {
	a := l.anchor.Get()
	if a.Size == 0 {
		return &BadOperation{Msg: "pop_front on an empty list"}
	}
	_, _, err := l.unlink(a.First)
	return err
}

// Reset frees every node in the list.
func (l *List[V]) Reset() error {
	a := l.anchor.Get()
	if a.Size == 0 {
		l.anchor.Set(ListAnchor{})
		return nil
	}
	n := a.First
	for n.Valid() {
		h, err := l.loadNode(n)
		if err != nil {
			return err
		}
		next := listNodeNext(h.Data())
		h.Release()
		if err := l.alloc.Free(n, 1); err != nil {
			return err
		}
		n = next
	}
	l.anchor.Set(ListAnchor{})
	return nil
}

// listCursorState mirrors the B+ tree cursor's state machine.
type listCursorState uint8

const (
	listCursorEnd listCursorState = iota
	listCursorValid
	listCursorDeleted
)

// ListCursor is a position within a List.
type ListCursor[V any] struct {
	list  *List[V]
	node  BlockIndex
	state listCursorState

	// remembered at deletion time, so MoveNext/MovePrev from a deleted
	// cursor still lands on the value's former neighbor.
	deletedPrev, deletedNext BlockIndex
}

// MoveFirst returns a cursor to the first value in the list.
func (l *List[V]) MoveFirst() *ListCursor[V] {
	a := l.anchor.Get()
	if a.Size == 0 {
		return &ListCursor[V]{list: l, state: listCursorEnd}
	}
	return &ListCursor[V]{list: l, node: a.First, state: listCursorValid}
}

// MoveLast returns a cursor to the last value in the list.
func (l *List[V]) MoveLast() *ListCursor[V] {
	a := l.anchor.Get()
	if a.Size == 0 {
		return &ListCursor[V]{list: l, state: listCursorEnd}
	}
	return &ListCursor[V]{list: l, node: a.Last, state: listCursorValid}
}

// Valid reports whether the cursor points at a value.
func (c *ListCursor[V]) Valid() bool { return c.state == listCursorValid }

// AtEnd reports whether the cursor has moved past either end of the list.
func (c *ListCursor[V]) AtEnd() bool { return c.state == listCursorEnd }

// Get returns the value the cursor points to.
func (c *ListCursor[V]) Get() (V, error) {
	var zero V
	if c.state != listCursorValid {
		return zero, &BadCursor{Msg: "cursor does not point to a value"}
	}
	h, err := c.list.loadNode(c.node)
	if err != nil {
		return zero, err
	}
	defer h.Release()
	return c.list.decodeValue(h.Data()[listNodeHeaderSize : listNodeHeaderSize+c.list.valueSize]), nil
}

// Set overwrites the value the cursor points to.
func (c *ListCursor[V]) Set(v V) error {
	if c.state != listCursorValid {
		return &BadCursor{Msg: "cursor does not point to a value"}
	}
	h, err := c.list.loadNode(c.node)
	if err != nil {
		return err
	}
	defer h.Release()
	buf := h.WritableData()
	copy(buf[listNodeHeaderSize:listNodeHeaderSize+c.list.valueSize], c.list.encodeValue(v))
	return nil
}

// MoveNext advances the cursor towards the list's tail.
func (c *ListCursor[V]) MoveNext() error {
	var next BlockIndex
	switch c.state {
	case listCursorValid:
		h, err := c.list.loadNode(c.node)
		if err != nil {
			return err
		}
		next = listNodeNext(h.Data())
		h.Release()
	case listCursorDeleted:
		next = c.deletedNext
	default:
		return nil
	}
	if !next.Valid() {
		c.state = listCursorEnd
		return nil
	}
	c.node = next
	c.state = listCursorValid
	return nil
}

// MovePrev retreats the cursor towards the list's head.
func (c *ListCursor[V]) MovePrev() error {
	var prev BlockIndex
	switch c.state {
	case listCursorValid:
		h, err := c.list.loadNode(c.node)
		if err != nil {
			return err
		}
		prev = listNodePrev(h.Data())
		h.Release()
	case listCursorDeleted:
		prev = c.deletedPrev
	default:
		return nil
	}
	if !prev.Valid() {
		c.state = listCursorEnd
		return nil
	}
	c.node = prev
	c.state = listCursorValid
	return nil
}

// Erase removes the value the cursor points to from the list. The cursor
// transitions to the deleted state; MoveNext/MovePrev still work from it.
func (l *List[V]) Erase(c *ListCursor[V]) error {
	if c.list != l {
		return &BadCursor{Msg: "cursor belongs to a different list"}
	}
	if c.state != listCursorValid {
		return &BadCursor{Msg: "cursor does not point to a value"}
	}
	prev, next, err := l.unlink(c.node)
	if err != nil {
		return err
	}
	c.deletedPrev, c.deletedNext = prev, next
	c.state = listCursorDeleted
	return nil
}
