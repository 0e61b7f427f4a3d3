// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prequel

// cursorState is the small state machine a Cursor moves through.
type cursorState uint8

const (
	cursorInvalid cursorState = iota
	cursorValid
	cursorEnd
	cursorDeleted
)

// Cursor is a stable reference to a position within a BTree. Rather than
// caching a path of ancestor blocks (which a split or merge anywhere
// along that path would invalidate), a Cursor instead remembers the key
// of the value it points to and re-resolves its position by a fresh
// O(log n) search whenever it is dereferenced or moved. Because B+ tree
// keys are stable identifiers independent of physical node layout, this
// gives the same observable stability contract as an intrusively tracked
// path without requiring the tree to know about its live cursors -- see
// DESIGN.md for why this departs from the original design's
// tree-registered cursor list.
type Cursor[V any, K any] struct {
	tree  *BTree[V, K]
	state cursorState
	key   K // meaningful when state is cursorValid or cursorDeleted
}

// Valid reports whether the cursor currently points at a value.
func (c *Cursor[V, K]) Valid() bool { return c.state == cursorValid }

// AtEnd reports whether the cursor has moved past either end of the
// tree.
func (c *Cursor[V, K]) AtEnd() bool { return c.state == cursorEnd }

// locate re-resolves the cursor's remembered key to a current tree
// position. A plain key relookup is not by itself enough to detect
// erasure through another cursor pointing at the same value: if the key
// is gone, lowerBoundPos lands on the next larger key instead of
// reporting atEnd, so locate also checks that the value actually found
// still carries this cursor's key. If it doesn't (or there is no next
// entry at all), the value was erased out from under this cursor, and
// locate transitions it to cursorDeleted itself -- the same state an
// Erase performed through this cursor would leave it in -- and reports
// ok=false.
func (c *Cursor[V, K]) locate() (pos posResult, ok bool, err error) {
	pos, err = c.tree.lowerBoundPos(c.key)
	if err != nil {
		return posResult{}, false, err
	}
	if pos.atEnd {
		c.state = cursorDeleted
		return posResult{}, false, nil
	}
	v, err := c.tree.valueAt(pos)
	if err != nil {
		return posResult{}, false, err
	}
	if !c.tree.equal(c.tree.keyOf(v), c.key) {
		c.state = cursorDeleted
		return posResult{}, false, nil
	}
	return pos, true, nil
}

// Get returns the value the cursor points to. The cursor must be Valid.
func (c *Cursor[V, K]) Get() (V, error) {
	var zero V
	if c.state != cursorValid {
		return zero, &BadCursor{Msg: "cursor does not point to a value"}
	}
	pos, ok, err := c.locate()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, &BadCursor{Msg: "cursor's value is no longer present"}
	}
	return c.tree.valueAt(pos)
}

// Set overwrites the value the cursor points to. The replacement must
// derive the same key; use Erase+Insert to change a value's key.
func (c *Cursor[V, K]) Set(v V) error {
	if c.state != cursorValid {
		return &BadCursor{Msg: "cursor does not point to a value"}
	}
	if !c.tree.equal(c.tree.keyOf(v), c.key) {
		return &BadArgument{Msg: "Set must preserve the cursor's key", Arg: c.key}
	}
	pos, ok, err := c.locate()
	if err != nil {
		return err
	}
	if !ok {
		return &BadCursor{Msg: "cursor's value is no longer present"}
	}
	n, h, err := c.tree.loadLeaf(pos.leaf)
	if err != nil {
		return err
	}
	defer h.Release()
	n.setRawValue(pos.index, c.tree.encodeValue(v))
	return nil
}

// MoveNext advances the cursor to the next value in key order. Calling
// MoveNext on a deleted cursor moves to the value's former successor.
func (c *Cursor[V, K]) MoveNext() error {
	switch c.state {
	case cursorValid:
		pos, ok, err := c.locate()
		if err != nil {
			return err
		}
		if !ok {
			// locate already moved us to cursorDeleted; that state's
			// MoveNext is exactly what an erased-elsewhere cursor needs.
			return c.MoveNext()
		}
		nxt, err := c.tree.stepNext(pos.leaf, pos.index)
		if err != nil {
			return err
		}
		return c.settle(nxt)
	case cursorDeleted:
		pos, err := c.tree.lowerBoundPos(c.key)
		if err != nil {
			return err
		}
		return c.settle(pos)
	default:
		return nil
	}
}

// MovePrev retreats the cursor to the previous value in key order.
// Calling MovePrev on a deleted cursor moves to the value's former
// predecessor.
func (c *Cursor[V, K]) MovePrev() error {
	switch c.state {
	case cursorValid:
		pos, ok, err := c.locate()
		if err != nil {
			return err
		}
		if !ok {
			return c.MovePrev()
		}
		prev, stepOk, err := c.tree.stepPrev(pos.leaf, pos.index)
		if err != nil {
			return err
		}
		if !stepOk {
			c.state = cursorEnd
			return nil
		}
		return c.settle(prev)
	case cursorDeleted:
		succ, err := c.tree.lowerBoundPos(c.key)
		if err != nil {
			return err
		}
		var pos posResult
		var ok bool
		if succ.atEnd {
			maxCur, err := c.tree.MoveMax()
			if err != nil {
				return err
			}
			if maxCur.state != cursorValid {
				c.state = cursorEnd
				return nil
			}
			c.key = maxCur.key
			c.state = cursorValid
			return nil
		}
		pos, ok, err = c.tree.stepPrev(succ.leaf, succ.index)
		if err != nil {
			return err
		}
		if !ok {
			c.state = cursorEnd
			return nil
		}
		return c.settle(pos)
	default:
		return nil
	}
}

func (c *Cursor[V, K]) settle(pos posResult) error {
	if pos.atEnd {
		c.state = cursorEnd
		return nil
	}
	v, err := c.tree.valueAt(pos)
	if err != nil {
		return err
	}
	c.key = c.tree.keyOf(v)
	c.state = cursorValid
	return nil
}
