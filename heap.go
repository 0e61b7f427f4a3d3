// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Object heap, grounded on the original design's include/prequel/heap.hpp
// and extpp/heap/segregated_free_list.hpp: a store for variable-length
// byte objects. Small objects (those that fit, with a 4-byte length
// prefix, in half a block or less) are packed into size-classed slots
// carved out of whole blocks, with each class's free slots threaded into
// an intrusive singly linked list the way a segregated free list works --
// a freed slot's first 8 bytes hold the Reference of the next free slot
// in its class, or InvalidReference. Objects too large for the biggest
// small-object class get a dedicated run of blocks from the block
// Allocator directly, the same distinction the original draws between
// heap_reference's "small" and "large" object kinds.
package prequel

const (
	heapMinSlotSize   = 16
	heapMaxSizeClasses = 32
)

// Reference identifies an object stored in a Heap. Use InvalidReference
// for "no object". References are comparable with ==.
type Reference uint64

// InvalidReference is the reserved sentinel meaning "no object". Block 0
// is always the master block and is never handed out by the block
// Allocator, so the zero Reference -- which would otherwise decode to
// slot 0 of class 0 of block 0 -- can never be produced by a genuine
// allocation, making it a safe, naturally-arising sentinel without the
// original's need to reserve a dedicated bit pattern for it.
const InvalidReference Reference = 0

// Valid reports whether r identifies an object.
func (r Reference) Valid() bool { return r != InvalidReference }

const refLargeBit = uint64(1) << 63
const refSlotBits = 8
const refClassBits = 8
const refSlotMask = uint64(1)<<refSlotBits - 1
const refClassShift = refSlotBits
const refClassMask = uint64(1)<<refClassBits - 1
const refBlockShift = refSlotBits + refClassBits

// refBlockMask keeps a small ref's block field clear of refLargeBit even
// for the largest block indices this encoding supports (2^47 blocks).
const refBlockMask = refLargeBit>>refBlockShift - 1

func makeSmallRef(block BlockIndex, class, slot int) Reference {
	return Reference((uint64(block)&refBlockMask)<<refBlockShift | (uint64(class)&refClassMask)<<refClassShift | uint64(slot)&refSlotMask)
}

func (r Reference) isLarge() bool { return uint64(r)&refLargeBit != 0 }

func (r Reference) smallBlock() BlockIndex { return BlockIndex(uint64(r) >> refBlockShift) }
func (r Reference) smallClass() int        { return int((uint64(r) >> refClassShift) & refClassMask) }
func (r Reference) smallSlot() int         { return int(uint64(r) & refSlotMask) }

func makeLargeRef(block BlockIndex) Reference { return Reference(uint64(block) | refLargeBit) }
func (r Reference) largeBlock() BlockIndex    { return BlockIndex(uint64(r) &^ refLargeBit) }

// HeapAnchor is the persistent root of a Heap.
type HeapAnchor struct {
	FreeListHeads [heapMaxSizeClasses]Reference
	LiveObjects   uint64
	SmallBlocks   uint64
	LargeBlocks   uint64
}

// Heap stores variable-length byte objects.
type Heap struct {
	engine     Engine
	alloc      Allocator
	anchor     AnchorHandle[HeapAnchor]
	classSizes []int // ascending; each is a whole slot size including the 4-byte length prefix
}

// NewHeap builds an accessor for a heap rooted at anchor.
func NewHeap(engine Engine, alloc Allocator, anchor AnchorHandle[HeapAnchor]) *Heap {
	h := &Heap{engine: engine, alloc: alloc, anchor: anchor}
	blockSize := int(engine.BlockSize())
	for size := heapMinSlotSize; size <= blockSize/2 && len(h.classSizes) < heapMaxSizeClasses; size *= 2 {
		h.classSizes = append(h.classSizes, size)
	}
	return h
}

// LiveObjects returns the number of objects currently stored in the heap.
func (h *Heap) LiveObjects() uint64 { return h.anchor.Get().LiveObjects }

// classFor returns the smallest size class that can hold needed bytes
// (including the 4-byte length prefix), or ok=false if needed exceeds
// every small-object class and the object must be stored as a large
// object instead.
func (h *Heap) classFor(needed int) (class int, ok bool) {
	for i, size := range h.classSizes {
		if size >= needed {
			return i, true
		}
	}
	return 0, false
}

func readReference(data []byte) Reference {
	var r Reference
	Deserialize(data[:8], &r)
	return r
}

func writeReference(data []byte, r Reference) { Serialize(r, data[:8]) }

// growClass allocates a fresh block for class, carves it into slots,
// keeps the first slot for the caller and prepends the rest onto the
// class's free list.
func (h *Heap) growClass(class int) (Reference, error) {
	size := h.classSizes[class]
	idx, err := h.alloc.Allocate(1)
	if err != nil {
		return InvalidReference, err
	}
	bh, err := h.engine.OverwriteZero(idx)
	if err != nil {
		return InvalidReference, err
	}
	buf := bh.WritableData()
	slots := len(buf) / size

	a := h.anchor.Get()
	next := a.FreeListHeads[class]
	for s := slots - 1; s >= 1; s-- {
		writeReference(buf[s*size:], next)
		next = makeSmallRef(idx, class, s)
	}
	bh.Release()

	a.FreeListHeads[class] = next
	a.SmallBlocks++
	h.anchor.Set(a)
	return makeSmallRef(idx, class, 0), nil
}

// Allocate stores data as a new object and returns a Reference to it.
func (h *Heap) Allocate(data []byte) (Reference, error) {
	needed := 4 + len(data)
	class, ok := h.classFor(needed)
	if !ok {
		return h.allocateLarge(data)
	}

	a := h.anchor.Get()
	head := a.FreeListHeads[class]
	var ref Reference
	if head.Valid() {
		bh, err := h.engine.Read(head.smallBlock())
		if err != nil {
			return InvalidReference, err
		}
		off := head.smallSlot() * h.classSizes[class]
		nextFree := readReference(bh.Data()[off:])
		bh.Release()
		a.FreeListHeads[class] = nextFree
		h.anchor.Set(a)
		ref = head
	} else {
		var err error
		ref, err = h.growClass(class)
		if err != nil {
			return InvalidReference, err
		}
	}

	bh, err := h.engine.Read(ref.smallBlock())
	if err != nil {
		return InvalidReference, err
	}
	off := ref.smallSlot() * h.classSizes[class]
	buf := bh.WritableData()[off : off+h.classSizes[class]]
	putBE32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)
	bh.Release()

	a = h.anchor.Get()
	a.LiveObjects++
	h.anchor.Set(a)
	return ref, nil
}

func (h *Heap) allocateLarge(data []byte) (Reference, error) {
	blockSize := int(h.engine.BlockSize())
	total := 4 + len(data)
	blocks := (total + blockSize - 1) / blockSize
	start, err := h.alloc.Allocate(int64(blocks))
	if err != nil {
		return InvalidReference, err
	}

	lenBuf := make([]byte, 4)
	putBE32(lenBuf, uint32(len(data)))
	payload := append(lenBuf, data...)
	for i := 0; i < blocks; i++ {
		chunk := make([]byte, blockSize)
		copy(chunk, payload[i*blockSize:min(len(payload), (i+1)*blockSize)])
		bh, err := h.engine.Overwrite(start.Add(int64(i)), chunk)
		if err != nil {
			return InvalidReference, err
		}
		bh.Release()
	}

	a := h.anchor.Get()
	a.LiveObjects++
	a.LargeBlocks += uint64(blocks)
	h.anchor.Set(a)
	return makeLargeRef(start), nil
}

// Get returns the bytes stored for ref.
func (h *Heap) Get(ref Reference) ([]byte, error) {
	if !ref.Valid() {
		return nil, &BadArgument{Msg: "invalid heap reference"}
	}
	if ref.isLarge() {
		return h.getLarge(ref)
	}
	class := ref.smallClass()
	bh, err := h.engine.Read(ref.smallBlock())
	if err != nil {
		return nil, err
	}
	defer bh.Release()
	off := ref.smallSlot() * h.classSizes[class]
	buf := bh.Data()[off : off+h.classSizes[class]]
	n := be32(buf[0:4])
	out := make([]byte, n)
	copy(out, buf[4:4+n])
	return out, nil
}

func (h *Heap) getLarge(ref Reference) ([]byte, error) {
	blockSize := int(h.engine.BlockSize())
	start := ref.largeBlock()
	bh0, err := h.engine.Read(start)
	if err != nil {
		return nil, err
	}
	n := int(be32(bh0.Data()[0:4]))
	total := 4 + n
	blocks := (total + blockSize - 1) / blockSize
	out := make([]byte, 0, n)
	out = append(out, bh0.Data()[4:min(blockSize, total)]...)
	bh0.Release()
	for i := 1; i < blocks; i++ {
		bh, err := h.engine.Read(start.Add(int64(i)))
		if err != nil {
			return nil, err
		}
		end := min(blockSize, total-i*blockSize)
		out = append(out, bh.Data()[:end]...)
		bh.Release()
	}
	return out, nil
}

// Set overwrites the bytes stored for ref. The new content must fit in
// ref's existing size class (or, for a large object, its existing block
// run); use Free+Allocate to change an object's size.
func (h *Heap) Set(ref Reference, data []byte) error {
	if !ref.Valid() {
		return &BadArgument{Msg: "invalid heap reference"}
	}
	if ref.isLarge() {
		return h.setLarge(ref, data)
	}
	class := ref.smallClass()
	if 4+len(data) > h.classSizes[class] {
		return &BadArgument{Msg: "value too large for its heap reference's size class", Arg: len(data)}
	}
	bh, err := h.engine.Read(ref.smallBlock())
	if err != nil {
		return err
	}
	defer bh.Release()
	off := ref.smallSlot() * h.classSizes[class]
	buf := bh.WritableData()[off : off+h.classSizes[class]]
	putBE32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)
	return nil
}

func (h *Heap) setLarge(ref Reference, data []byte) error {
	blockSize := int(h.engine.BlockSize())
	start := ref.largeBlock()
	bh0, err := h.engine.Read(start)
	if err != nil {
		return err
	}
	oldN := int(be32(bh0.Data()[0:4]))
	oldBlocks := (4 + oldN + blockSize - 1) / blockSize
	bh0.Release()
	newBlocks := (4 + len(data) + blockSize - 1) / blockSize
	if newBlocks != oldBlocks {
		return &BadArgument{Msg: "large heap object resize must go through Free+Allocate", Arg: len(data)}
	}
	lenBuf := make([]byte, 4)
	putBE32(lenBuf, uint32(len(data)))
	payload := append(lenBuf, data...)
	for i := 0; i < newBlocks; i++ {
		chunk := make([]byte, blockSize)
		copy(chunk, payload[i*blockSize:min(len(payload), (i+1)*blockSize)])
		bh, err := h.engine.Overwrite(start.Add(int64(i)), chunk)
		if err != nil {
			return err
		}
		bh.Release()
	}
	return nil
}

// Free releases the object identified by ref.
func (h *Heap) Free(ref Reference) error {
	if !ref.Valid() {
		return &BadArgument{Msg: "invalid heap reference"}
	}
	if ref.isLarge() {
		return h.freeLarge(ref)
	}
	class := ref.smallClass()
	bh, err := h.engine.Read(ref.smallBlock())
	if err != nil {
		return err
	}
	off := ref.smallSlot() * h.classSizes[class]
	a := h.anchor.Get()
	writeReference(bh.WritableData()[off:], a.FreeListHeads[class])
	bh.Release()
	a.FreeListHeads[class] = ref
	a.LiveObjects--
	h.anchor.Set(a)
	return nil
}

func (h *Heap) freeLarge(ref Reference) error {
	blockSize := int(h.engine.BlockSize())
	start := ref.largeBlock()
	bh, err := h.engine.Read(start)
	if err != nil {
		return err
	}
	n := int(be32(bh.Data()[0:4]))
	bh.Release()
	blocks := int64((4 + n + blockSize - 1) / blockSize)
	if err := h.alloc.Free(start, blocks); err != nil {
		return err
	}
	a := h.anchor.Get()
	a.LiveObjects--
	a.LargeBlocks -= uint64(blocks)
	h.anchor.Set(a)
	return nil
}
