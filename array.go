// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Dynamic array, grounded on the original design's
// include/prequel/{array,container/raw_array}.hpp: a vector-like sequence
// of fixed-size values backed by a single Extent, with pluggable growth
// and shrink-to-fit behaviour.
package prequel

// GrowthStrategy decides how many blocks a DynamicArray should hold after
// it needs to grow past its current capacity.
type GrowthStrategy interface {
	nextBlockCount(currentBlocks, neededBlocks uint64) uint64
}

// LinearGrowth rounds the block count up to the next multiple of
// ChunkBlocks.
type LinearGrowth struct {
	ChunkBlocks uint64
}

func (g LinearGrowth) nextBlockCount(_, needed uint64) uint64 {
	chunk := g.ChunkBlocks
	if chunk == 0 {
		chunk = 1
	}
	return ceilDiv(needed, chunk) * chunk
}

// ExponentialGrowth rounds the block count up to the next power of two.
type ExponentialGrowth struct{}

func (ExponentialGrowth) nextBlockCount(_, needed uint64) uint64 {
	return uint64(nextPowerOfTwo(int64(needed)))
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ArrayAnchor is the persistent root of a DynamicArray.
type ArrayAnchor struct {
	Storage ExtentAnchor
	Size    uint64
}

const (
	fieldArrayStorage = 0
	fieldArraySize    = 1
)

// DynamicArray is a sequence of fixed-size values of type V stored
// contiguously in an Extent, growing and shrinking according to a
// GrowthStrategy.
type DynamicArray[V any] struct {
	extent        *Extent
	size          AnchorHandle[uint64]
	valueSize     int
	blockCapacity uint64
	growth        GrowthStrategy
}

// NewDynamicArray builds an accessor for an array rooted at anchor. The
// default growth strategy is ExponentialGrowth.
func NewDynamicArray[V any](engine Engine, alloc Allocator, anchor AnchorHandle[ArrayAnchor]) *DynamicArray[V] {
	valueSize := SerializedSize[V]()
	storageAnchor := AnchorMember[ArrayAnchor, ExtentAnchor](anchor, fieldArrayStorage)
	sizeAnchor := AnchorMember[ArrayAnchor, uint64](anchor, fieldArraySize)
	return &DynamicArray[V]{
		extent:        NewExtent(engine, alloc, storageAnchor),
		size:          sizeAnchor,
		valueSize:     valueSize,
		blockCapacity: uint64(engine.BlockSize()) / uint64(valueSize),
		growth:        ExponentialGrowth{},
	}
}

// Growth sets the array's growth strategy.
func (a *DynamicArray[V]) Growth(g GrowthStrategy) { a.growth = g }

// GetGrowth returns the array's current growth strategy.
func (a *DynamicArray[V]) GetGrowth() GrowthStrategy { return a.growth }

// ValueSize returns the size of a serialized value, in bytes.
func (a *DynamicArray[V]) ValueSize() int { return a.valueSize }

// BlockCapacity returns the number of values that fit in a single block.
func (a *DynamicArray[V]) BlockCapacity() uint64 { return a.blockCapacity }

// Empty reports whether the array holds zero values.
func (a *DynamicArray[V]) Empty() bool { return a.size.Get() == 0 }

// Size returns the number of values in the array.
func (a *DynamicArray[V]) Size() uint64 { return a.size.Get() }

// Capacity returns the number of values the array can currently hold
// without growing its storage.
func (a *DynamicArray[V]) Capacity() uint64 { return a.extent.Size() * a.blockCapacity }

// Blocks returns the number of disk blocks currently allocated.
func (a *DynamicArray[V]) Blocks() uint64 { return a.extent.Size() }

// ByteSize returns the total size of the array's storage, in bytes.
func (a *DynamicArray[V]) ByteSize() uint64 { return a.extent.ByteSize() }

// FillFactor returns Size()/Capacity(), or 0 if the array has no capacity.
func (a *DynamicArray[V]) FillFactor() float64 {
	cap := a.Capacity()
	if cap == 0 {
		return 0
	}
	return float64(a.Size()) / float64(cap)
}

// Overhead returns Capacity()/Size(), or 1 if the array is empty.
func (a *DynamicArray[V]) Overhead() float64 {
	size := a.Size()
	if size == 0 {
		return 1
	}
	return float64(a.Capacity()) / float64(size)
}

func (a *DynamicArray[V]) locate(index uint64) (blockIdx uint64, offset int) {
	return index / a.blockCapacity, int(index%a.blockCapacity) * a.valueSize
}

// Get returns the value at index.
func (a *DynamicArray[V]) Get(index uint64) (V, error) {
	var zero V
	if index >= a.size.Get() {
		return zero, &BadArgument{Msg: "array index out of bounds", Arg: index}
	}
	blockIdx, offset := a.locate(index)
	h, err := a.extent.Read(blockIdx)
	if err != nil {
		return zero, err
	}
	defer h.Release()
	var v V
	Deserialize(h.Data()[offset:offset+a.valueSize], &v)
	return v, nil
}

// Set overwrites the value at index.
func (a *DynamicArray[V]) Set(index uint64, v V) error {
	if index >= a.size.Get() {
		return &BadArgument{Msg: "array index out of bounds", Arg: index}
	}
	blockIdx, offset := a.locate(index)
	h, err := a.extent.Read(blockIdx)
	if err != nil {
		return err
	}
	defer h.Release()
	Serialize(v, h.WritableData()[offset:offset+a.valueSize])
	return nil
}

func (a *DynamicArray[V]) setUnchecked(index uint64, v V) error {
	blockIdx, offset := a.locate(index)
	h, err := a.extent.Read(blockIdx)
	if err != nil {
		return err
	}
	defer h.Release()
	Serialize(v, h.WritableData()[offset:offset+a.valueSize])
	return nil
}

// Reset frees all storage used by the array.
func (a *DynamicArray[V]) Reset() error {
	if err := a.extent.Reset(); err != nil {
		return err
	}
	a.size.Set(0)
	return nil
}

// Clear removes all values but does not necessarily free storage.
func (a *DynamicArray[V]) Clear() error {
	a.size.Set(0)
	return nil
}

// Reserve ensures the array can hold at least n values without growing,
// respecting the current growth strategy.
func (a *DynamicArray[V]) Reserve(n uint64) error {
	if n <= a.Capacity() {
		return nil
	}
	neededBlocks := ceilDiv(n, a.blockCapacity)
	newBlocks := a.growth.nextBlockCount(a.extent.Size(), neededBlocks)
	if newBlocks < neededBlocks {
		newBlocks = neededBlocks
	}
	return a.extent.Resize(newBlocks)
}

// PushBack appends value to the end of the array, growing storage if
// necessary.
func (a *DynamicArray[V]) PushBack(value V) error {
	size := a.size.Get()
	if err := a.Reserve(size + 1); err != nil {
		return err
	}
	if err := a.setUnchecked(size, value); err != nil {
		return err
	}
	a.size.Set(size + 1)
	return nil
}

// PopBack removes the last value from the array.
func (a *DynamicArray[V]) PopBack() error {
	size := a.size.Get()
	if size == 0 {
		return &BadOperation{Msg: "pop_back on an empty array"}
	}
	a.size.Set(size - 1)
	return nil
}

// Resize changes the array's size to n. If n is greater than the current
// size, fill is used as the value for every new element; trailing blocks
// no longer needed are released if n is smaller than the current size.
func (a *DynamicArray[V]) Resize(n uint64, fill V) error {
	size := a.size.Get()
	switch {
	case n > size:
		if err := a.Reserve(n); err != nil {
			return err
		}
		for i := size; i < n; i++ {
			if err := a.setUnchecked(i, fill); err != nil {
				return err
			}
		}
		a.size.Set(n)
	case n < size:
		a.size.Set(n)
		neededBlocks := ceilDiv(n, a.blockCapacity)
		if neededBlocks < a.extent.Size() {
			if err := a.extent.Resize(neededBlocks); err != nil {
				return err
			}
		}
	}
	return nil
}
