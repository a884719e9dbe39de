// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package ext4

import (
	"encoding/binary"
	"errors"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

const (
	extentMagic    = 0xF30A
	extentCellSize = 12

	// MaxExtentLen is the longest run one extent can map: the length field
	// is 16 bits wide and the values above 32768 are reserved for
	// uninitialized extents.
	MaxExtentLen = 32768
)

// errLevelFull reports that an extent tree level has no free entry slot, so
// the insertion has to happen one level up (or the tree must grow).
var errLevelFull = errors.New("extent tree level is full")

// Extent maps a run of logical file blocks onto consecutive physical
// blocks. FAT addresses clusters with 32 bits, so the 16-bit physical high
// half is always zero here.
type Extent struct {
	LogicalStart  uint32
	Len           uint16
	PhysicalStart uint32
}

func (e Extent) physicalEnd() uint32 {
	return e.PhysicalStart + uint32(e.Len)
}

// AsRange returns the physical blocks covered by the extent.
func (e Extent) AsRange() ranges.Range[uint32] {
	return ranges.Range[uint32]{Start: e.PhysicalStart, End: e.physicalEnd()}
}

// RangesToExtents converts a file's physical block ranges into extents with
// consecutive logical starts, splitting any range longer than an extent can
// map.
func RangesToExtents(rs []ranges.Range[uint32]) []Extent {
	var extents []Extent
	logicalStart := uint32(0)
	for _, r := range rs {
		for r.Start < r.End {
			length := min(r.End-r.Start, MaxExtentLen)
			extents = append(extents, Extent{
				LogicalStart:  logicalStart,
				Len:           uint16(length),
				PhysicalStart: r.Start,
			})
			logicalStart += length
			r.Start += length
		}
	}
	return extents
}

// extentHeader leads every extent tree level.
type extentHeader struct {
	Magic      uint16
	Entries    uint16
	MaxEntries uint16
	Depth      uint16
	Generation uint32
}

// extentLevel is one level of an extent tree: a header cell followed by
// MaxEntries entry cells, laid out in either the inode's 60-byte extent
// area or a whole tree block.
type extentLevel struct {
	cells []byte
}

func (l extentLevel) header() extentHeader {
	b := l.cells
	return extentHeader{
		Magic:      binary.LittleEndian.Uint16(b),
		Entries:    binary.LittleEndian.Uint16(b[2:]),
		MaxEntries: binary.LittleEndian.Uint16(b[4:]),
		Depth:      binary.LittleEndian.Uint16(b[6:]),
		Generation: binary.LittleEndian.Uint32(b[8:]),
	}
}

func (l extentLevel) writeHeader(h extentHeader) {
	b := l.cells
	binary.LittleEndian.PutUint16(b, h.Magic)
	binary.LittleEndian.PutUint16(b[2:], h.Entries)
	binary.LittleEndian.PutUint16(b[4:], h.MaxEntries)
	binary.LittleEndian.PutUint16(b[6:], h.Depth)
	binary.LittleEndian.PutUint32(b[8:], h.Generation)
}

// entry returns the bytes of the i-th entry cell (0-based, the header not
// counted).
func (l extentLevel) entry(i int) []byte {
	off := (i + 1) * extentCellSize
	return l.cells[off : off+extentCellSize]
}

func (l extentLevel) isLeaf() bool {
	return l.header().Depth == 0
}

func (l extentLevel) isFull() bool {
	h := l.header()
	return h.Entries == h.MaxEntries
}

// appendExtent stores e in the next free cell of a leaf level.
func (l extentLevel) appendExtent(e Extent) error {
	h := l.header()
	if h.Depth != 0 {
		panic("appending an extent to an interior extent tree level")
	}
	if h.Entries == h.MaxEntries {
		return errLevelFull
	}

	cell := l.entry(int(h.Entries))
	binary.LittleEndian.PutUint32(cell, e.LogicalStart)
	binary.LittleEndian.PutUint16(cell[4:], e.Len)
	binary.LittleEndian.PutUint16(cell[6:], 0) // physical start, high half
	binary.LittleEndian.PutUint32(cell[8:], e.PhysicalStart)

	h.Entries++
	l.writeHeader(h)
	return nil
}

// appendIdx stores an index entry pointing at leafBlock in the next free
// cell of an interior level.
func (l extentLevel) appendIdx(logicalStart, leafBlock uint32) error {
	h := l.header()
	if h.Depth == 0 {
		panic("appending an index entry to a leaf extent tree level")
	}
	if h.Entries == h.MaxEntries {
		return errLevelFull
	}

	cell := l.entry(int(h.Entries))
	binary.LittleEndian.PutUint32(cell, logicalStart)
	binary.LittleEndian.PutUint32(cell[4:], leafBlock)
	binary.LittleEndian.PutUint16(cell[8:], 0)  // leaf block, high half
	binary.LittleEndian.PutUint16(cell[10:], 0) // padding

	h.Entries++
	l.writeHeader(h)
	return nil
}

// lastChildBlock returns the block index stored in the last index entry of
// an interior level.
func (l extentLevel) lastChildBlock() uint32 {
	h := l.header()
	if h.Depth == 0 || h.Entries == 0 {
		panic("interior extent tree level without a child")
	}
	return binary.LittleEndian.Uint32(l.entry(int(h.Entries) - 1)[4:])
}

// extentTree builds an inode's extent tree by appending extents at the
// logical end. New index and leaf blocks come from the allocator; their
// indices are reported back so the caller can account them as used.
type extentTree struct {
	inode     *Inode
	allocator *alloc.Allocator
}

func (t extentTree) root() extentLevel {
	return extentLevel{cells: t.inode.extentRoot[:]}
}

// blockLevel reinterprets an allocated tree block as a level.
func (t extentTree) blockLevel(blockIdx uint32) extentLevel {
	return extentLevel{cells: t.allocator.Cluster(alloc.Reclaim(blockIdx))}
}

func (t extentTree) blockEntryCapacity() uint16 {
	return uint16(t.allocator.BlockSize()/extentCellSize) - 1
}

// add appends e to the tree, deepening it when the root runs out of slots.
// It returns the tree blocks allocated along the way.
func (t extentTree) add(e Extent) ([]uint32, error) {
	blocks, err := t.addToLevel(t.root(), e)
	if err == nil || !errors.Is(err, errLevelFull) {
		return blocks, err
	}

	rootBlock, err := t.makeDeeper()
	if err != nil {
		return nil, err
	}
	blocks, err = t.addToLevel(t.root(), e)
	if err != nil {
		return nil, err
	}
	return append(blocks, rootBlock), nil
}

// addToLevel tries to append e below the given level: straight into it if
// it is a leaf, into its last child otherwise, growing new subtrees on the
// right edge as the old ones fill up.
func (t extentTree) addToLevel(level extentLevel, e Extent) ([]uint32, error) {
	if level.isLeaf() {
		// if the leaf is full there is nothing this level can do about it
		return nil, level.appendExtent(e)
	}

	child := t.blockLevel(level.lastChildBlock())
	blocks, err := t.addToLevel(child, e)
	if err == nil || !errors.Is(err, errLevelFull) {
		return blocks, err
	}

	// everything below the last child is full, grow a new subtree
	return t.addWithNewChild(level, e)
}

// addWithNewChild appends a fresh child level (and, below it, a chain of
// fresh levels down to a leaf) holding e.
func (t extentTree) addWithNewChild(level extentLevel, e Extent) ([]uint32, error) {
	if level.isFull() {
		return nil, errLevelFull
	}

	childIdx, err := t.allocator.AllocateOne()
	if err != nil {
		return nil, err
	}
	childCells := t.allocator.Cluster(childIdx)
	clear(childCells)
	child := extentLevel{cells: childCells}
	child.writeHeader(extentHeader{
		Magic:      extentMagic,
		MaxEntries: t.blockEntryCapacity(),
		Depth:      level.header().Depth - 1,
	})

	if err := level.appendIdx(e.LogicalStart, childIdx.Idx()); err != nil {
		// the level was checked for room above
		panic(err)
	}

	if child.isLeaf() {
		if err := child.appendExtent(e); err != nil {
			panic(err)
		}
		return []uint32{childIdx.Idx()}, nil
	}

	blocks, err := t.addWithNewChild(child, e)
	if err != nil {
		return nil, err
	}
	return append(blocks, childIdx.Idx()), nil
}

// makeDeeper grows the tree by one level: the root's cells move into a
// fresh block, and the root is reinitialized to point at it. Returns the
// block's index.
func (t extentTree) makeDeeper() (uint32, error) {
	newIdx, err := t.allocator.AllocateOne()
	if err != nil {
		return 0, err
	}
	newCells := t.allocator.Cluster(newIdx)
	clear(newCells)

	root := t.root()
	oldHeader := root.header()

	// the relocated level gains the capacity of a whole block
	copy(newCells, root.cells)
	moved := extentLevel{cells: newCells}
	movedHeader := oldHeader
	movedHeader.MaxEntries = t.blockEntryCapacity()
	moved.writeHeader(movedHeader)

	root.writeHeader(extentHeader{
		Magic:      extentMagic,
		MaxEntries: inodeExtentSlots - 1,
		Depth:      oldHeader.Depth + 1,
	})
	if err := root.appendIdx(0, newIdx.Idx()); err != nil {
		panic(err)
	}
	return newIdx.Idx(), nil
}
