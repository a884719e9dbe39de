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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

const testBlockSize = 1024

func newTestTree(t *testing.T, clusters int) extentTree {
	t.Helper()
	data := make([]byte, clusters*testBlockSize)
	allocator := alloc.New(data, testBlockSize, ranges.New[uint32]())
	return extentTree{inode: newInode(12), allocator: allocator}
}

// collect walks the tree and returns its extents in order, checking the
// structural invariants along the way.
func collect(t *testing.T, tree extentTree, level extentLevel, expectDepth int) []Extent {
	t.Helper()
	h := level.header()
	require.Equal(t, uint16(extentMagic), h.Magic)
	require.Equal(t, expectDepth, int(h.Depth))
	require.LessOrEqual(t, h.Entries, h.MaxEntries)

	var extents []Extent
	for i := 0; i < int(h.Entries); i++ {
		cell := level.entry(i)
		logicalStart := le32(cell)
		if len(extents) > 0 {
			require.Greater(t, logicalStart, extents[len(extents)-1].LogicalStart)
		}
		if h.Depth == 0 {
			extents = append(extents, Extent{
				LogicalStart:  logicalStart,
				Len:           le16(cell[4:]),
				PhysicalStart: le32(cell[8:]),
			})
		} else {
			child := tree.blockLevel(le32(cell[4:]))
			childExtents := collect(t, tree, child, expectDepth-1)
			require.NotEmpty(t, childExtents)
			require.Equal(t, logicalStart, childExtents[0].LogicalStart)
			extents = append(extents, childExtents...)
		}
	}
	return extents
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func addOneBlockExtents(t *testing.T, tree extentTree, n int) int {
	t.Helper()
	allocated := 0
	for i := 0; i < n; i++ {
		blocks, err := tree.add(Extent{
			LogicalStart:  uint32(i),
			Len:           1,
			PhysicalStart: uint32(100000 + 2*i), // never adjacent
		})
		require.NoError(t, err)
		allocated += len(blocks)
	}
	return allocated
}

func TestExtentsFitInInode(t *testing.T) {
	tree := newTestTree(t, 8)
	allocated := addOneBlockExtents(t, tree, 4)
	require.Zero(t, allocated)

	extents := collect(t, tree, tree.root(), 0)
	require.Len(t, extents, 4)
}

func TestFifthExtentDeepensTree(t *testing.T) {
	tree := newTestTree(t, 8)
	allocated := addOneBlockExtents(t, tree, 5)
	// one block for the relocated root level
	require.Equal(t, 1, allocated)

	require.Equal(t, uint16(1), tree.root().header().Depth)
	extents := collect(t, tree, tree.root(), 1)
	require.Len(t, extents, 5)
}

func TestTreeGrowsToDepthTwo(t *testing.T) {
	const extentCount = 2049

	tree := newTestTree(t, 64)
	allocated := addOneBlockExtents(t, tree, extentCount)

	require.GreaterOrEqual(t, int(tree.root().header().Depth), 2)

	extents := collect(t, tree, tree.root(), int(tree.root().header().Depth))
	require.Len(t, extents, extentCount)
	for i, e := range extents {
		require.Equal(t, uint32(i), e.LogicalStart)
		require.Equal(t, uint32(100000+2*i), e.PhysicalStart)
	}

	// the reported additional blocks are exactly the non-root tree nodes
	require.Equal(t, countTreeBlocks(tree, tree.root()), allocated)
}

func countTreeBlocks(tree extentTree, level extentLevel) int {
	h := level.header()
	if h.Depth == 0 {
		return 0
	}
	count := 0
	for i := 0; i < int(h.Entries); i++ {
		childBlock := le32(level.entry(i)[4:])
		count += 1 + countTreeBlocks(tree, tree.blockLevel(childBlock))
	}
	return count
}

func TestRangesToExtents(t *testing.T) {
	rs := []ranges.Range[uint32]{
		{Start: 100, End: 103},
		{Start: 200, End: 200 + MaxExtentLen + 5},
	}

	extents := RangesToExtents(rs)
	require.Equal(t, []Extent{
		{LogicalStart: 0, Len: 3, PhysicalStart: 100},
		{LogicalStart: 3, Len: MaxExtentLen, PhysicalStart: 200},
		{LogicalStart: 3 + MaxExtentLen, Len: 5, PhysicalStart: 200 + MaxExtentLen},
	}, extents)
}
