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
	"github.com/ostafen/fat2ext4/internal/bitmap"
)

// BlockGroupInfo carries everything needed to lay a block group out in
// place, derived once from the superblock.
type BlockGroupInfo struct {
	StartBlock uint64
	// RelGdtStartBlock is meaningless for groups without a superblock copy.
	RelGdtStartBlock    uint64
	RelBlockBitmapBlock uint64
	RelInodeBitmapBlock uint64
	RelInodeTableBlock  uint64
	GdtEntryCount       uint64
	BlocksCount         uint64
	InodesCount         uint64
	InodeTableBlocks    uint64
	HasSuperBlock       HasSuperBlock
	BlockSize           uint64
	UsedInodeCount      uint64
	Overhead            uint64
}

// NewBlockGroupInfo computes the layout of block group idx.
func NewBlockGroupInfo(sb *SuperBlock, idx uint32) BlockGroupInfo {
	has := sb.BlockGroupHasSuperblock(idx)

	relBlockBitmap := sb.SuperblockCopyOverhead(has)
	maxBlockCount := sb.BlockCountWithoutPadding() - uint64(idx)*uint64(sb.BlocksPerGroup)

	usedInodes := uint64(0)
	if idx == 0 {
		// inodes 1..10 are reserved; the slot of inode 11 is claimed later
		// by lost+found
		usedInodes = firstNonReservedInode - 1
	}

	return BlockGroupInfo{
		StartBlock:          uint64(sb.BlockGroupStartCluster(idx)),
		RelGdtStartBlock:    1,
		RelBlockBitmapBlock: relBlockBitmap,
		RelInodeBitmapBlock: relBlockBitmap + 1,
		RelInodeTableBlock:  relBlockBitmap + 2,
		GdtEntryCount:       sb.BlockGroupCount(),
		BlocksCount:         min(maxBlockCount, uint64(sb.BlocksPerGroup)),
		InodesCount:         uint64(sb.InodesPerGroup),
		InodeTableBlocks:    sb.InodeTableBlockCount(),
		HasSuperBlock:       has,
		BlockSize:           sb.BlockSize(),
		UsedInodeCount:      usedInodes,
		Overhead:            sb.BlockGroupOverhead(has),
	}
}

// BlockGroup aliases the on-disk structures of one group. The bitmap and
// inode-table slices point straight into the mapped partition.
type BlockGroup struct {
	info        BlockGroupInfo
	blockBitmap []byte
	inodeBitmap []byte
	inodeTable  []byte
}

// NewBlockGroup initializes the group's bitmaps and inode table in place.
// The superblock and descriptor table of SB-holding groups are written
// separately, at finalization time.
func NewBlockGroup(data []byte, info BlockGroupInfo) *BlockGroup {
	groupStart := info.StartBlock * info.BlockSize

	blockAt := func(relBlock, blocks uint64) []byte {
		start := groupStart + relBlock*info.BlockSize
		return data[start : start+blocks*info.BlockSize]
	}

	bg := &BlockGroup{
		info:        info,
		blockBitmap: blockAt(info.RelBlockBitmapBlock, 1),
		inodeBitmap: blockAt(info.RelInodeBitmapBlock, 1),
		inodeTable:  blockAt(info.RelInodeTableBlock, info.InodeTableBlocks),
	}

	clear(bg.blockBitmap)
	dataBitmap := bitmap.Bitmap{Data: bg.blockBitmap}
	dataBitmap.SetRange(0, int(info.Overhead))
	dataBitmap.SetRange(int(info.BlocksCount), dataBitmap.Len())

	clear(bg.inodeBitmap)
	inodeBitmap := bitmap.Bitmap{Data: bg.inodeBitmap}
	inodeBitmap.SetRange(0, int(info.UsedInodeCount))
	inodeBitmap.SetRange(int(info.InodesCount), inodeBitmap.Len())

	clear(bg.inodeTable)
	return bg
}

// MarkRelativeRangeAsUsed sets the data bitmap bits for the blocks
// [start, end), addressed relative to the group start.
func (bg *BlockGroup) MarkRelativeRangeAsUsed(start, end uint32) {
	bitmap.Bitmap{Data: bg.blockBitmap}.SetRange(int(start), int(end))
}

// MarkInodeAsUsed sets the inode bitmap bit of the group-relative inode
// index (0-based).
func (bg *BlockGroup) MarkInodeAsUsed(relInode uint32) {
	bitmap.Bitmap{Data: bg.inodeBitmap}.Set(int(relInode))
}

// InodeSlot returns the inode-table bytes of the group-relative inode index
// (0-based).
func (bg *BlockGroup) InodeSlot(relInode uint32, inodeSize int) []byte {
	start := int(relInode) * inodeSize
	return bg.inodeTable[start : start+inodeSize]
}
