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
	"bytes"
	"encoding/binary"

	"github.com/ostafen/fat2ext4/internal/lohi"
)

// groupDescriptorSize is the size of a 64-bit group descriptor.
const groupDescriptorSize = 64

// GroupDescriptor is the 64-byte ext4 block group descriptor.
type GroupDescriptor struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	Flags             uint16
	ExcludeBitmapLo   uint32
	BlockBitmapCsumLo uint16
	InodeBitmapCsumLo uint16
	ItableUnusedLo    uint16
	Checksum          uint16
	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	FreeBlocksCountHi uint16
	FreeInodesCountHi uint16
	UsedDirsCountHi   uint16
	ItableUnusedHi    uint16
	ExcludeBitmapHi   uint32
	BlockBitmapCsumHi uint16
	InodeBitmapCsumHi uint16
	Reserved          uint32
}

// NewGroupDescriptor fills a descriptor from the group's construction info:
// the absolute positions of its bitmaps and inode table plus the initial
// free counts.
func NewGroupDescriptor(info BlockGroupInfo) GroupDescriptor {
	var gd GroupDescriptor
	lohi.SetU64(&gd.BlockBitmapLo, &gd.BlockBitmapHi, info.StartBlock+info.RelBlockBitmapBlock)
	lohi.SetU64(&gd.InodeBitmapLo, &gd.InodeBitmapHi, info.StartBlock+info.RelInodeBitmapBlock)
	lohi.SetU64(&gd.InodeTableLo, &gd.InodeTableHi, info.StartBlock+info.RelInodeTableBlock)
	lohi.SetU32(&gd.FreeBlocksCountLo, &gd.FreeBlocksCountHi, uint32(info.BlocksCount-info.Overhead))
	lohi.SetU32(&gd.FreeInodesCountLo, &gd.FreeInodesCountHi, uint32(info.InodesCount-info.UsedInodeCount))
	return gd
}

// FreeBlocksCount returns the group's free block tally.
func (gd *GroupDescriptor) FreeBlocksCount() uint32 {
	return lohi.U32(gd.FreeBlocksCountLo, gd.FreeBlocksCountHi)
}

// DecrementFreeBlocksCount removes count blocks from the free tally.
func (gd *GroupDescriptor) DecrementFreeBlocksCount(count uint32) {
	lohi.SubU32(&gd.FreeBlocksCountLo, &gd.FreeBlocksCountHi, count)
}

// FreeInodesCount returns the group's free inode tally.
func (gd *GroupDescriptor) FreeInodesCount() uint32 {
	return lohi.U32(gd.FreeInodesCountLo, gd.FreeInodesCountHi)
}

// DecrementFreeInodesCount removes one inode from the free tally.
func (gd *GroupDescriptor) DecrementFreeInodesCount() {
	lohi.SubU32(&gd.FreeInodesCountLo, &gd.FreeInodesCountHi, 1)
}

// IncrementUsedDirsCount adds one directory to the group's tally.
func (gd *GroupDescriptor) IncrementUsedDirsCount() {
	lohi.AddU32(&gd.UsedDirsCountLo, &gd.UsedDirsCountHi, 1)
}

// WriteTo marshals the descriptor into its on-disk form at the start of b.
func (gd *GroupDescriptor) WriteTo(b []byte) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, gd); err != nil {
		return err
	}
	copy(b, buf.Bytes())
	return nil
}

// ReadGroupDescriptorFrom decodes a descriptor from the start of b.
func ReadGroupDescriptorFrom(b []byte) (GroupDescriptor, error) {
	var gd GroupDescriptor
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &gd)
	return gd, err
}
