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

// i_mode bits.
const (
	ModeDir     = 0o040000
	ModeRegular = 0o100000

	// defaultPermissions mirrors what the Linux FAT driver reports for a
	// filesystem that stores no permissions of its own.
	defaultPermissions = 0o755
)

// i_flags bits.
const inodeUsesExtents = 0x00080000

const (
	// inodeExtentSlots is the number of 12-byte extent tree cells embedded
	// in the inode (1 header + 4 entries).
	inodeExtentSlots = 5
	inodeExtentBytes = inodeExtentSlots * extentCellSize

	// inodeExtraIsize is the portion of the 256-byte inode beyond the
	// classic 128 bytes that carries valid fields (up to and including the
	// creation time).
	inodeExtraIsize = 32

	// maxLinkCount is the largest representable hard link count; a
	// directory with more links stores this sentinel instead.
	maxLinkCount              = 65000
	nonRepresentableLinkCount = 1
)

// inodeRaw is the exact on-disk ext4 inode record (the classic 128 bytes
// plus the extra fields covered by inodeExtraIsize; the remainder of the
// 256-byte slot stays zero).
type inodeRaw struct {
	Mode        uint16
	UIDLo       uint16
	SizeLo      uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GIDLo       uint16
	LinksCount  uint16
	BlocksLo    uint32
	Flags       uint32
	Version     uint32
	Block       [60]byte
	Generation  uint32
	FileACLLo   uint32
	SizeHigh    uint32
	ObsoFaddr   uint32
	BlocksHigh  uint16
	FileACLHigh uint16
	UIDHigh     uint16
	GIDHigh     uint16
	ChecksumLo  uint16
	Reserved    uint16
	ExtraIsize  uint16
	ChecksumHi  uint16
	CtimeExtra  uint32
	MtimeExtra  uint32
	AtimeExtra  uint32
	Crtime      uint32
	CrtimeExtra uint32
	VersionHi   uint32
	ProjectID   uint32
}

// Inode is an ext4 inode being built. It lives in memory while the
// conversion mutates it (sizes, link counts, extents) and is flushed into
// its inode-table slot when the filesystem is finalized.
type Inode struct {
	Num        uint32
	Mode       uint16
	UID        uint32
	GID        uint32
	Size       uint64
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Crtime     uint32
	LinksCount uint32
	Flags      uint32
	// Blocks512 counts the 512-byte units backing the file, the way
	// i_blocks does.
	Blocks512 uint64
	// extentRoot holds the extent tree's root level (1 header + 4 entries).
	extentRoot [inodeExtentBytes]byte
}

func newInode(num uint32) *Inode {
	inode := &Inode{Num: num, Flags: inodeUsesExtents}
	level := extentLevel{cells: inode.extentRoot[:]}
	level.writeHeader(extentHeader{
		Magic:      extentMagic,
		MaxEntries: inodeExtentSlots - 1,
	})
	return inode
}

func (i *Inode) IsDir() bool {
	return i.Mode&ModeDir != 0
}

// IncrementSize grows the file size by delta bytes.
func (i *Inode) IncrementSize(delta uint64) {
	i.Size += delta
}

// IncrementLinkCount adds one hard link. Counts beyond the representable
// maximum collapse to the directory sentinel value when the inode is
// flushed.
func (i *Inode) IncrementLinkCount() {
	i.LinksCount++
}

// incrementUsedBlocks accounts blockCount fresh blocks of blockSize bytes
// to the inode's 512-byte block counter.
func (i *Inode) incrementUsedBlocks(blockCount int, blockSize uint64) {
	i.Blocks512 += uint64(blockCount) * (blockSize / 512)
}

// WriteTo marshals the inode into its table slot.
func (i *Inode) WriteTo(slot []byte) error {
	linksCount := i.LinksCount
	if linksCount > maxLinkCount {
		// only directories can accumulate this many links
		linksCount = nonRepresentableLinkCount
	}

	raw := inodeRaw{
		Mode:       i.Mode,
		Atime:      i.Atime,
		Ctime:      i.Ctime,
		Mtime:      i.Mtime,
		Crtime:     i.Crtime,
		LinksCount: uint16(linksCount),
		Flags:      i.Flags,
		ExtraIsize: inodeExtraIsize,
		Block:      i.extentRoot,
	}
	lohi.SetU32(&raw.UIDLo, &raw.UIDHigh, i.UID)
	lohi.SetU32(&raw.GIDLo, &raw.GIDHigh, i.GID)
	raw.SizeLo = uint32(i.Size)
	raw.SizeHigh = uint32(i.Size >> 32)
	raw.BlocksLo = uint32(i.Blocks512)
	raw.BlocksHigh = uint16(i.Blocks512 >> 32)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		return err
	}
	clear(slot)
	copy(slot, buf.Bytes())
	return nil
}
