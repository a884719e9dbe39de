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
	"fmt"
	"os"
	"time"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

// Fs lays an ext4 filesystem out over the mapped partition: it owns the
// superblock, the group descriptor table, and the per-group structures, and
// it tracks the inodes being built until Close flushes everything into
// place.
type Fs struct {
	data   []byte
	sb     *SuperBlock
	gdt    []GroupDescriptor
	groups []*BlockGroup

	inodes    map[uint32]*Inode
	nextInode uint32

	uid uint32
	gid uint32
}

// NewFs writes the skeleton of the filesystem described by sb into data:
// every group's bitmaps and zeroed inode table. The superblock and
// descriptor tables themselves are flushed by Close, once their tallies are
// final.
func NewFs(data []byte, sb *SuperBlock) (*Fs, error) {
	fs := &Fs{
		data:      data,
		sb:        sb,
		inodes:    map[uint32]*Inode{},
		nextInode: firstNonReservedInode,
		uid:       uint32(os.Geteuid()),
		gid:       uint32(os.Getegid()),
	}

	groupCount := uint32(sb.BlockGroupCount())
	for idx := uint32(0); idx < groupCount; idx++ {
		info := NewBlockGroupInfo(sb, idx)
		fs.gdt = append(fs.gdt, NewGroupDescriptor(info))
		fs.groups = append(fs.groups, NewBlockGroup(data, info))
	}
	return fs, nil
}

func (fs *Fs) Superblock() *SuperBlock {
	return fs.sb
}

// Inode returns a built inode by number.
func (fs *Fs) Inode(num uint32) *Inode {
	return fs.inodes[num]
}

// BuildRootInode creates inode #2. Its link count starts at zero and is
// incremented by the '.' and '..' entries written into it and by every
// subdirectory's '..'.
func (fs *Fs) BuildRootInode() *Inode {
	now := uint32(time.Now().Unix())

	inode := newInode(RootInodeNo)
	inode.Mode = ModeDir | defaultPermissions
	inode.UID = fs.uid
	inode.GID = fs.gid
	inode.Atime = now
	inode.Ctime = now
	inode.Mtime = now
	fs.inodes[RootInodeNo] = inode

	// the root inode is reserved and already marked used in the bitmap
	fs.gdt[0].IncrementUsedDirsCount()
	return inode
}

// BuildLostFoundInode creates the lost+found directory's inode. Inode 11 is
// not officially reserved for it, but fsck complains when it is missing, so
// the first allocated inode must be this one.
func (fs *Fs) BuildLostFoundInode() *Inode {
	inode := fs.AllocateInode(true)
	if inode.Num != LostFoundInodeNo {
		panic(fmt.Sprintf("lost+found allocated inode %d instead of %d", inode.Num, LostFoundInodeNo))
	}

	now := uint32(time.Now().Unix())
	inode.Mode = ModeDir | defaultPermissions
	inode.UID = 0
	inode.GID = 0
	inode.Atime = now
	inode.Ctime = now
	inode.Mtime = now
	inode.LinksCount = 1
	return inode
}

// BuildInode creates the inode of an archived file or directory with its
// FAT-derived timestamps. The ctime is set to mtime plus one second,
// mimicking the Linux FAT driver.
func (fs *Fs) BuildInode(isDir bool, atime, mtime, crtime uint32) *Inode {
	inode := fs.AllocateInode(isDir)
	if isDir {
		inode.Mode = ModeDir | defaultPermissions
	} else {
		inode.Mode = ModeRegular | defaultPermissions
	}
	inode.UID = fs.uid
	inode.GID = fs.gid
	inode.Atime = atime
	inode.Mtime = mtime
	inode.Ctime = mtime + 1
	inode.Crtime = crtime
	inode.LinksCount = 1
	return inode
}

// AllocateInode hands out the next inode number, marks it used in its
// group, and returns the blank inode.
func (fs *Fs) AllocateInode(isDir bool) *Inode {
	num := fs.nextInode
	fs.nextInode++

	groupIdx, relInode := fs.locateInode(num)
	fs.groups[groupIdx].MarkInodeAsUsed(relInode)
	fs.gdt[groupIdx].DecrementFreeInodesCount()
	if isDir {
		fs.gdt[groupIdx].IncrementUsedDirsCount()
	}

	inode := newInode(num)
	fs.inodes[num] = inode
	return inode
}

// locateInode returns the group and group-relative slot of an inode number.
func (fs *Fs) locateInode(num uint32) (groupIdx, relInode uint32) {
	slot := num - firstExistingInode
	return slot / fs.sb.InodesPerGroup, slot % fs.sb.InodesPerGroup
}

// SetExtents registers a file's data ranges as its extents. The inode must
// not have any extents yet.
func (fs *Fs) SetExtents(inode *Inode, rs []ranges.Range[uint32], allocator *alloc.Allocator) error {
	for _, extent := range RangesToExtents(rs) {
		if err := fs.RegisterExtent(inode, extent, allocator); err != nil {
			return err
		}
	}
	return nil
}

// RegisterExtent appends one extent to the inode's tree and accounts every
// block it covers, plus any tree blocks the insertion had to allocate, as
// used.
func (fs *Fs) RegisterExtent(inode *Inode, extent Extent, allocator *alloc.Allocator) error {
	fs.markRangeAsUsed(inode, extent.AsRange())

	tree := extentTree{inode: inode, allocator: allocator}
	treeBlocks, err := tree.add(extent)
	if err != nil {
		return fmt.Errorf("registering extent of inode %d: %w", inode.Num, err)
	}
	for _, block := range treeBlocks {
		fs.markRangeAsUsed(inode, ranges.Range[uint32]{Start: block, End: block + 1})
	}
	return nil
}

// markRangeAsUsed accounts the blocks of r to the inode and flips their
// data bitmap bits, splitting r at block group boundaries.
func (fs *Fs) markRangeAsUsed(inode *Inode, r ranges.Range[uint32]) {
	inode.incrementUsedBlocks(int(r.End-r.Start), fs.sb.BlockSize())

	for r.Start < r.End {
		groupIdx := (r.Start - fs.sb.FirstDataBlock) / fs.sb.BlocksPerGroup
		groupStart := fs.sb.BlockGroupStartCluster(groupIdx)
		groupEnd := groupStart + fs.sb.BlocksPerGroup
		end := min(r.End, groupEnd)

		fs.gdt[groupIdx].DecrementFreeBlocksCount(end - r.Start)
		fs.groups[groupIdx].MarkRelativeRangeAsUsed(r.Start-groupStart, end-groupStart)
		r.Start = end
	}
}

// Close finalizes the filesystem: the superblock tallies are summed from
// the group descriptors, every built inode is flushed into its table slot,
// and the superblock and descriptor table are written to group 0 and every
// backup group.
func (fs *Fs) Close() error {
	freeInodes := uint32(0)
	freeBlocks := uint64(0)
	for i := range fs.gdt {
		freeInodes += fs.gdt[i].FreeInodesCount()
		freeBlocks += uint64(fs.gdt[i].FreeBlocksCount())
	}
	fs.sb.FreeInodesCount = freeInodes
	fs.sb.SetFreeBlocksCount(freeBlocks)

	for num, inode := range fs.inodes {
		groupIdx, relInode := fs.locateInode(num)
		slot := fs.groups[groupIdx].InodeSlot(relInode, int(fs.sb.InodeSize))
		if err := inode.WriteTo(slot); err != nil {
			return fmt.Errorf("flushing inode %d: %w", num, err)
		}
	}

	// the primary superblock lives at byte 1024 in both geometries: in its
	// own block when the block size is 1024, at offset 1024 of block 0
	// otherwise
	if err := fs.sb.WriteTo(fs.data[superBlockOffset:]); err != nil {
		return err
	}
	if err := fs.writeGdt(0); err != nil {
		return err
	}

	for _, backupIdx := range fs.sb.BackupBgs {
		if backupIdx == 0 {
			continue
		}
		start := uint64(fs.sb.BlockGroupStartCluster(backupIdx)) * fs.sb.BlockSize()
		if err := fs.sb.WriteTo(fs.data[start:]); err != nil {
			return err
		}
		if err := fs.writeGdt(backupIdx); err != nil {
			return err
		}
	}
	return nil
}

// writeGdt writes the descriptor table copy of an SB-holding group.
func (fs *Fs) writeGdt(groupIdx uint32) error {
	info := NewBlockGroupInfo(fs.sb, groupIdx)
	start := (info.StartBlock + info.RelGdtStartBlock) * info.BlockSize
	for i := range fs.gdt {
		if err := fs.gdt[i].WriteTo(fs.data[start+uint64(i)*groupDescriptorSize:]); err != nil {
			return err
		}
	}
	return nil
}
