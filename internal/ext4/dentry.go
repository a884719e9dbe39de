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
	"fmt"

	"github.com/ostafen/fat2ext4/internal/alloc"
)

const (
	maxNameLen     = 255
	dirEntryHeader = 8 // inode (4) + record length (2) + name length (2)
	dentryAlign    = 4
)

// DirEntry is one ext4 directory entry waiting to be written: the inode it
// points at and its name.
type DirEntry struct {
	inodeNo uint32
	name    []byte
}

// NewDirEntry builds a directory entry. FAT32 allows names of up to 255
// UCS-2 characters, which may exceed 255 bytes once encoded as UTF-8; such
// names cannot be represented in ext4.
func NewDirEntry(inodeNo uint32, name string) (DirEntry, error) {
	if len(name) > maxNameLen {
		return DirEntry{}, fmt.Errorf("length of file name %q exceeds %d bytes", name, maxNameLen)
	}
	return DirEntry{inodeNo: inodeNo, name: []byte(name)}, nil
}

// entryLen returns the on-disk record length: header plus name, padded to a
// multiple of four.
func (d DirEntry) entryLen() int {
	return alignUp(dirEntryHeader+len(d.name), dentryAlign)
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// DentryWriter packs directory entries into the data blocks of a directory
// inode. Within a block the record lengths tile it exactly: when an entry
// does not fit anymore (and when the writer is closed), the previous
// entry's record length is inflated to stretch to the block boundary.
type DentryWriter struct {
	fs        *Fs
	inode     *Inode
	allocator *alloc.Allocator

	block      alloc.AllocatedClusterIdx
	blockSize  int
	position   int
	prevOffset int
	hasPrev    bool
	blockCount uint32
}

// NewDentryWriter opens a writer over the given directory inode and
// allocates its first data block.
func NewDentryWriter(fs *Fs, inode *Inode, allocator *alloc.Allocator) (*DentryWriter, error) {
	w := &DentryWriter{
		fs:        fs,
		inode:     inode,
		allocator: allocator,
		blockSize: allocator.BlockSize(),
	}
	if err := w.allocateBlock(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *DentryWriter) Inode() *Inode {
	return w.inode
}

// Add appends a directory entry, moving on to a fresh block when the
// current one has no room left.
func (w *DentryWriter) Add(d DirEntry) error {
	if d.entryLen() > w.remainingSpace() {
		w.padBlockEnd()
		if err := w.allocateBlock(); err != nil {
			return err
		}
	}

	block := w.allocator.Cluster(w.block)
	entry := block[w.position:]
	binary.LittleEndian.PutUint32(entry, d.inodeNo)
	binary.LittleEndian.PutUint16(entry[4:], uint16(d.entryLen()))
	binary.LittleEndian.PutUint16(entry[6:], uint16(len(d.name)))
	n := copy(entry[dirEntryHeader:], d.name)
	for i := dirEntryHeader + n; i < d.entryLen(); i++ {
		entry[i] = 0
	}

	w.prevOffset = w.position
	w.hasPrev = true
	w.position += d.entryLen()
	return nil
}

// Close stretches the final entry to the block boundary. The writer must
// not be used afterwards.
func (w *DentryWriter) Close() {
	w.padBlockEnd()
}

func (w *DentryWriter) remainingSpace() int {
	return w.blockSize - w.position
}

// padBlockEnd inflates the previous entry's record length by the block's
// unused remainder.
func (w *DentryWriter) padBlockEnd() {
	if !w.hasPrev {
		return
	}
	block := w.allocator.Cluster(w.block)
	recLen := binary.LittleEndian.Uint16(block[w.prevOffset+4:])
	binary.LittleEndian.PutUint16(block[w.prevOffset+4:], recLen+uint16(w.remainingSpace()))
}

// allocateBlock appends a fresh data block to the directory: a new extent
// at the next logical offset, with the inode's size growing by one block.
func (w *DentryWriter) allocateBlock() error {
	blockIdx, err := w.allocator.AllocateOne()
	if err != nil {
		return err
	}
	clear(w.allocator.Cluster(blockIdx))

	extent := Extent{
		LogicalStart:  w.blockCount,
		Len:           1,
		PhysicalStart: blockIdx.Idx(),
	}
	if err := w.fs.RegisterExtent(w.inode, extent, w.allocator); err != nil {
		return err
	}

	w.block = blockIdx
	w.position = 0
	w.hasPrev = false
	w.blockCount++
	w.inode.IncrementSize(uint64(w.blockSize))
	return nil
}
