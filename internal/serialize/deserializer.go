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
package serialize

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/archive"
	"github.com/ostafen/fat2ext4/internal/ext4"
	"github.com/ostafen/fat2ext4/internal/fat"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

// Deserializer replays the archive in write order, materializing the ext4
// side: inodes, extent trees, and directory blocks.
type Deserializer struct {
	reader    *archive.Reader
	allocator *alloc.Allocator
	fs        *ext4.Fs

	// OnFile, when set, is invoked once per deserialized file or directory.
	OnFile func()
}

// NewDeserializer builds a deserializer reading from reader and allocating
// directory and extent tree blocks from allocator.
func NewDeserializer(reader *archive.Reader, allocator *alloc.Allocator, fs *ext4.Fs) *Deserializer {
	return &Deserializer{reader: reader, allocator: allocator, fs: fs}
}

// DeserializeTree rebuilds the whole directory tree under the root inode.
func (d *Deserializer) DeserializeTree() error {
	rootWriter, err := d.buildRoot()
	if err != nil {
		return err
	}
	defer rootWriter.Close()

	rootChildCount, err := d.readRootChildCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < rootChildCount; i++ {
		if err := d.deserializeFile(rootWriter); err != nil {
			return err
		}
	}
	return nil
}

// buildRoot creates inode #2 with its '.' and '..' entries and the
// lost+found directory under it.
func (d *Deserializer) buildRoot() (*ext4.DentryWriter, error) {
	rootInode := d.fs.BuildRootInode()
	rootWriter, err := ext4.NewDentryWriter(d.fs, rootInode, d.allocator)
	if err != nil {
		return nil, err
	}
	// the root is its own parent, so both dot entries point at it
	if err := d.buildDotDirs(rootInode, rootWriter); err != nil {
		return nil, err
	}
	if err := d.buildLostFound(rootWriter); err != nil {
		return nil, err
	}
	return rootWriter, nil
}

func (d *Deserializer) buildLostFound(rootWriter *ext4.DentryWriter) error {
	inode := d.fs.BuildLostFoundInode()

	entry, err := ext4.NewDirEntry(inode.Num, "lost+found")
	if err != nil {
		return err
	}
	if err := rootWriter.Add(entry); err != nil {
		return err
	}

	writer, err := ext4.NewDentryWriter(d.fs, inode, d.allocator)
	if err != nil {
		return err
	}
	defer writer.Close()
	return d.buildDotDirs(rootWriter.Inode(), writer)
}

// buildDotDirs writes the '.' and '..' entries of a fresh directory,
// incrementing the link counts they establish.
func (d *Deserializer) buildDotDirs(parent *ext4.Inode, writer *ext4.DentryWriter) error {
	dot, err := ext4.NewDirEntry(writer.Inode().Num, ".")
	if err != nil {
		return err
	}
	if err := writer.Add(dot); err != nil {
		return err
	}
	writer.Inode().IncrementLinkCount()

	dotDot, err := ext4.NewDirEntry(parent.Num, "..")
	if err != nil {
		return err
	}
	if err := writer.Add(dotDot); err != nil {
		return err
	}
	parent.IncrementLinkCount()
	return nil
}

// deserializeFile replays one archived file or directory into the parent
// directory.
func (d *Deserializer) deserializeFile(parentWriter *ext4.DentryWriter) error {
	ft := d.readFileType()
	dentry, err := d.readDentry()
	if err != nil {
		return err
	}
	name := d.readName()

	atime, err := dentry.AccessTimeUnix()
	if err != nil {
		return err
	}
	mtime, err := dentry.ModTimeUnix()
	if err != nil {
		return err
	}
	crtime, err := dentry.CreateTimeUnix()
	if err != nil {
		return err
	}

	inode := d.fs.BuildInode(ft.isDir(), atime, mtime, crtime)
	entry, err := ext4.NewDirEntry(inode.Num, name)
	if err != nil {
		return err
	}
	if err := parentWriter.Add(entry); err != nil {
		return err
	}

	if d.OnFile != nil {
		d.OnFile()
	}

	if ft.isDir() {
		return d.deserializeDirectory(inode, parentWriter, ft.childCount)
	}
	return d.deserializeRegularFile(inode, uint64(dentry.FileSize))
}

func (d *Deserializer) deserializeDirectory(inode *ext4.Inode, parentWriter *ext4.DentryWriter, childCount uint32) error {
	writer, err := ext4.NewDentryWriter(d.fs, inode, d.allocator)
	if err != nil {
		return err
	}
	defer writer.Close()

	if err := d.buildDotDirs(parentWriter.Inode(), writer); err != nil {
		return err
	}
	for i := uint32(0); i < childCount; i++ {
		if err := d.deserializeFile(writer); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deserializer) deserializeRegularFile(inode *ext4.Inode, size uint64) error {
	dataRanges := d.readRanges()
	if err := d.fs.SetExtents(inode, dataRanges, d.allocator); err != nil {
		return err
	}
	inode.Size = size
	return nil
}

func (d *Deserializer) readRootChildCount() (uint32, error) {
	ft := d.readFileType()
	if !ft.isDir() {
		return 0, fmt.Errorf("first archive entry is not the root directory child count")
	}
	return ft.childCount, nil
}

func (d *Deserializer) readFileType() fileType {
	data, count := d.reader.Next(tagFileType)
	if count != 1 {
		panic(fmt.Sprintf("file type record holds %d items instead of 1", count))
	}
	return fileType{
		kind:       binary.LittleEndian.Uint32(data),
		childCount: binary.LittleEndian.Uint32(data[4:]),
	}
}

func (d *Deserializer) readDentry() (fat.Dentry, error) {
	data, count := d.reader.Next(tagDentry)
	if count != 1 {
		panic(fmt.Sprintf("dentry record holds %d items instead of 1", count))
	}
	return fat.ReadDentryFrom(data)
}

func (d *Deserializer) readName() string {
	data, _ := d.reader.Next(tagName)
	return string(data)
}

func (d *Deserializer) readRanges() []ranges.Range[uint32] {
	data, count := d.reader.Next(tagRanges)
	result := make([]ranges.Range[uint32], 0, count)
	for i := 0; i < count; i++ {
		result = append(result, ranges.Range[uint32]{
			Start: binary.LittleEndian.Uint32(data[i*rangeItemSize:]),
			End:   binary.LittleEndian.Uint32(data[i*rangeItemSize+4:]),
		})
	}
	return result
}
