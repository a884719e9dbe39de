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

// Package serialize carries the FAT directory tree across the conversion:
// the serializer archives every file's metadata and (relocated) data ranges
// into the stream archive during phase one, and the deserializer replays
// the archive into ext4 inodes, extents, and directory blocks during phase
// three.
package serialize

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/archive"
	"github.com/ostafen/fat2ext4/internal/fat"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

// Archive record tags.
const (
	tagFileType archive.Tag = iota + 1
	tagDentry
	tagName
	tagRanges
)

// File kind values of a fileType record.
const (
	kindDirectory uint32 = 1
	kindRegular   uint32 = 2
)

const (
	fileTypeItemSize = 8 // kind (4) + child count (4)
	rangeItemSize    = 8 // start (4) + end (4)
)

// fileType is the leading record of every archived file: whether it is a
// directory and, if so, how many children follow it.
type fileType struct {
	kind       uint32
	childCount uint32
}

func (ft fileType) isDir() bool {
	return ft.kind == kindDirectory
}

// Serializer walks the FAT directory tree depth-first, parents before
// children, and archives one record group per file. Data sitting in
// clusters the ext4 metadata will overwrite is copied out of the way first.
type Serializer struct {
	fatFs     *fat.Fs
	allocator *alloc.Allocator
	writer    *archive.Writer
	// forbidden holds the clusters that must not contain user data when
	// phase three starts, because it will overwrite them with ext4
	// metadata.
	forbidden *ranges.Set[uint32]

	fileCount int
}

// NewSerializer builds a serializer whose archive pages come from
// allocator. The forbidden set must already be excluded from allocation.
func NewSerializer(fatFs *fat.Fs, allocator *alloc.Allocator, forbidden *ranges.Set[uint32]) *Serializer {
	return &Serializer{
		fatFs:     fatFs,
		allocator: allocator,
		writer:    archive.NewWriter(allocator),
		forbidden: forbidden,
	}
}

// FileCount returns the number of files and directories archived so far.
func (s *Serializer) FileCount() int {
	return s.fileCount
}

// SerializeTree archives the whole directory tree. The root directory
// itself contributes only its child count.
func (s *Serializer) SerializeTree() error {
	children, err := s.fatFs.ReadDir(fat.RootFatIndex)
	if err != nil {
		return err
	}
	if err := s.archiveFileType(fileType{kind: kindDirectory, childCount: uint32(len(children))}); err != nil {
		return err
	}
	return s.serializeChildren(children)
}

func (s *Serializer) serializeChildren(children []fat.File) error {
	for _, file := range children {
		var err error
		if file.Dentry.IsDir() {
			err = s.serializeDirectory(file)
		} else {
			err = s.archiveFile(file)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) serializeDirectory(file fat.File) error {
	children, err := s.fatFs.ReadDir(file.Dentry.FirstIndex())
	if err != nil {
		return err
	}
	if err := s.archiveDirectory(file, uint32(len(children))); err != nil {
		return err
	}
	return s.serializeChildren(children)
}

func (s *Serializer) archiveDirectory(file fat.File, childCount uint32) error {
	s.fileCount++
	if err := s.archiveFileType(fileType{kind: kindDirectory, childCount: childCount}); err != nil {
		return err
	}
	return s.archiveCommon(file)
}

func (s *Serializer) archiveFile(file fat.File) error {
	s.fileCount++
	dataRanges, err := s.copyDataToUnforbidden(file.DataRanges)
	if err != nil {
		return err
	}

	if err := s.archiveFileType(fileType{kind: kindRegular}); err != nil {
		return err
	}
	if err := s.archiveCommon(file); err != nil {
		return err
	}

	encoded := make([]byte, 0, len(dataRanges)*rangeItemSize)
	for _, r := range dataRanges {
		encoded = binary.LittleEndian.AppendUint32(encoded, r.Start)
		encoded = binary.LittleEndian.AppendUint32(encoded, r.End)
	}
	return s.writer.Archive(tagRanges, rangeItemSize, encoded)
}

// archiveCommon writes the records a directory and a regular file share:
// the FAT dentry and the decoded name.
func (s *Serializer) archiveCommon(file fat.File) error {
	dentry, err := file.Dentry.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.writer.Archive(tagDentry, fat.DentrySize, dentry); err != nil {
		return err
	}
	return s.writer.Archive(tagName, 1, []byte(file.Name))
}

func (s *Serializer) archiveFileType(ft fileType) error {
	encoded := make([]byte, 0, fileTypeItemSize)
	encoded = binary.LittleEndian.AppendUint32(encoded, ft.kind)
	encoded = binary.LittleEndian.AppendUint32(encoded, ft.childCount)
	return s.writer.Archive(tagFileType, fileTypeItemSize, encoded)
}

// copyDataToUnforbidden splits a file's ranges against the forbidden set
// and copies every covered fragment into freshly allocated clusters,
// substituting the new addresses in the returned list.
func (s *Serializer) copyDataToUnforbidden(old []ranges.Range[uint32]) ([]ranges.Range[uint32], error) {
	var result []ranges.Range[uint32]
	for _, r := range old {
		for _, fragment := range s.forbidden.SplitOverlapping(r) {
			if !fragment.Covered {
				result = append(result, fragment.Range)
				continue
			}
			copied, err := s.copyRangeToUnforbidden(fragment.Range)
			if err != nil {
				return nil, err
			}
			result = append(result, copied...)
		}
	}
	return result, nil
}

func (s *Serializer) copyRangeToUnforbidden(r ranges.Range[uint32]) ([]ranges.Range[uint32], error) {
	var copied []ranges.Range[uint32]
	for r.Start < r.End {
		allocated, err := s.allocator.Allocate(int(r.End - r.Start))
		if err != nil {
			return nil, fmt.Errorf("relocating data out of ext4 metadata ranges: %w", err)
		}
		for i := 0; i < allocated.Len(); i++ {
			src := s.fatFs.Cluster(r.Start + uint32(i))
			copy(s.allocator.Cluster(allocated.At(i)), src)
		}
		r.Start += uint32(allocated.Len())
		copied = append(copied, allocated.ToRange())
	}
	return copied, nil
}

// IntoDeserializer finalizes the archive and hands the remaining free
// clusters on to the emission phase.
func (s *Serializer) IntoDeserializer() (*archive.Reader, *alloc.Allocator, error) {
	return s.writer.IntoReader()
}
