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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/fat"
	"github.com/ostafen/fat2ext4/internal/fat/fattest"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

func TestSerializerArchivesTreeInOrder(t *testing.T) {
	img := fattest.New(1<<20, 1024, "SER")
	img.Chain(50)
	img.AddDentry(2, "DIR        ", fattest.DentryOpts{Attrs: fat.AttrDir, FirstIndex: 50})
	img.Chain(60, 61)
	img.WriteFileData(60, bytes.Repeat([]byte("d"), 2048))
	img.AddDentry(50, "DATA    BIN", fattest.DentryOpts{FirstIndex: 60, Size: 2048})

	fatFs, err := fat.NewFs(img.Bytes())
	require.NoError(t, err)

	forbidden := ranges.New[uint32]()
	allocator := alloc.New(img.Bytes(), fatFs.ClusterSize(), fatFs.UsedRanges())
	s := NewSerializer(fatFs, allocator, forbidden)
	require.NoError(t, s.SerializeTree())
	require.Equal(t, 2, s.FileCount())

	reader, _, err := s.IntoDeserializer()
	require.NoError(t, err)

	d := &Deserializer{reader: reader}

	// root child count
	root := d.readFileType()
	require.True(t, root.isDir())
	require.Equal(t, uint32(1), root.childCount)

	// the directory record precedes its child
	dir := d.readFileType()
	require.True(t, dir.isDir())
	require.Equal(t, uint32(1), dir.childCount)
	dirDentry, err := d.readDentry()
	require.NoError(t, err)
	require.True(t, dirDentry.IsDir())
	require.Equal(t, "DIR", d.readName())

	file := d.readFileType()
	require.False(t, file.isDir())
	fileDentry, err := d.readDentry()
	require.NoError(t, err)
	require.Equal(t, uint32(2048), fileDentry.FileSize)
	require.Equal(t, "DATA.BIN", d.readName())
	require.Equal(t, []ranges.Range[uint32]{
		{Start: img.ClusterIdx(60), End: img.ClusterIdx(61) + 1},
	}, d.readRanges())
}

func TestSerializerRelocatesForbiddenRanges(t *testing.T) {
	img := fattest.New(1<<20, 1024, "RELOC")

	content := bytes.Repeat([]byte("move-me."), 128) // exactly one cluster
	img.Chain(10)
	img.WriteFileData(10, content)
	img.AddDentry(2, "PINNED  DAT", fattest.DentryOpts{FirstIndex: 10, Size: uint32(len(content))})

	fatFs, err := fat.NewFs(img.Bytes())
	require.NoError(t, err)

	oldCluster := img.ClusterIdx(10)
	forbidden := ranges.New(ranges.Range[uint32]{Start: oldCluster, End: oldCluster + 1})

	allocator := alloc.New(img.Bytes(), fatFs.ClusterSize(), fatFs.UsedRanges())
	allocator.Forbid(forbidden.Ranges()[0])

	s := NewSerializer(fatFs, allocator, forbidden)
	require.NoError(t, s.SerializeTree())

	reader, successor, err := s.IntoDeserializer()
	require.NoError(t, err)

	d := &Deserializer{reader: reader}
	d.readFileType() // root child count
	d.readFileType()
	_, err = d.readDentry()
	require.NoError(t, err)
	d.readName()

	relocated := d.readRanges()
	require.Len(t, relocated, 1)
	require.NotEqual(t, oldCluster, relocated[0].Start)
	require.Equal(t, relocated[0].Start+1, relocated[0].End)

	// the copy lives before the split point and carries the same bytes
	start := int(relocated[0].Start) * fatFs.ClusterSize()
	require.Equal(t, content, img.Bytes()[start:start+len(content)])
	require.Less(t, relocated[0].Start, successor.FirstFreeClusterIdx())
}

func TestFileTypeEncoding(t *testing.T) {
	var encoded [8]byte
	binary.LittleEndian.PutUint32(encoded[:], kindDirectory)
	binary.LittleEndian.PutUint32(encoded[4:], 7)

	ft := fileType{
		kind:       binary.LittleEndian.Uint32(encoded[:]),
		childCount: binary.LittleEndian.Uint32(encoded[4:]),
	}
	require.True(t, ft.isDir())
	require.Equal(t, uint32(7), ft.childCount)
}
