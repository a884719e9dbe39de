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
package convert

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ostafen/fat2ext4/internal/ext4"
	"github.com/ostafen/fat2ext4/internal/fat"
	"github.com/ostafen/fat2ext4/internal/fat/fattest"
	"github.com/ostafen/fat2ext4/internal/lohi"
)

const (
	testImageSize   = 8 << 20
	testClusterSize = 1024
)

func convertImage(t *testing.T, img *fattest.Builder) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "partition.img")
	require.NoError(t, os.WriteFile(path, img.Bytes(), 0o644))

	require.NoError(t, Convert(path, Options{DisableLog: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// ext4View gives the tests read access to the converted filesystem.
type ext4View struct {
	t    *testing.T
	data []byte
	sb   *ext4.SuperBlock
}

func newExt4View(t *testing.T, data []byte) *ext4View {
	t.Helper()
	sb, err := ext4.ReadSuperBlockFrom(data[1024:])
	require.NoError(t, err)
	return &ext4View{t: t, data: data, sb: sb}
}

func (v *ext4View) blockSize() uint64 {
	return v.sb.BlockSize()
}

// gdtOffset returns the byte offset of the descriptor table copy of the
// given SB-holding group.
func (v *ext4View) gdtOffset(groupIdx uint32) uint64 {
	return (uint64(v.sb.BlockGroupStartCluster(groupIdx)) + 1) * v.blockSize()
}

func (v *ext4View) groupDescriptor(idx uint32) ext4.GroupDescriptor {
	gd, err := ext4.ReadGroupDescriptorFrom(v.data[v.gdtOffset(0)+uint64(idx)*64:])
	require.NoError(v.t, err)
	return gd
}

// inodeView is a decoded on-disk inode.
type inodeView struct {
	mode       uint16
	size       uint64
	atime      uint32
	ctime      uint32
	mtime      uint32
	crtime     uint32
	linksCount uint16
	flags      uint32
	extentArea []byte
}

func (v *ext4View) inode(num uint32) inodeView {
	slot := num - 1
	groupIdx := slot / v.sb.InodesPerGroup
	relInode := slot % v.sb.InodesPerGroup

	gd := v.groupDescriptor(groupIdx)
	table := lohi.U64(gd.InodeTableLo, gd.InodeTableHi)
	off := table*v.blockSize() + uint64(relInode)*uint64(v.sb.InodeSize)
	raw := v.data[off : off+uint64(v.sb.InodeSize)]

	return inodeView{
		mode:       binary.LittleEndian.Uint16(raw),
		size:       uint64(binary.LittleEndian.Uint32(raw[4:])) | uint64(binary.LittleEndian.Uint32(raw[108:]))<<32,
		atime:      binary.LittleEndian.Uint32(raw[8:]),
		ctime:      binary.LittleEndian.Uint32(raw[12:]),
		mtime:      binary.LittleEndian.Uint32(raw[16:]),
		crtime:     binary.LittleEndian.Uint32(raw[144:]),
		linksCount: binary.LittleEndian.Uint16(raw[26:]),
		flags:      binary.LittleEndian.Uint32(raw[32:]),
		extentArea: raw[40:100],
	}
}

// extent is a decoded leaf extent.
type extent struct {
	logical  uint32
	length   uint16
	physical uint32
}

// extents decodes the inode's extent tree, following index blocks if the
// tree has depth.
func (v *ext4View) extents(node []byte) []extent {
	t := v.t
	require.Equal(t, uint16(0xF30A), binary.LittleEndian.Uint16(node))
	entries := int(binary.LittleEndian.Uint16(node[2:]))
	depth := binary.LittleEndian.Uint16(node[6:])

	var result []extent
	for i := 0; i < entries; i++ {
		cell := node[12+12*i : 24+12*i]
		if depth == 0 {
			result = append(result, extent{
				logical:  binary.LittleEndian.Uint32(cell),
				length:   binary.LittleEndian.Uint16(cell[4:]),
				physical: binary.LittleEndian.Uint32(cell[8:]),
			})
		} else {
			child := binary.LittleEndian.Uint32(cell[4:])
			start := uint64(child) * v.blockSize()
			result = append(result, v.extents(v.data[start:start+v.blockSize()])...)
		}
	}
	return result
}

type dirEntry struct {
	inodeNo uint32
	name    string
}

// dirEntries decodes the directory whose inode is num, checking that every
// block is tiled exactly by its record lengths.
func (v *ext4View) dirEntries(num uint32) []dirEntry {
	t := v.t
	inode := v.inode(num)
	require.NotZero(t, inode.mode&ext4.ModeDir)

	var result []dirEntry
	for _, e := range v.extents(inode.extentArea) {
		for b := uint32(0); b < uint32(e.length); b++ {
			start := uint64(e.physical+b) * v.blockSize()
			block := v.data[start : start+v.blockSize()]

			off := 0
			for off < len(block) {
				recLen := int(binary.LittleEndian.Uint16(block[off+4:]))
				nameLen := int(binary.LittleEndian.Uint16(block[off+6:]))
				require.Greater(t, recLen, 0)
				result = append(result, dirEntry{
					inodeNo: binary.LittleEndian.Uint32(block[off:]),
					name:    string(block[off+8 : off+8+nameLen]),
				})
				off += recLen
			}
			require.Equal(t, len(block), off, "directory block is not fully packed")
		}
	}
	return result
}

func (v *ext4View) names(num uint32) []string {
	entries := v.dirEntries(num)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

func (v *ext4View) lookup(dirInode uint32, name string) uint32 {
	for _, e := range v.dirEntries(dirInode) {
		if e.name == name {
			return e.inodeNo
		}
	}
	v.t.Fatalf("no entry %q in directory inode %d", name, dirInode)
	return 0
}

func newTestImage(t *testing.T) *fattest.Builder {
	t.Helper()
	return fattest.New(testImageSize, testClusterSize, "CONVME")
}

func TestConvertEmptyRoot(t *testing.T) {
	data := convertImage(t, newTestImage(t))
	v := newExt4View(t, data)

	require.Equal(t, uint64(1), v.sb.BlockGroupCount())
	require.Equal(t, uint32(512), v.sb.InodesCount)
	require.Equal(t, [2]uint32{0, 0}, v.sb.BackupBgs)
	require.Equal(t, "CONVME", string(bytes.TrimRight(v.sb.VolumeName[:], "\x00")))

	require.Equal(t, []string{".", "..", "lost+found"}, v.names(ext4.RootInodeNo))
	require.Equal(t, uint32(ext4.LostFoundInodeNo), v.lookup(ext4.RootInodeNo, "lost+found"))

	entries := v.dirEntries(ext4.LostFoundInodeNo)
	require.Equal(t, []dirEntry{
		{inodeNo: ext4.LostFoundInodeNo, name: "."},
		{inodeNo: ext4.RootInodeNo, name: ".."},
	}, entries)

	// '.', '..' and lost+found's '..'
	require.Equal(t, uint16(3), v.inode(ext4.RootInodeNo).linksCount)
	require.Equal(t, uint16(2), v.inode(ext4.LostFoundInodeNo).linksCount)

	// the superblock tallies equal the descriptor sums
	gd := v.groupDescriptor(0)
	require.Equal(t, gd.FreeInodesCount(), v.sb.FreeInodesCount)
	require.Equal(t, uint64(gd.FreeBlocksCount()), v.sb.FreeBlocksCount())
	require.Equal(t, uint32(512-ext4.LostFoundInodeNo), gd.FreeInodesCount())
}

func TestConvertPreservesFileData(t *testing.T) {
	img := newTestImage(t)

	content := []byte("helloworld")
	const fileFatIdx = 60
	cluster := img.ClusterIdx(fileFatIdx)
	img.Chain(fileFatIdx)
	img.WriteFileData(fileFatIdx, content)
	img.AddDentry(2, "HELLO   TXT", fattest.DentryOpts{
		FirstIndex: fileFatIdx,
		Size:       uint32(len(content)),
		Date:       fattest.Date(2003, 7, 24),
		Time:       fattest.Time(13, 37, 42),
	})

	data := convertImage(t, img)
	v := newExt4View(t, data)

	// the data clusters must lie beyond the single group's overhead, or
	// the scenario would silently turn into a relocation test
	overhead := uint32(v.sb.BlockGroupOverhead(ext4.OriginalSuperBlock)) + v.sb.FirstDataBlock
	require.Greater(t, cluster, overhead)

	require.Equal(t, []string{".", "..", "lost+found", "HELLO.TXT"}, v.names(ext4.RootInodeNo))
	fileInodeNo := v.lookup(ext4.RootInodeNo, "HELLO.TXT")
	require.Equal(t, uint32(12), fileInodeNo)

	inode := v.inode(fileInodeNo)
	require.NotZero(t, inode.mode&ext4.ModeRegular)
	require.Equal(t, uint64(len(content)), inode.size)
	require.Equal(t, uint16(1), inode.linksCount)

	// one extent pointing at the untouched original cluster
	extents := v.extents(inode.extentArea)
	require.Equal(t, []extent{{logical: 0, length: 1, physical: cluster}}, extents)
	start := uint64(cluster) * v.blockSize()
	require.Equal(t, content, data[start:start+uint64(len(content))])

	// timestamps come from the FAT dentry, with ctime = mtime + 1
	require.Equal(t, uint32(1059053862), inode.mtime)
	require.Equal(t, inode.mtime+1, inode.ctime)
	require.Equal(t, inode.mtime, inode.crtime)
	// the access date has no time-of-day part
	require.Equal(t, uint32(1059004800), inode.atime)
}

func TestConvertRelocatesForbiddenData(t *testing.T) {
	img := newTestImage(t)

	content := bytes.Repeat([]byte("relocate me! "), 70)
	// FAT index 3 is the first data cluster after the root directory; it
	// lies inside the future ext4 metadata region
	const fileFatIdx = 3
	oldCluster := img.ClusterIdx(fileFatIdx)
	img.Chain(fileFatIdx)
	img.WriteFileData(fileFatIdx, content)
	img.AddDentry(2, "EARLY   BIN", fattest.DentryOpts{
		FirstIndex: fileFatIdx,
		Size:       uint32(len(content)),
		Date:       fattest.Date(2010, 1, 2),
	})

	data := convertImage(t, img)
	v := newExt4View(t, data)

	overhead := uint32(v.sb.BlockGroupOverhead(ext4.OriginalSuperBlock)) + v.sb.FirstDataBlock
	require.Less(t, oldCluster, overhead)

	fileInodeNo := v.lookup(ext4.RootInodeNo, "EARLY.BIN")
	inode := v.inode(fileInodeNo)
	require.Equal(t, uint64(len(content)), inode.size)

	extents := v.extents(inode.extentArea)
	require.Len(t, extents, 1)
	require.NotEqual(t, oldCluster, extents[0].physical)
	require.GreaterOrEqual(t, extents[0].physical, overhead)

	// the copy carries the bytes, the old cluster now holds metadata zeros
	start := uint64(extents[0].physical) * v.blockSize()
	require.Equal(t, content, data[start:start+uint64(len(content))])
}

func TestConvertDeepDirectory(t *testing.T) {
	img := newTestImage(t)

	// /a/b/f.txt with the directories on FAT indices 60 and 61
	img.Chain(60)
	img.Chain(61)
	img.AddDentry(2, "A          ", fattest.DentryOpts{Attrs: fat.AttrDir, FirstIndex: 60})
	img.AddDentry(60, "B          ", fattest.DentryOpts{Attrs: fat.AttrDir, FirstIndex: 61})
	img.Chain(70)
	img.WriteFileData(70, []byte("payload"))
	img.AddDentry(61, "F       TXT", fattest.DentryOpts{FirstIndex: 70, Size: 7})

	data := convertImage(t, img)
	v := newExt4View(t, data)

	// inodes are assigned depth-first, starting right after lost+found
	aInode := v.lookup(ext4.RootInodeNo, "A")
	require.Equal(t, uint32(12), aInode)
	bInode := v.lookup(aInode, "B")
	require.Equal(t, uint32(13), bInode)
	fInode := v.lookup(bInode, "F.TXT")
	require.Equal(t, uint32(14), fInode)

	// '..' entries point back at the parent
	require.Equal(t, aInode, v.lookup(bInode, ".."))
	require.Equal(t, uint32(ext4.RootInodeNo), v.lookup(aInode, ".."))

	// link counts: two dot links per directory plus one per subdirectory
	require.Equal(t, uint16(4), v.inode(ext4.RootInodeNo).linksCount) // ., .., lost+found, a
	require.Equal(t, uint16(3), v.inode(aInode).linksCount)           // entry in root, ., b's ..
	require.Equal(t, uint16(2), v.inode(bInode).linksCount)
	require.Equal(t, uint16(1), v.inode(fInode).linksCount)

	gd := v.groupDescriptor(0)
	require.Equal(t, uint32(4), lohi.U32(gd.UsedDirsCountLo, gd.UsedDirsCountHi))
}

func TestConvertLongFileName(t *testing.T) {
	img := newTestImage(t)

	longName := strings.Repeat("ab", 48) + ".txt" // 100 characters, 8 LFN slots
	img.Chain(60)
	img.AddLongNameDentry(2, longName, "AB~1    TXT", fattest.DentryOpts{FirstIndex: 60, Size: 1})

	data := convertImage(t, img)
	v := newExt4View(t, data)

	// the ext4 side holds a single entry with the full UTF-8 name
	require.Equal(t, []string{".", "..", "lost+found", longName}, v.names(ext4.RootInodeNo))
}

func TestConvertWritesBackupCopies(t *testing.T) {
	img := fattest.New(12<<20, testClusterSize, "BACKUP")
	data := convertImage(t, img)
	v := newExt4View(t, data)

	require.Equal(t, uint64(2), v.sb.BlockGroupCount())
	require.Equal(t, [2]uint32{1, 0}, v.sb.BackupBgs)

	primarySb := data[1024 : 1024+1024]
	backupStart := uint64(v.sb.BlockGroupStartCluster(1)) * v.blockSize()
	backupSb := data[backupStart : backupStart+1024]
	require.Equal(t, primarySb, backupSb)

	gdtLen := v.sb.BlockGroupCount() * 64
	primaryGdt := data[v.gdtOffset(0) : v.gdtOffset(0)+gdtLen]
	backupGdt := data[v.gdtOffset(1) : v.gdtOffset(1)+gdtLen]
	require.Equal(t, primaryGdt, backupGdt)
}

func TestConvertRejectsNonFat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	err := Convert(path, Options{DisableLog: true})
	require.ErrorIs(t, err, fat.ErrInvalidInput)
}
