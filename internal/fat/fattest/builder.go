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

// Package fattest builds small, consistent FAT32 images in memory for
// tests. The geometry is minimal but valid: one boot sector, two FAT
// copies, and a cluster-aligned data region whose first cluster holds the
// root directory.
package fattest

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

const (
	bytesPerSector = 512
	endOfChain     = 0x0FFFFFFF
	rootFatIndex   = 2
)

// Builder assembles a FAT32 image.
type Builder struct {
	data        []byte
	clusterSize int

	reservedSectors int
	sectorsPerFat   int

	// dirOffsets tracks the next free dentry slot of each directory,
	// keyed by the directory's first FAT index.
	dirOffsets map[uint32]int
}

// New creates an empty FAT32 image of totalSize bytes with the given
// cluster size and an empty root directory.
func New(totalSize, clusterSize int, label string) *Builder {
	if totalSize%clusterSize != 0 {
		panic("image size is not a multiple of the cluster size")
	}
	sectorsPerCluster := clusterSize / bytesPerSector
	totalSectors := totalSize / bytesPerSector
	totalClusters := totalSize / clusterSize

	// enough FAT cells for every cluster of the image (cells 0 and 1 are
	// reserved)
	fatBytes := (totalClusters + 2) * 4
	sectorsPerFat := (fatBytes + bytesPerSector - 1) / bytesPerSector

	// pad the reserved area so that the data region is cluster-aligned
	reserved := 32
	for (reserved+2*sectorsPerFat)%sectorsPerCluster != 0 {
		reserved++
	}

	b := &Builder{
		data:            make([]byte, totalSize),
		clusterSize:     clusterSize,
		reservedSectors: reserved,
		sectorsPerFat:   sectorsPerFat,
		dirOffsets:      map[uint32]int{},
	}
	b.writeBootSector(totalSectors, sectorsPerCluster, label)

	// media descriptor cell, reserved cell, root directory chain end
	b.SetCell(0, 0x0FFFFFF8)
	b.SetCell(1, 0xFFFFFFFF)
	b.SetCell(rootFatIndex, endOfChain)
	return b
}

func (b *Builder) writeBootSector(totalSectors, sectorsPerCluster int, label string) {
	bs := b.data[:bytesPerSector]
	copy(bs[0:], []byte{0xEB, 0x58, 0x90}) // jump
	copy(bs[3:], "MSWIN4.1")               // OEM name
	binary.LittleEndian.PutUint16(bs[11:], bytesPerSector)
	bs[13] = byte(sectorsPerCluster)
	binary.LittleEndian.PutUint16(bs[14:], uint16(b.reservedSectors))
	bs[16] = 2 // FAT count
	binary.LittleEndian.PutUint32(bs[32:], uint32(totalSectors))
	binary.LittleEndian.PutUint32(bs[36:], uint32(b.sectorsPerFat))
	binary.LittleEndian.PutUint32(bs[44:], rootFatIndex)
	binary.LittleEndian.PutUint16(bs[48:], 1) // FS info sector
	binary.LittleEndian.PutUint16(bs[50:], 6) // backup boot sector
	bs[64] = 0x80                             // drive number
	bs[66] = 0x29                             // extended boot signature
	binary.LittleEndian.PutUint32(bs[67:], 0x1234ABCD)
	labelField := fmt.Sprintf("%-11s", label)
	copy(bs[71:], labelField[:11])
	copy(bs[82:], "FAT32   ")
	binary.LittleEndian.PutUint16(bs[510:], 0xAA55)
}

// Bytes returns the image. The slice is shared with the builder.
func (b *Builder) Bytes() []byte {
	return b.data
}

func (b *Builder) ClusterSize() int {
	return b.clusterSize
}

// FirstDataCluster returns the block-grid index of the data region's first
// cluster (the root directory).
func (b *Builder) FirstDataCluster() uint32 {
	return uint32(b.reservedSectors+2*b.sectorsPerFat) * bytesPerSector / uint32(b.clusterSize)
}

// ClusterIdx translates a FAT index into a block-grid cluster index.
func (b *Builder) ClusterIdx(fatIdx uint32) uint32 {
	return fatIdx - rootFatIndex + b.FirstDataCluster()
}

// SetCell stores a raw value into a FAT cell, in both FAT copies.
func (b *Builder) SetCell(idx, value uint32) {
	for copyNo := 0; copyNo < 2; copyNo++ {
		off := (b.reservedSectors+copyNo*b.sectorsPerFat)*bytesPerSector + int(idx)*4
		binary.LittleEndian.PutUint32(b.data[off:], value)
	}
}

// Chain links the given FAT indices into one cluster chain terminated with
// an end-of-chain sentinel.
func (b *Builder) Chain(indices ...uint32) {
	for i := 0; i < len(indices)-1; i++ {
		b.SetCell(indices[i], indices[i+1])
	}
	b.SetCell(indices[len(indices)-1], endOfChain)
}

// Cluster returns the data bytes of the cluster at the given FAT index.
func (b *Builder) Cluster(fatIdx uint32) []byte {
	start := int(b.ClusterIdx(fatIdx)) * b.clusterSize
	return b.data[start : start+b.clusterSize]
}

// WriteFileData fills the clusters chained from firstFatIdx with content.
func (b *Builder) WriteFileData(firstFatIdx uint32, content []byte) {
	remaining := content
	idx := firstFatIdx
	for len(remaining) > 0 {
		n := copy(b.Cluster(idx), remaining)
		remaining = remaining[n:]
		if len(remaining) > 0 {
			idx = b.cell(idx)
		}
	}
}

func (b *Builder) cell(idx uint32) uint32 {
	off := b.reservedSectors*bytesPerSector + int(idx)*4
	return binary.LittleEndian.Uint32(b.data[off:])
}

// Date packs a calendar date into the FAT on-disk format.
func Date(year, month, day int) uint16 {
	return uint16((year-1980)<<9 | month<<5 | day)
}

// Time packs a time of day into the FAT on-disk format.
func Time(hour, minute, second int) uint16 {
	return uint16(hour<<11 | minute<<5 | second/2)
}

// DentryOpts carries the optional fields of a directory slot.
type DentryOpts struct {
	Attrs      byte
	FirstIndex uint32
	Size       uint32
	Date       uint16
	Time       uint16
}

// AddDentry appends a short dentry to the directory table starting at
// dirFatIdx. shortName must be the raw 11-byte "NAME    EXT" form.
func (b *Builder) AddDentry(dirFatIdx uint32, shortName string, opts DentryOpts) {
	if len(shortName) != 11 {
		panic(fmt.Sprintf("short name %q is not 11 bytes", shortName))
	}

	slot := make([]byte, 32)
	copy(slot, shortName)
	slot[11] = opts.Attrs
	binary.LittleEndian.PutUint16(slot[14:], opts.Time) // creation time
	binary.LittleEndian.PutUint16(slot[16:], opts.Date) // creation date
	binary.LittleEndian.PutUint16(slot[18:], opts.Date) // access date
	binary.LittleEndian.PutUint16(slot[20:], uint16(opts.FirstIndex>>16))
	binary.LittleEndian.PutUint16(slot[22:], opts.Time) // modification time
	binary.LittleEndian.PutUint16(slot[24:], opts.Date) // modification date
	binary.LittleEndian.PutUint16(slot[26:], uint16(opts.FirstIndex))
	binary.LittleEndian.PutUint32(slot[28:], opts.Size)
	b.appendSlot(dirFatIdx, slot)
}

// AddLongNameDentry appends the LFN slots of longName followed by a short
// dentry. The slots appear in reverse order with descending sequence
// numbers, the way they do on disk.
func (b *Builder) AddLongNameDentry(dirFatIdx uint32, longName, shortName string, opts DentryOpts) {
	units := utf16.Encode([]rune(longName))
	// NUL terminator plus 0xFFFF padding to a multiple of 13 units
	units = append(units, 0)
	for len(units)%13 != 0 {
		units = append(units, 0xFFFF)
	}

	slotCount := len(units) / 13
	for i := slotCount - 1; i >= 0; i-- {
		slot := make([]byte, 32)
		seq := byte(i + 1)
		if i == slotCount-1 {
			seq |= 0x40
		}
		slot[0] = seq
		slot[11] = 0x0F
		chunk := units[i*13 : (i+1)*13]
		putUnits := func(start, from, to int) {
			for j := from; j < to; j++ {
				binary.LittleEndian.PutUint16(slot[start+(j-from)*2:], chunk[j])
			}
		}
		putUnits(1, 0, 5)
		putUnits(14, 5, 11)
		putUnits(28, 11, 13)
		b.appendSlot(dirFatIdx, slot)
	}
	b.AddDentry(dirFatIdx, shortName, opts)
}

func (b *Builder) appendSlot(dirFatIdx uint32, slot []byte) {
	off := b.dirOffsets[dirFatIdx]
	if off+32 > b.clusterSize {
		panic("directory table exceeds one cluster; chain more clusters in the test setup")
	}
	copy(b.Cluster(dirFatIdx)[off:], slot)
	b.dirOffsets[dirFatIdx] = off + 32
}
